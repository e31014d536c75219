package encryption

import (
	"sync"

	"github.com/joindelta/delta/internal/errs"
)

// KeyRegistry is the local cache of other peers' published pre-key bundles,
// learned from their profile ops (§4.2's projector handler adds each bundle
// here as it lands). Consuming an entry removes it, so the same published
// pre-key is never claimed by two different invites from this node.
type KeyRegistry struct {
	mu      sync.Mutex
	bundles map[string][]PreKeyPublic // peer hex -> unconsumed pre-keys, oldest first
}

func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{bundles: make(map[string][]PreKeyPublic)}
}

// Add appends newly learned pre-keys for peerHex.
func (kr *KeyRegistry) Add(peerHex string, bundle []PreKeyPublic) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.bundles[peerHex] = append(kr.bundles[peerHex], bundle...)
}

// ConsumePreKey pops the oldest unconsumed pre-key published by peerHex.
func (kr *KeyRegistry) ConsumePreKey(peerHex string) (PreKeyPublic, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	list := kr.bundles[peerHex]
	if len(list) == 0 {
		return PreKeyPublic{}, errs.Crypto("dcgka: no pre-key available for peer %s", peerHex)
	}
	kr.bundles[peerHex] = list[1:]
	return list[0], nil
}

type keyRegistrySnapshot struct {
	Bundles map[string][]PreKeyPublic
}

func (kr *KeyRegistry) snapshot() keyRegistrySnapshot {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	cp := make(map[string][]PreKeyPublic, len(kr.bundles))
	for k, v := range kr.bundles {
		cp[k] = append([]PreKeyPublic(nil), v...)
	}
	return keyRegistrySnapshot{Bundles: cp}
}

func keyRegistryFromSnapshot(s keyRegistrySnapshot) *KeyRegistry {
	kr := NewKeyRegistry()
	for k, v := range s.Bundles {
		kr.bundles[k] = append([]PreKeyPublic(nil), v...)
	}
	return kr
}
