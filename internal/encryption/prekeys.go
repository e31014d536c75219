package encryption

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/keys"
)

// PreKeyPublic is the published half of a one-time X25519 pre-key, the unit
// a profile op's pre-key bundle (§4.2) carries.
type PreKeyPublic struct {
	ID  [32]byte
	Pub []byte
}

func (p PreKeyPublic) IDHex() string { return hex.EncodeToString(p.ID[:]) }

type preKeyRecord struct {
	PreKeyPublic
	Priv     []byte
	Consumed bool
}

// KeyManager owns one identity's own one-time pre-keys: it generates them
// for publishing and consumes them the moment an incoming welcome claims
// one, so a pre-key is never used to join more than one group. Per
// original_source/core/src/encryption.rs, pre-key consumption is a hard,
// persisted invariant rather than an in-memory-only bookkeeping detail.
type KeyManager struct {
	mu       sync.Mutex
	ownerHex string
	records  map[string]*preKeyRecord // id hex -> record
}

func NewKeyManager(ownerHex string) *KeyManager {
	return &KeyManager{ownerHex: ownerHex, records: make(map[string]*preKeyRecord)}
}

// OwnerHex returns the identity this key manager's pre-keys belong to.
func (km *KeyManager) OwnerHex() string { return km.ownerHex }

// HasAny reports whether this key manager has minted any pre-key yet,
// regardless of consumption — the check bootstrap uses to decide whether a
// freshly opened identity needs its first pre-key generated.
func (km *KeyManager) HasAny() bool {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.records) > 0
}

// Generate mints n fresh one-time pre-keys and returns their public halves
// for publishing in a profile op.
func (km *KeyManager) Generate(n int) ([]PreKeyPublic, error) {
	km.mu.Lock()
	defer km.mu.Unlock()
	out := make([]PreKeyPublic, 0, n)
	for i := 0; i < n; i++ {
		var id [32]byte
		if _, err := rand.Read(id[:]); err != nil {
			return nil, errs.WrapCrypto(err, "generate pre-key id")
		}
		pub, priv, err := keys.NewEphemeralX25519()
		if err != nil {
			return nil, err
		}
		rec := &preKeyRecord{PreKeyPublic: PreKeyPublic{ID: id, Pub: pub}, Priv: priv}
		km.records[rec.IDHex()] = rec
		out = append(out, rec.PreKeyPublic)
	}
	return out, nil
}

// ConsumePreKey marks the local pre-key idHex used and returns its private
// scalar so the caller can complete the ECDH that unwraps a welcome
// addressed to it. Consuming the same id twice is an error: a pre-key that
// has already been claimed must never be reused.
func (km *KeyManager) ConsumePreKey(idHex string) ([]byte, error) {
	km.mu.Lock()
	defer km.mu.Unlock()
	rec, ok := km.records[idHex]
	if !ok {
		return nil, errs.Crypto("dcgka: unknown local pre-key %s", idHex)
	}
	if rec.Consumed {
		return nil, errs.Crypto("dcgka: pre-key %s already consumed", idHex)
	}
	rec.Consumed = true
	return rec.Priv, nil
}

// snapshot/restore give the persistence layer a plain value to serialize,
// keeping CBOR encoding concerns out of this file.
type keyManagerSnapshot struct {
	OwnerHex string
	Records  []preKeyRecordSnapshot
}

type preKeyRecordSnapshot struct {
	ID       [32]byte
	Pub      []byte
	Priv     []byte
	Consumed bool
}

func (km *KeyManager) snapshot() keyManagerSnapshot {
	km.mu.Lock()
	defer km.mu.Unlock()
	out := keyManagerSnapshot{OwnerHex: km.ownerHex}
	for _, rec := range km.records {
		out.Records = append(out.Records, preKeyRecordSnapshot{
			ID: rec.ID, Pub: rec.Pub, Priv: rec.Priv, Consumed: rec.Consumed,
		})
	}
	return out
}

func keyManagerFromSnapshot(s keyManagerSnapshot) *KeyManager {
	km := NewKeyManager(s.OwnerHex)
	for _, rec := range s.Records {
		r := &preKeyRecord{PreKeyPublic: PreKeyPublic{ID: rec.ID, Pub: rec.Pub}, Priv: rec.Priv, Consumed: rec.Consumed}
		km.records[r.IDHex()] = r
	}
	return km
}
