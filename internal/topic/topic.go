// Package topic derives the 32-byte pub/sub topic identifiers used by the
// gossip overlay and maintains the topic -> (author -> log_ids) registry the
// sync protocol consults when a peer subscribes to a topic.
package topic

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/joindelta/delta/internal/errs"
)

// ID is a 32-byte opaque topic identifier.
type ID [32]byte

func (t ID) Hex() string { return hex.EncodeToString(t[:]) }

const (
	prefixOrg      = "delta:org:"
	prefixRoom     = "delta:room:"
	prefixDM       = "delta:dm:"
	prefixDiscover = "delta:discover:"
)

func derive(prefix, scope string) ID {
	h := blake3.New()
	_, _ = h.Write([]byte(prefix))
	_, _ = h.Write([]byte(scope))
	var out ID
	copy(out[:], h.Sum(nil))
	return out
}

// Org derives the topic for an organization's gossip scope.
func Org(orgID string) ID { return derive(prefixOrg, orgID) }

// Room derives the topic for a room's gossip scope.
func Room(roomID string) ID { return derive(prefixRoom, roomID) }

// DM derives the topic for a direct-message thread between two peer
// identities (hex-encoded public keys). The pair is order-independent: both
// parties sort their hex identities before hashing so either can compute the
// same topic regardless of who initiates.
func DM(peerAHex, peerBHex string) ID {
	a, b := strings.ToLower(peerAHex), strings.ToLower(peerBHex)
	pair := []string{a, b}
	sort.Strings(pair)
	return derive(prefixDM, pair[0]+":"+pair[1])
}

// Discovery derives the topic for a named discovery scope (e.g. public org
// search). The name is lowercased first so differently-cased queries land on
// the same topic.
func Discovery(name string) ID {
	return derive(prefixDiscover, strings.ToLower(name))
}

// ParseHex parses a hex-encoded topic id, as accepted by ingest_op /
// get_topic_seq in the external interface.
func ParseHex(s string) (ID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, errs.InvalidInput("topic id is not valid hex: %v", err)
	}
	if len(raw) != 32 {
		return ID{}, errs.InvalidInput("topic id must be 32 bytes, got %d", len(raw))
	}
	var out ID
	copy(out[:], raw)
	return out, nil
}
