package auth

import (
	"crypto/ed25519"

	"github.com/zeebo/blake3"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/keys"
)

// Membership is the per-organization mapping member_key -> access_level
// described in §4.5. It is an in-memory view; callers are expected to
// project it from membership ops the same way readmodel does, or to hold it
// transiently while validating a mutation before emitting the corresponding
// operation.
type Membership map[string]Level

// Get returns the caller's level, or Pull if they are not a member at all —
// the lattice's bottom, which has no permissions beyond what an
// unauthenticated pull-replication peer gets.
func (m Membership) Get(memberHex string) Level {
	if lvl, ok := m[memberHex]; ok {
		return lvl
	}
	return Pull
}

// MutationHash binds an authorized mutation to a stable operation hash seed,
// mirroring the "add" operation hash binding described in §4.5: a hash over
// ("add" || key || level).
func MutationHash(action, memberHex string, level Level) [32]byte {
	h := blake3.New()
	_, _ = h.Write([]byte(action))
	_, _ = h.Write([]byte(memberHex))
	_, _ = h.Write([]byte(level.String()))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AddMember authorizes caller (who must hold Manage) to add member at level.
// It returns the mutation hash to bind into the resulting membership
// operation.
func AddMember(m Membership, callerHex string, memberHex string, level Level) ([32]byte, error) {
	if !m.Get(callerHex).HasPermission(Manage) {
		return [32]byte{}, errs.Unauthorized("caller %s lacks manage permission", callerHex)
	}
	m[memberHex] = level
	return MutationHash("add", memberHex, level), nil
}

// RemoveMember authorizes caller to remove member. Callers cannot remove
// themselves — self-protection against an irrecoverable lockout where the
// last manager removes their own access.
func RemoveMember(m Membership, callerHex string, memberHex string) ([32]byte, error) {
	if !m.Get(callerHex).HasPermission(Manage) {
		return [32]byte{}, errs.Unauthorized("caller %s lacks manage permission", callerHex)
	}
	if callerHex == memberHex {
		return [32]byte{}, errs.Unauthorized("caller cannot remove themselves")
	}
	level := m.Get(memberHex)
	delete(m, memberHex)
	return MutationHash("remove", memberHex, level), nil
}

// ChangePermission authorizes caller to overwrite member's access level.
func ChangePermission(m Membership, callerHex string, memberHex string, level Level) ([32]byte, error) {
	if !m.Get(callerHex).HasPermission(Manage) {
		return [32]byte{}, errs.Unauthorized("caller %s lacks manage permission", callerHex)
	}
	m[memberHex] = level
	return MutationHash("change", memberHex, level), nil
}

// PublicKeyHex is a convenience for callers building hex keys from raw
// Ed25519 identities.
func PublicKeyHex(pub ed25519.PublicKey) string { return keys.KeyPair{Public: pub}.PublicHex() }
