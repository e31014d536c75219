// Package encryption wraps a decentralized continuous group key agreement
// (DCGKA) — §4.6 — for both room groups (a post-compromise-secure "data"
// scheme with a plain membership set) and DM threads (a forward-secure
// "message" scheme whose membership tracker additionally requires a quorum
// of acks before an admin action commits). It is grounded on
// original_source/core/src/encryption.rs, which builds the same two
// variants (DeltaDgm / DeltaAckedDgm) atop the real p2panda-encryption
// crate; this package reimplements the same shape against this module's own
// AEAD/KDF primitives rather than binding that crate.
package encryption

// Scheme tags which of the two group-state variants a GroupState holds.
// Modeled as a tagged sum with two concrete state types rather than an
// interface with virtual dispatch — each variant is used in a different
// context (rooms vs DMs) and never needs to be swapped at runtime for the
// same group.
type Scheme int

const (
	SchemeData Scheme = iota
	SchemeMessage
)

// GroupSecretID addresses one generation of a group's application secret.
type GroupSecretID [32]byte

// DataGroupState is the post-compromise-secure scheme used for rooms: an
// unordered member set, updated directly by add/remove.
type DataGroupState struct {
	GroupID  string
	LocalHex string
	Members  map[string]struct{}
	SecretID GroupSecretID
	Secret   []byte // 32-byte current application secret
}

func (s *DataGroupState) clone() *DataGroupState {
	cp := &DataGroupState{
		GroupID:  s.GroupID,
		LocalHex: s.LocalHex,
		Members:  make(map[string]struct{}, len(s.Members)),
		SecretID: s.SecretID,
		Secret:   append([]byte(nil), s.Secret...),
	}
	for k := range s.Members {
		cp.Members[k] = struct{}{}
	}
	return cp
}

// pendingMutation records an admin action awaiting quorum ack in the
// message scheme's membership tracker.
type pendingMutation struct {
	Actor  string
	Target string
	IsAdd  bool
}

// MessageGroupState is the forward-secure scheme used for DM threads: every
// send ratchets Generation, and membership mutations only commit once acked
// by a quorum of current members.
type MessageGroupState struct {
	GroupID        string
	LocalHex       string
	Members        map[string]struct{}
	Removed        map[string]struct{}
	PendingByOp    map[string]pendingMutation // op-id hex -> pending mutation
	AcksByOp       map[string]map[string]struct{}
	Generation     uint64
	SecretID       GroupSecretID
	Secret         []byte
}

func (s *MessageGroupState) clone() *MessageGroupState {
	cp := &MessageGroupState{
		GroupID:     s.GroupID,
		LocalHex:    s.LocalHex,
		Members:     make(map[string]struct{}, len(s.Members)),
		Removed:     make(map[string]struct{}, len(s.Removed)),
		PendingByOp: make(map[string]pendingMutation, len(s.PendingByOp)),
		AcksByOp:    make(map[string]map[string]struct{}, len(s.AcksByOp)),
		Generation:  s.Generation,
		SecretID:    s.SecretID,
		Secret:      append([]byte(nil), s.Secret...),
	}
	for k := range s.Members {
		cp.Members[k] = struct{}{}
	}
	for k := range s.Removed {
		cp.Removed[k] = struct{}{}
	}
	for k, v := range s.PendingByOp {
		cp.PendingByOp[k] = v
	}
	for k, acks := range s.AcksByOp {
		cp2 := make(map[string]struct{}, len(acks))
		for a := range acks {
			cp2[a] = struct{}{}
		}
		cp.AcksByOp[k] = cp2
	}
	return cp
}

// GroupState is the tagged sum a caller actually holds: exactly one of Data
// or Message is non-nil, selected once at group creation and never switched.
type GroupState struct {
	Scheme  Scheme
	Data    *DataGroupState
	Message *MessageGroupState
}

// GroupID returns the identifier shared by both variants.
func (g GroupState) GroupID() string {
	if g.Data != nil {
		return g.Data.GroupID
	}
	return g.Message.GroupID
}

// Members returns the current membership set shared by both variants.
func (g GroupState) Members() map[string]struct{} {
	if g.Data != nil {
		return g.Data.Members
	}
	return g.Message.Members
}

func (g GroupState) clone() GroupState {
	if g.Data != nil {
		return GroupState{Scheme: SchemeData, Data: g.Data.clone()}
	}
	return GroupState{Scheme: SchemeMessage, Message: g.Message.clone()}
}
