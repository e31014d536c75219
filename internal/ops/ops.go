// Package ops defines the CBOR body schema for each oplog.LogID: the typed
// payload a projector handler decodes once it has dispatched on log_id.
//
// Where a single log carries more than one kind of mutation (org
// create/update, room create/rename/archive, membership add/remove/change),
// the body is one struct with a Kind discriminator rather than one schema
// per operation, mirroring the way the encryption package already
// discriminates control messages with ControlKind. This keeps one log_id
// mapped to exactly one wire schema, which is what Heights/Range assume.
package ops

import "github.com/joindelta/delta/internal/encryption"

// ProfileOp is the body of a profile log operation. PreKeyBundle is present
// only when the author is refreshing their published pre-keys alongside a
// profile edit; it is optional because most profile edits don't touch keys.
type ProfileOp struct {
	Username     string
	AvatarBlobID string
	Bio          string
	AvailableFor []string
	IsPublic     bool
	PreKeyBundle []encryption.PreKeyPublic `cbor:",omitempty"`
}

// KeyBundleOp is the body of a key_bundle log operation: a standalone
// pre-key republish, independent of any profile edit.
type KeyBundleOp struct {
	Bundle []encryption.PreKeyPublic
}

// OrgOpKind discriminates the two mutations the org log carries.
type OrgOpKind string

const (
	OrgCreate OrgOpKind = "create"
	OrgUpdate OrgOpKind = "update"
)

// OrgOp is the body of an org log operation. On OrgCreate, org_id is the
// operation hash and the author auto-enrolls as Manage. On OrgUpdate,
// TargetOrgID names the org being edited and only non-empty string fields
// apply; IsPublic is always applied.
type OrgOp struct {
	Kind         OrgOpKind
	TargetOrgID  string `cbor:",omitempty"`
	Name         string
	TypeLabel    string
	Description  string
	AvatarBlobID string
	CoverBlobID  string
	IsPublic     bool
}

// RoomOpKind discriminates the mutations the room log carries.
type RoomOpKind string

const (
	RoomCreate    RoomOpKind = "create"
	RoomRename    RoomOpKind = "rename"
	RoomArchive   RoomOpKind = "archive"
	RoomUnarchive RoomOpKind = "unarchive"
	RoomDelete    RoomOpKind = "delete"
)

// RoomOp is the body of a room log operation. On RoomCreate, room_id is the
// operation hash. Every other kind targets TargetRoomID.
type RoomOp struct {
	Kind         RoomOpKind
	TargetRoomID string `cbor:",omitempty"`
	OrgID        string
	Name         string `cbor:",omitempty"`
}

// MessageContentType names the payload shape carried in a message op.
type MessageContentType string

const (
	ContentText  MessageContentType = "text"
	ContentBlob  MessageContentType = "blob"
	ContentEmbed MessageContentType = "embed"
)

// MessageOpKind discriminates the mutations the message log carries.
type MessageOpKind string

const (
	MessageCreate MessageOpKind = "create"
	MessageDelete MessageOpKind = "delete"
)

// MessageOp is the body of a message log operation. On MessageCreate,
// message_id is the operation hash and exactly one of RoomID/DMThreadID is
// set. On MessageDelete, TargetMessageID names the message whose is_deleted
// flag toggles on.
type MessageOp struct {
	Kind            MessageOpKind
	TargetMessageID string `cbor:",omitempty"`
	RoomID          string `cbor:",omitempty"`
	DMThreadID      string `cbor:",omitempty"`
	ContentType     MessageContentType
	Text            string   `cbor:",omitempty"`
	BlobID          string   `cbor:",omitempty"`
	EmbedURL        string   `cbor:",omitempty"`
	Mentions        []string `cbor:",omitempty"`
	ReplyTo         string   `cbor:",omitempty"`
}

// ReactionOpKind discriminates the mutations the reaction log carries.
type ReactionOpKind string

const (
	ReactionAdd    ReactionOpKind = "add"
	ReactionRemove ReactionOpKind = "remove"
)

// ReactionOp is the body of a reaction log operation.
type ReactionOp struct {
	Kind      ReactionOpKind
	MessageID string
	Emoji     string
}

// DMThreadOp is the body of a dm_thread log operation: thread_id is the
// operation hash, initiator_key is the author.
type DMThreadOp struct {
	RecipientKey string
}

// MembershipOpKind discriminates the mutations the membership log carries.
type MembershipOpKind string

const (
	MembershipAdd    MembershipOpKind = "add"
	MembershipRemove MembershipOpKind = "remove"
	MembershipChange MembershipOpKind = "change"
)

// MembershipOp is the body of a membership log operation, authored by a
// caller holding Manage over OrgID (enforced before the op is published,
// not by the projector, which only applies it).
type MembershipOp struct {
	Kind      MembershipOpKind
	OrgID     string
	TargetKey string
	Level     string `cbor:",omitempty"`
}
