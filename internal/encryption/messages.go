package encryption

// ControlKind distinguishes the three shapes a DCGKA control message can
// take — mirrors the init/add/remove operations original_source models as
// distinct DeltaMessage/DeltaFsMessage control variants rather than one
// generic "mutation" message.
type ControlKind string

const (
	ControlInit   ControlKind = "init"
	ControlAdd    ControlKind = "add"
	ControlRemove ControlKind = "remove"
)

// DirectMessage welcomes one new member into a group: the group secret,
// wrapped so only the named recipient (holder of the pre-key PreKeyID) can
// open it.
type DirectMessage struct {
	Recipient    string
	PreKeyID     [32]byte
	EphemeralPub []byte
	Nonce        []byte
	Ciphertext   []byte // seals secretID(32) || secret(32)
}

// ControlMessage is the group-wide broadcast half of a membership mutation.
// For the message scheme it is first circulated as a pending proposal
// (Committed=false) and only takes effect once a quorum of Ack calls land;
// for the data scheme it is Committed on creation.
type ControlMessage struct {
	GroupID   string
	OpID      string
	Kind      ControlKind
	Actor     string
	Target    string // add/remove only
	Committed bool

	// Present only on a committed control message: the new generation's
	// secret, rekeyed to every continuing member and to the target being
	// added (via Directs).
	SecretID       GroupSecretID
	RekeyNonce     []byte
	RekeyCiphertext []byte // seals secretID(32) || secret(32), keyed off the prior secret
	Directs        []DirectMessage
}

// ApplicationMessage is one encrypted message body (§4.6's "send").
type ApplicationMessage struct {
	GroupID    string
	SecretID   GroupSecretID
	Generation uint64 // always 0 for the data scheme
	Nonce      []byte
	Ciphertext []byte
	SenderHex  string
}
