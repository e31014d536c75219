// Package oplog implements the per-(author, log_id) append-only signed
// operation log: the header codec, signing/verification, and the durable
// store with its pending-backlink buffer.
package oplog

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/joindelta/delta/internal/errs"
)

// LogID names one of the logical per-author streams. It is a plain string
// rather than an enum so the projector can dispatch on it without a central
// registry, and so a deployment can add a new stream without touching this
// package.
type LogID string

const (
	LogProfile    LogID = "profile"
	LogOrg        LogID = "org"
	LogRoom       LogID = "room"
	LogMessage    LogID = "message"
	LogReaction   LogID = "reaction"
	LogDMThread   LogID = "dm_thread"
	LogKeyBundle  LogID = "key_bundle"
	LogEncCtrl    LogID = "enc_ctrl"
	LogEncDirect  LogID = "enc_direct"
	LogMembership LogID = "membership"
)

// Hash is a content hash: either an operation hash or a payload hash.
type Hash [32]byte

func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func hashBytes(b []byte) Hash {
	var out Hash
	sum := blake3.Sum256(b)
	copy(out[:], sum[:])
	return out
}

const wireVersion = 1

// Header is the canonical, signed envelope around an operation's body. It
// carries the field list in spec.md §6 (version, public_key, signature,
// payload_size, payload_hash, timestamp, seq_num, backlink, previous and
// extensions) plus the log_id the operation belongs to. `Previous` carries the same hash as `Backlink`
// in this single-writer-per-log model — it exists on the wire for
// compatibility with the multi-writer DAG encoding this format is modeled
// on, where a node's "previous" set can contain more than one tip.
type Header struct {
	Version     uint8             `cbor:"1,keyasint"`
	PublicKey   []byte            `cbor:"2,keyasint"`
	LogID       LogID             `cbor:"3,keyasint"`
	SeqNum      uint64            `cbor:"4,keyasint"`
	Backlink    *Hash             `cbor:"5,keyasint"`
	Previous    *Hash             `cbor:"6,keyasint"`
	Timestamp   int64             `cbor:"7,keyasint"`
	PayloadHash Hash              `cbor:"8,keyasint"`
	PayloadSize uint64            `cbor:"9,keyasint"`
	Extensions  map[string][]byte `cbor:"10,keyasint,omitempty"`
	Signature   []byte            `cbor:"11,keyasint"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// signedBytes returns the canonical CBOR encoding of every header field
// except Signature: the bytes an author signs and a verifier checks against.
func (h Header) signedBytes() ([]byte, error) {
	cp := h
	cp.Signature = nil
	b, err := encMode.Marshal(cp)
	if err != nil {
		return nil, errs.WrapCrypto(err, "encode header for signing")
	}
	return b, nil
}

// Encode returns the canonical binary encoding of the full, signed header —
// the representation hashed to produce the operation's hash and the bytes
// shipped as `header_bytes` in a gossip envelope.
func (h Header) Encode() ([]byte, error) {
	b, err := encMode.Marshal(h)
	if err != nil {
		return nil, errs.WrapCrypto(err, "encode header")
	}
	return b, nil
}

// DecodeHeader parses a canonical header encoding.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if err := cbor.Unmarshal(b, &h); err != nil {
		return Header{}, errs.InvalidInput("malformed operation header: %v", err)
	}
	return h, nil
}

// Verify checks h.Signature against h.PublicKey over the signed fields.
func (h Header) Verify() bool {
	if len(h.PublicKey) != ed25519.PublicKeySize || len(h.Signature) != ed25519.SignatureSize {
		return false
	}
	msg, err := h.signedBytes()
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(h.PublicKey), msg, h.Signature)
}

// Hash returns the operation hash: BLAKE3 over the full encoded (signed)
// header. Because the signature and public key are part of the hashed
// bytes, identical payloads signed by different authors — or the same
// author at a different seq — hash differently.
func (h Header) Hash() (Hash, error) {
	enc, err := h.Encode()
	if err != nil {
		return Hash{}, err
	}
	return hashBytes(enc), nil
}

// Operation is an immutable, signed record ready for insertion into the
// store or the wire.
type Operation struct {
	Header Header
	Body   []byte
}

// Hash returns the operation's content hash.
func (op Operation) Hash() (Hash, error) { return op.Header.Hash() }

// New builds and signs a fresh operation for logID at seqNum, chaining from
// backlink (nil iff seqNum == 0), with body as its CBOR-encoded payload.
func New(priv ed25519.PrivateKey, logID LogID, seqNum uint64, backlink *Hash, timestampMicros int64, body []byte) (Operation, error) {
	if (seqNum == 0) != (backlink == nil) {
		return Operation{}, errs.InvalidInput("seq_num is 0 iff backlink is absent (seq=%d, backlink-present=%v)", seqNum, backlink != nil)
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return Operation{}, errs.Crypto("private key has no ed25519 public counterpart")
	}
	h := Header{
		Version:     wireVersion,
		PublicKey:   append([]byte(nil), pub...),
		LogID:       logID,
		SeqNum:      seqNum,
		Backlink:    backlink,
		Previous:    backlink,
		Timestamp:   timestampMicros,
		PayloadHash: hashBytes(body),
		PayloadSize: uint64(len(body)),
	}
	msg, err := h.signedBytes()
	if err != nil {
		return Operation{}, err
	}
	h.Signature = ed25519.Sign(priv, msg)
	return Operation{Header: h, Body: body}, nil
}
