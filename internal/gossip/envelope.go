// Package gossip implements the §4.7 wire envelope every outbound operation
// travels in, its inbound decode path (try sealed-sender first, fall back to
// a bare envelope), and the collaborator interfaces bootstrap wires to a
// transport — which is out of scope per §1 and is satisfied only by
// in-memory fakes in this module's own tests.
package gossip

import (
	"crypto/ed25519"

	"github.com/fxamacker/cbor/v2"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/oplog"
	"github.com/joindelta/delta/internal/sealedsender"
	"github.com/joindelta/delta/internal/topic"
)

// Envelope is the CBOR wrapper every gossip packet that is not sealed-sender
// or onion-wrapped carries.
type Envelope struct {
	LogID      oplog.LogID `cbor:"log_id"`
	HeaderBytes []byte     `cbor:"header_bytes"`
	BodyBytes  []byte      `cbor:"body_bytes"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Encode produces the canonical CBOR encoding of env.
func (env Envelope) Encode() ([]byte, error) {
	b, err := encMode.Marshal(env)
	if err != nil {
		return nil, errs.WrapPersistence(err, "encode gossip envelope")
	}
	return b, nil
}

// DecodeEnvelope parses a bare (non-sealed) gossip envelope.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return Envelope{}, errs.InvalidInput("malformed gossip envelope: %v", err)
	}
	return env, nil
}

// WrapOp builds the gossip envelope for an already-signed operation.
func WrapOp(op oplog.Operation) (Envelope, error) {
	headerBytes, err := op.Header.Encode()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{LogID: op.Header.LogID, HeaderBytes: headerBytes, BodyBytes: op.Body}, nil
}

// ToOperation reconstructs the signed operation an envelope describes.
func (env Envelope) ToOperation() (oplog.Operation, error) {
	header, err := oplog.DecodeHeader(env.HeaderBytes)
	if err != nil {
		return oplog.Operation{}, err
	}
	return oplog.Operation{Header: header, Body: env.BodyBytes}, nil
}

// Inbound is the decoded result of receiving bytes on a topic: the
// reconstructed operation, and — if the packet arrived sealed — the
// authenticated sender asserted by the envelope (callers must check this
// against membership before trusting it).
type Inbound struct {
	Op            oplog.Operation
	SealedSender  ed25519.PublicKey // nil if the packet was not sealed
}

// Decode implements §4.7's inbound path: try to open the bytes as a
// sealed-sender envelope first; if that fails because the packet was never
// sealed for us, fall back to decoding a bare envelope directly.
func Decode(raw []byte, recipientPriv ed25519.PrivateKey) (Inbound, error) {
	if looksSealed(raw) {
		sender, inner, err := sealedsender.Open(raw, recipientPriv)
		if err == nil {
			env, decErr := DecodeEnvelope(inner)
			if decErr != nil {
				return Inbound{}, decErr
			}
			op, opErr := env.ToOperation()
			if opErr != nil {
				return Inbound{}, opErr
			}
			return Inbound{Op: op, SealedSender: sender}, nil
		}
		// Not addressed to us (or corrupt) — fall through and try it as a
		// bare envelope. A packet that is neither is not dropped silently:
		// the bare-envelope decode error below is returned.
	}
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return Inbound{}, err
	}
	op, err := env.ToOperation()
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Op: op}, nil
}

// looksSealed reports whether raw is long enough and version-tagged to be
// worth attempting as a sealed-sender envelope, avoiding a wasted AEAD
// attempt on packets that are obviously bare CBOR.
func looksSealed(raw []byte) bool {
	const minSealedLen = 1 + 32 + 24 + 16 // version + eph pub + nonce + aead tag
	return len(raw) >= minSealedLen && raw[0] == 0x01
}

// Publisher is the outbound transport collaborator: publish best-effort on a
// topic. Per §5, failures are logged, never surfaced, since the op is
// already durable locally and will resync.
type Publisher interface {
	Publish(t topic.ID, raw []byte) error
}

// Subscriber delivers inbound bytes for topics the caller has subscribed to.
type Subscriber interface {
	Subscribe(t topic.ID) (<-chan []byte, func(), error)
}

// Discovery is the collaborator for announcing on and reading from discovery
// topics. Bootstrap stores it on the Handle; SearchPublicOrgs does not read
// from it and answers only from the local read model, with no deadline.
type Discovery interface {
	Announce(t topic.ID, raw []byte) error
	Results(t topic.ID) <-chan []byte
}
