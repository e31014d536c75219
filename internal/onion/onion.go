// Package onion implements the §4.4 onion codec: layered per-hop
// encryption with typed Forward/Deliver inner payloads, built inside-out and
// peeled one layer per hop.
package onion

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/keys"
)

const (
	version  = 0x01
	hkdfInfo = "delta:onion:v1"

	tagForward = 0x01
	tagDeliver = 0x02
)

// Hop is one relay on the route: its Ed25519 identity (what we encrypt to)
// and the URL its predecessor should use to reach it.
type Hop struct {
	URL string
	Pub ed25519.PublicKey
}

// Forward is the payload a non-terminal hop receives after peeling its
// layer: the URL of the next hop and the still-encrypted inner packet.
type Forward struct {
	NextHopURL string
	Inner      []byte
}

// Deliver is the payload the terminal hop receives: the topic to publish on
// and the plaintext operation bytes.
type Deliver struct {
	TopicID [32]byte
	Op      []byte
}

func encodeForward(f Forward) []byte {
	url := []byte(f.NextHopURL)
	out := make([]byte, 1+2+len(url)+len(f.Inner))
	out[0] = tagForward
	binary.BigEndian.PutUint16(out[1:3], uint16(len(url)))
	copy(out[3:], url)
	copy(out[3+len(url):], f.Inner)
	return out
}

func encodeDeliver(d Deliver) []byte {
	out := make([]byte, 1+32+len(d.Op))
	out[0] = tagDeliver
	copy(out[1:33], d.TopicID[:])
	copy(out[33:], d.Op)
	return out
}

// Peeled is the decoded result of peeling one onion layer: exactly one of
// Forward or Deliver is non-nil.
type Peeled struct {
	Forward *Forward
	Deliver *Deliver
}

func decodePayload(plaintext []byte) (Peeled, error) {
	if len(plaintext) < 1 {
		return Peeled{}, errs.InvalidInput("onion payload empty")
	}
	switch plaintext[0] {
	case tagForward:
		if len(plaintext) < 3 {
			return Peeled{}, errs.InvalidInput("onion forward payload truncated")
		}
		urlLen := int(binary.BigEndian.Uint16(plaintext[1:3]))
		if len(plaintext) < 3+urlLen {
			return Peeled{}, errs.InvalidInput("onion forward payload url truncated")
		}
		url := string(plaintext[3 : 3+urlLen])
		inner := append([]byte(nil), plaintext[3+urlLen:]...)
		return Peeled{Forward: &Forward{NextHopURL: url, Inner: inner}}, nil
	case tagDeliver:
		if len(plaintext) < 1+32 {
			return Peeled{}, errs.InvalidInput("onion deliver payload truncated")
		}
		var topic [32]byte
		copy(topic[:], plaintext[1:33])
		op := append([]byte(nil), plaintext[33:]...)
		return Peeled{Deliver: &Deliver{TopicID: topic, Op: op}}, nil
	default:
		return Peeled{}, errs.InvalidInput("unknown onion payload tag %d", plaintext[0])
	}
}

// Build constructs an outer packet addressed to hops[0] such that each
// hops[i] peels one layer and learns either Forward{hops[i+1].URL, inner}
// (for i < len(hops)-1) or Deliver{topicID, op} (for the last hop).
// Construction proceeds inside-out: the innermost layer is the Deliver
// payload encrypted to the last hop; each preceding layer wraps a Forward
// payload naming only the immediately next hop's URL, so a relay that peels
// its layer learns nothing about the route beyond that one URL.
func Build(hops []Hop, topicID [32]byte, op []byte) ([]byte, error) {
	if len(hops) == 0 {
		return nil, errs.InvalidInput("onion route must have at least one hop")
	}

	packet, err := sealLayer(encodeDeliver(Deliver{TopicID: topicID, Op: op}), hops[len(hops)-1].Pub)
	if err != nil {
		return nil, err
	}
	for i := len(hops) - 2; i >= 0; i-- {
		payload := encodeForward(Forward{NextHopURL: hops[i+1].URL, Inner: packet})
		packet, err = sealLayer(payload, hops[i].Pub)
		if err != nil {
			return nil, err
		}
	}
	return packet, nil
}

// Peel decrypts one onion layer addressed to recipientPriv and returns the
// typed payload inside.
func Peel(packet []byte, recipientPriv ed25519.PrivateKey) (Peeled, error) {
	plaintext, err := openLayer(packet, recipientPriv)
	if err != nil {
		return Peeled{}, err
	}
	return decodePayload(plaintext)
}

func sealLayer(plaintext []byte, recipient ed25519.PublicKey) ([]byte, error) {
	ephPub, ephPriv, err := keys.NewEphemeralX25519()
	if err != nil {
		return nil, err
	}
	recipientX25519, err := keys.X25519PublicFromEd25519(recipient)
	if err != nil {
		return nil, errs.WrapCrypto(err, "map recipient to x25519")
	}
	shared, err := keys.ECDH(ephPriv, recipientX25519)
	if err != nil {
		return nil, err
	}
	key, err := keys.HKDF(shared, ephPub, hkdfInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errs.WrapCrypto(err, "construct xchacha20poly1305 aead")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.WrapCrypto(err, "generate nonce")
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, 1+32+24+len(ciphertext))
	out = append(out, version)
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func openLayer(packet []byte, recipientPriv ed25519.PrivateKey) ([]byte, error) {
	const headerLen = 1 + 32 + 24
	if len(packet) < headerLen+chacha20poly1305.Overhead {
		return nil, errs.InvalidInput("onion packet too short")
	}
	if packet[0] != version {
		return nil, errs.InvalidInput("unsupported onion version %d", packet[0])
	}
	ephPub := packet[1:33]
	nonce := packet[33:57]
	ciphertext := packet[57:]

	x25519Priv := keys.X25519PrivateFromEd25519(recipientPriv)
	shared, err := keys.ECDH(x25519Priv, ephPub)
	if err != nil {
		return nil, err
	}
	key, err := keys.HKDF(shared, ephPub, hkdfInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errs.WrapCrypto(err, "construct xchacha20poly1305 aead")
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Crypto("onion layer failed to decrypt")
	}
	return plaintext, nil
}
