// Package sealedsender implements the §4.3 sealed-sender envelope: an
// authenticated-to-recipient, anonymous-to-relay wrapper for DM gossip
// packets.
//
// Wire layout: VERSION(1) | ephemeral_x25519_pub(32) | nonce(24) | ciphertext
// Plaintext:   sender_ed25519_pub(32) || inner_op_bytes
package sealedsender

import (
	"crypto/ed25519"
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/keys"
)

const (
	version   = 0x01
	hkdfInfo  = "delta:sealed-sender:v1"
	headerLen = 1 + 32 + 24 // version + ephemeral pub + nonce
)

// Seal wraps inner (the already-encoded gossip envelope bytes) so that only
// recipient can open it and learn sender's identity; any relay in between
// sees only opaque ciphertext.
func Seal(inner []byte, sender ed25519.PrivateKey, recipient ed25519.PublicKey) ([]byte, error) {
	senderPub, ok := sender.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errs.Crypto("sender key has no ed25519 public counterpart")
	}

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

	plaintext := make([]byte, 0, len(senderPub)+len(inner))
	plaintext = append(plaintext, senderPub...)
	plaintext = append(plaintext, inner...)
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, headerLen+len(ciphertext))
	out = append(out, version)
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Open unseals envelope using recipientPriv's Ed25519 identity. It returns
// the authenticated sender's public key and the inner bytes. Callers must
// treat senderPub as an assertion to be checked against membership — sealing
// only proves the sender knew the recipient's key, not that they are allowed
// to speak.
func Open(envelope []byte, recipientPriv ed25519.PrivateKey) (senderPub ed25519.PublicKey, inner []byte, err error) {
	if len(envelope) < headerLen+chacha20poly1305.Overhead {
		return nil, nil, errs.InvalidInput("sealed-sender envelope too short")
	}
	if envelope[0] != version {
		return nil, nil, errs.InvalidInput("unsupported sealed-sender version %d", envelope[0])
	}
	ephPub := envelope[1:33]
	nonce := envelope[33:57]
	ciphertext := envelope[57:]

	x25519Priv := keys.X25519PrivateFromEd25519(recipientPriv)
	shared, err := keys.ECDH(x25519Priv, ephPub)
	if err != nil {
		return nil, nil, err
	}
	key, err := keys.HKDF(shared, ephPub, hkdfInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, errs.WrapCrypto(err, "construct xchacha20poly1305 aead")
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, nil, errs.Crypto("sealed-sender envelope failed to decrypt")
	}
	if len(plaintext) < ed25519.PublicKeySize {
		return nil, nil, errs.InvalidInput("sealed-sender plaintext too short")
	}
	sender := ed25519.PublicKey(append([]byte(nil), plaintext[:ed25519.PublicKeySize]...))
	payload := append([]byte(nil), plaintext[ed25519.PublicKeySize:]...)
	return sender, payload, nil
}
