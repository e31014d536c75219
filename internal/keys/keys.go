// Package keys implements peer identity: BIP-39 mnemonic generation/import,
// Ed25519 keypair derivation, the Ed25519<->X25519 birational map used by
// the sealed-sender and onion codecs, and the HKDF-SHA256 derivation helper
// shared by every encryption layer in this module.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"io"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/joindelta/delta/internal/errs"
)

const (
	mnemonicEntropyBits = 256 // 24 words
	seedLen             = 32
)

// KeyPair is a peer's Ed25519 identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// PublicHex returns the 64-hex-character public key string used throughout
// the external interface (§6).
func (k KeyPair) PublicHex() string { return hex.EncodeToString(k.Public) }

// PrivateHex returns the 64-hex-character seed (not the 64-byte expanded
// private key) — the form the mnemonic round-trip test in §8 checks.
func (k KeyPair) PrivateHex() string { return hex.EncodeToString(k.Private.Seed()) }

// Generate produces a fresh 24-word mnemonic and its derived keypair.
func Generate() (words []string, kp KeyPair, err error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return nil, KeyPair{}, errs.WrapCrypto(err, "generate mnemonic entropy")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, KeyPair{}, errs.WrapCrypto(err, "encode mnemonic")
	}
	kp, err = FromMnemonic(mnemonic)
	if err != nil {
		return nil, KeyPair{}, err
	}
	return splitWords(mnemonic), kp, nil
}

// FromMnemonic derives the deterministic keypair for a 24-word mnemonic
// phrase. Per original_source/core/src/keys.rs, the private key is the first
// 32 bytes of the standard BIP-39 seed (empty passphrase), with no further
// derivation pass.
func FromMnemonic(mnemonic string) (KeyPair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return KeyPair{}, errs.InvalidInput("invalid mnemonic phrase")
	}
	bipSeed := bip39.NewSeed(mnemonic, "")
	seed := bipSeed[:seedLen]
	priv := ed25519.NewKeyFromSeed(seed)
	return KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// ImportFromWords joins the user-supplied word list and derives a keypair,
// matching import_from_mnemonic(words[]) in §6.
func ImportFromWords(words []string) (KeyPair, error) {
	return FromMnemonic(joinWords(words))
}

// ParsePrivateHex reconstructs a keypair from a 64-hex-character seed, the
// form init_core(private_key_hex, ...) accepts.
func ParsePrivateHex(seedHex string) (KeyPair, error) {
	raw, err := hex.DecodeString(seedHex)
	if err != nil {
		return KeyPair{}, errs.InvalidInput("private key is not valid hex: %v", err)
	}
	if len(raw) != ed25519.SeedSize {
		return KeyPair{}, errs.InvalidInput("private key must be %d bytes, got %d", ed25519.SeedSize, len(raw))
	}
	priv := ed25519.NewKeyFromSeed(raw)
	return KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// ParsePublicHex parses a 64-hex-character peer identity.
func ParsePublicHex(pubHex string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, errs.InvalidInput("public key is not valid hex: %v", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errs.InvalidInput("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// X25519PublicFromEd25519 converts a peer's Ed25519 public (Edwards) point
// into its Montgomery-form X25519 public key, per the birational map used by
// both the sealed-sender and onion codecs to address a recipient without
// that recipient needing to publish a separate X25519 key.
func X25519PublicFromEd25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, errs.InvalidInput("ed25519 public key must be %d bytes", ed25519.PublicKeySize)
	}
	var edY [32]byte
	copy(edY[:], pub)
	var x [32]byte
	if !edwardsYToMontgomeryX(&x, &edY) {
		return nil, errs.Crypto("invalid ed25519 point, cannot map to x25519")
	}
	return x[:], nil
}

// X25519PrivateFromEd25519 derives a peer's X25519 secret scalar from its
// Ed25519 seed via the clamped-SHA512 map of RFC 7748 §5 (the same
// derivation crypto/ed25519 uses internally to expand a seed).
func X25519PrivateFromEd25519(priv ed25519.PrivateKey) []byte {
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	out := make([]byte, 32)
	copy(out, h[:32])
	return out
}

// ECDH performs an X25519 Diffie-Hellman exchange.
func ECDH(priv, pub []byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, errs.WrapCrypto(err, "x25519 ecdh")
	}
	return shared, nil
}

// NewEphemeralX25519 generates a fresh, correctly clamped X25519 keypair,
// the per-message ephemeral key every sealed-sender and onion layer uses.
func NewEphemeralX25519() (pub, priv []byte, err error) {
	priv = make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, errs.WrapCrypto(err, "generate ephemeral x25519 private key")
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, errs.WrapCrypto(err, "derive ephemeral x25519 public key")
	}
	return pub, priv, nil
}

// HKDF derives L bytes of key material from ikm/salt/info, the single
// derivation primitive every privacy codec in this module uses (sealed
// sender, onion, DCGKA application keys).
func HKDF(ikm, salt []byte, info string, l int) ([]byte, error) {
	r := hkdf.New(sha256New, ikm, salt, []byte(info))
	out := make([]byte, l)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errs.WrapCrypto(err, "hkdf derive")
	}
	return out, nil
}
