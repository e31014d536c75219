package keys

import (
	"crypto/sha256"
	"hash"
	"math/big"
	"strings"
)

// p25519 is the field prime 2^255 - 19 shared by Ed25519 and X25519.
var p25519 = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}()

// edwardsYToMontgomeryX implements the standard birational map between
// Curve25519's two models: u = (1+y)/(1-y) mod p, applied to the Edwards
// y-coordinate packed the way crypto/ed25519 stores a public key (the sign
// bit of x lives in the top bit of the last byte and is irrelevant to u).
func edwardsYToMontgomeryX(dst *[32]byte, edY *[32]byte) bool {
	yBytes := make([]byte, 32)
	copy(yBytes, edY[:])
	yBytes[31] &= 0x7f // clear the sign bit, it encodes x's parity, not part of y
	reverse(yBytes)
	y := new(big.Int).SetBytes(yBytes)
	if y.Cmp(p25519) >= 0 {
		return false
	}

	one := big.NewInt(1)
	num := new(big.Int).Add(one, y)
	num.Mod(num, p25519)
	den := new(big.Int).Sub(one, y)
	den.Mod(den, p25519)
	if den.Sign() == 0 {
		return false
	}
	denInv := new(big.Int).ModInverse(den, p25519)
	if denInv == nil {
		return false
	}
	u := new(big.Int).Mul(num, denInv)
	u.Mod(u, p25519)

	ub := u.Bytes()
	reverse(ub)
	var out [32]byte
	copy(out[:], ub)
	*dst = out
	return true
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func sha256New() hash.Hash { return sha256.New() }

func splitWords(mnemonic string) []string { return strings.Fields(mnemonic) }
func joinWords(words []string) string     { return strings.Join(words, " ") }
