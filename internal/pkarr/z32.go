package pkarr

import (
	"strings"

	"github.com/joindelta/delta/internal/errs"
)

// z32Alphabet is the z-base-32 alphabet pkarr keys are displayed in, chosen
// for fewer visually-confusable characters than standard base32. No library
// in the example pack provides it and it is a short, fixed bit-packing
// routine, so it is written directly against encoding/hex-style primitives
// rather than pulled in as a dependency.
const z32Alphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

var z32Decode = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(z32Alphabet); i++ {
		t[z32Alphabet[i]] = int8(i)
	}
	return t
}()

// EncodeZ32 encodes raw bytes (an ed25519 public key, in practice) as
// z-base-32, 5 bits per output character with no padding.
func EncodeZ32(raw []byte) string {
	var out strings.Builder
	var buf uint32
	var bits uint
	for _, b := range raw {
		buf = buf<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out.WriteByte(z32Alphabet[(buf>>bits)&0x1f])
		}
	}
	if bits > 0 {
		out.WriteByte(z32Alphabet[(buf<<(5-bits))&0x1f])
	}
	return out.String()
}

// DecodeZ32 reverses EncodeZ32. It rejects characters outside the alphabet.
func DecodeZ32(s string) ([]byte, error) {
	var out []byte
	var buf uint32
	var bits uint
	for i := 0; i < len(s); i++ {
		v := z32Decode[s[i]]
		if v < 0 {
			return nil, errs.InvalidInput("pkarr: invalid z-base-32 character %q", s[i])
		}
		buf = buf<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(buf>>bits))
		}
	}
	return out, nil
}
