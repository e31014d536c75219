package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/joindelta/delta/internal/errs"
)

// Token is the decoded form of an invite, shareable via QR/NFC per §4.5.
type Token struct {
	OrgID       string
	InviterHex  string
	Level       Level
	ExpiryMicro int64
}

// wireToken is the base64-JSON on-wire shape.
type wireToken struct {
	OrgID       string `json:"org_id"`
	InviterHex  string `json:"inviter_key_hex"`
	LevelStr    string `json:"access_level_str"`
	Expiry      int64  `json:"expiry"`
	SignatureHx string `json:"signature_hex"`
}

// signedPayload reconstructs the exact colon-joined string that gets signed:
// org_id : inviter_pub_hex : level_str : expiry_micros
func signedPayload(orgID, inviterHex, levelStr string, expiry int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%d", orgID, inviterHex, levelStr, expiry))
}

// GenerateInviteToken signs a new invite for orgID at level, expiring at
// expiryMicros (microseconds since epoch), and returns its base64 wire form.
func GenerateInviteToken(inviterPriv ed25519.PrivateKey, orgID string, level Level, expiryMicros int64) (string, error) {
	inviterPub, ok := inviterPriv.Public().(ed25519.PublicKey)
	if !ok {
		return "", errs.Crypto("inviter key has no ed25519 public counterpart")
	}
	inviterHex := hex.EncodeToString(inviterPub)
	levelStr := level.String()
	sig := ed25519.Sign(inviterPriv, signedPayload(orgID, inviterHex, levelStr, expiryMicros))

	w := wireToken{
		OrgID:       orgID,
		InviterHex:  inviterHex,
		LevelStr:    levelStr,
		Expiry:      expiryMicros,
		SignatureHx: hex.EncodeToString(sig),
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return "", errs.WrapPersistence(err, "encode invite token")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyInviteToken decodes and verifies b64, checking the signature against
// the embedded inviter key and rejecting tokens expired as of nowMicros.
// Mutating any field of a valid token invalidates its signature, since the
// signature covers the exact colon-joined payload reconstructed from those
// fields.
func VerifyInviteToken(b64 string, nowMicros int64) (Token, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Token{}, errs.InvalidInput("invite token is not valid base64: %v", err)
	}
	var w wireToken
	if err := json.Unmarshal(raw, &w); err != nil {
		return Token{}, errs.InvalidInput("invite token is not valid JSON: %v", err)
	}

	inviterPub, err := hex.DecodeString(w.InviterHex)
	if err != nil || len(inviterPub) != ed25519.PublicKeySize {
		return Token{}, errs.InvalidInput("invite token has malformed inviter key")
	}
	sig, err := hex.DecodeString(w.SignatureHx)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return Token{}, errs.Token("invite token has malformed signature")
	}

	payload := signedPayload(w.OrgID, w.InviterHex, w.LevelStr, w.Expiry)
	if !ed25519.Verify(ed25519.PublicKey(inviterPub), payload, sig) {
		return Token{}, errs.Token("invite token signature is invalid")
	}

	level, err := ParseLevel(w.LevelStr)
	if err != nil {
		return Token{}, err
	}

	if nowMicros > w.Expiry {
		return Token{}, errs.Token("invite token expired at %d, now %d", w.Expiry, nowMicros)
	}

	return Token{
		OrgID:       w.OrgID,
		InviterHex:  w.InviterHex,
		Level:       level,
		ExpiryMicro: w.Expiry,
	}, nil
}
