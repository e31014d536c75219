package auth_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/auth"
)

func TestAccessLattice(t *testing.T) {
	require.True(t, auth.Manage.HasPermission(auth.Write))
	require.False(t, auth.Write.HasPermission(auth.Manage))
	require.False(t, auth.Pull.HasPermission(auth.Read))
	require.True(t, auth.Read.HasPermission(auth.Read))
}

func TestMembershipMutationsRequireManage(t *testing.T) {
	ownerPub, ownerPriv, _ := ed25519.GenerateKey(nil)
	_ = ownerPriv
	memberPub, _, _ := ed25519.GenerateKey(nil)
	outsiderPub, _, _ := ed25519.GenerateKey(nil)

	ownerHex := auth.PublicKeyHex(ownerPub)
	memberHex := auth.PublicKeyHex(memberPub)
	outsiderHex := auth.PublicKeyHex(outsiderPub)

	m := auth.Membership{ownerHex: auth.Manage}

	_, err := auth.AddMember(m, outsiderHex, memberHex, auth.Write)
	require.Error(t, err)
	require.Equal(t, auth.Pull, m.Get(memberHex))

	_, err = auth.AddMember(m, ownerHex, memberHex, auth.Write)
	require.NoError(t, err)
	require.Equal(t, auth.Write, m.Get(memberHex))

	_, err = auth.ChangePermission(m, ownerHex, memberHex, auth.Manage)
	require.NoError(t, err)
	require.Equal(t, auth.Manage, m.Get(memberHex))
}

func TestSelfRemovalForbidden(t *testing.T) {
	ownerPub, _, _ := ed25519.GenerateKey(nil)
	ownerHex := auth.PublicKeyHex(ownerPub)
	m := auth.Membership{ownerHex: auth.Manage}

	_, err := auth.RemoveMember(m, ownerHex, ownerHex)
	require.Error(t, err)
	require.Equal(t, auth.Manage, m.Get(ownerHex))
}

func TestInviteTokenRoundTrip(t *testing.T) {
	_, inviterPriv, _ := ed25519.GenerateKey(nil)
	inviterPub := inviterPriv.Public().(ed25519.PublicKey)

	const expiry = int64(9999999999999999)
	b64, err := auth.GenerateInviteToken(inviterPriv, "org1", auth.Write, expiry)
	require.NoError(t, err)

	tok, err := auth.VerifyInviteToken(b64, 1000000000000000)
	require.NoError(t, err)
	require.Equal(t, "org1", tok.OrgID)
	require.Equal(t, auth.PublicKeyHex(inviterPub), tok.InviterHex)
	require.Equal(t, auth.Write, tok.Level)
	require.Equal(t, expiry, tok.ExpiryMicro)
}

func TestInviteTokenTamperedFieldInvalidatesSignature(t *testing.T) {
	_, inviterPriv, _ := ed25519.GenerateKey(nil)
	b64, err := auth.GenerateInviteToken(inviterPriv, "org1", auth.Write, 9999999999999999)
	require.NoError(t, err)

	tampered := tamperLevel(t, b64, "manage")
	_, err = auth.VerifyInviteToken(tampered, 1000000000000000)
	require.Error(t, err)
}

func TestInviteTokenExpiry(t *testing.T) {
	_, inviterPriv, _ := ed25519.GenerateKey(nil)
	b64, err := auth.GenerateInviteToken(inviterPriv, "org1", auth.Write, 1000000000000000)
	require.NoError(t, err)

	_, err = auth.VerifyInviteToken(b64, 2000000000000000)
	require.Error(t, err)
}

// tamperLevel decodes the base64-JSON envelope, flips access_level_str, and
// re-encodes it without re-signing — simulating an attacker mutating a field.
func tamperLevel(t *testing.T, b64, newLevel string) string {
	t.Helper()
	raw := mustBase64Decode(t, b64)
	tampered := replaceJSONString(t, raw, "access_level_str", newLevel)
	return mustBase64Encode(tampered)
}
