package keys_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/keys"
)

func TestMnemonicRoundTrip(t *testing.T) {
	words, kp, err := keys.Generate()
	require.NoError(t, err)
	require.Len(t, words, 24)
	require.Len(t, kp.PrivateHex(), 64)
	require.Len(t, kp.PublicHex(), 64)

	kp2, err := keys.ImportFromWords(words)
	require.NoError(t, err)
	require.Equal(t, kp.PublicHex(), kp2.PublicHex())
	require.Equal(t, kp.PrivateHex(), kp2.PrivateHex())
}

func TestImportRejectsInvalidMnemonic(t *testing.T) {
	_, err := keys.ImportFromWords([]string{"not", "a", "valid", "mnemonic"})
	require.Error(t, err)
}

func TestParsePrivateHexRoundTrip(t *testing.T) {
	_, kp, err := keys.Generate()
	require.NoError(t, err)

	kp2, err := keys.ParsePrivateHex(kp.PrivateHex())
	require.NoError(t, err)
	require.Equal(t, kp.PublicHex(), kp2.PublicHex())
}

func TestECDHAgreement(t *testing.T) {
	_, alice, err := keys.Generate()
	require.NoError(t, err)
	_, bob, err := keys.Generate()
	require.NoError(t, err)

	aliceX25519Priv := keys.X25519PrivateFromEd25519(alice.Private)
	bobX25519Pub, err := keys.X25519PublicFromEd25519(bob.Public)
	require.NoError(t, err)

	bobX25519Priv := keys.X25519PrivateFromEd25519(bob.Private)
	aliceX25519Pub, err := keys.X25519PublicFromEd25519(alice.Public)
	require.NoError(t, err)

	sharedA, err := keys.ECDH(aliceX25519Priv, bobX25519Pub)
	require.NoError(t, err)
	sharedB, err := keys.ECDH(bobX25519Priv, aliceX25519Pub)
	require.NoError(t, err)
	require.Equal(t, sharedA, sharedB)
}

func TestHKDFDeterministic(t *testing.T) {
	out1, err := keys.HKDF([]byte("ikm"), []byte("salt"), "delta:test:v1", 32)
	require.NoError(t, err)
	out2, err := keys.HKDF([]byte("ikm"), []byte("salt"), "delta:test:v1", 32)
	require.NoError(t, err)
	require.Equal(t, out1, out2)

	out3, err := keys.HKDF([]byte("ikm"), []byte("salt"), "delta:other:v1", 32)
	require.NoError(t, err)
	require.NotEqual(t, out1, out3)
}
