package sealedsender_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/sealedsender"
)

func TestSealOpenRoundTrip(t *testing.T) {
	senderPub, senderPriv, _ := ed25519.GenerateKey(nil)
	_, recipientPriv, _ := ed25519.GenerateKey(nil)
	recipientPub := recipientPriv.Public().(ed25519.PublicKey)

	envelope, err := sealedsender.Seal([]byte("hello recipient"), senderPriv, recipientPub)
	require.NoError(t, err)

	gotSender, inner, err := sealedsender.Open(envelope, recipientPriv)
	require.NoError(t, err)
	require.Equal(t, senderPub, gotSender)
	require.Equal(t, []byte("hello recipient"), inner)
}

func TestOpenWithWrongRecipientFails(t *testing.T) {
	_, senderPriv, _ := ed25519.GenerateKey(nil)
	_, recipientPriv, _ := ed25519.GenerateKey(nil)
	recipientPub := recipientPriv.Public().(ed25519.PublicKey)
	_, otherPriv, _ := ed25519.GenerateKey(nil)

	envelope, err := sealedsender.Seal([]byte("secret"), senderPriv, recipientPub)
	require.NoError(t, err)

	_, _, err = sealedsender.Open(envelope, otherPriv)
	require.Error(t, err)
}

func TestTamperedEnvelopeFails(t *testing.T) {
	_, senderPriv, _ := ed25519.GenerateKey(nil)
	_, recipientPriv, _ := ed25519.GenerateKey(nil)
	recipientPub := recipientPriv.Public().(ed25519.PublicKey)

	envelope, err := sealedsender.Seal([]byte("secret"), senderPriv, recipientPub)
	require.NoError(t, err)
	envelope[len(envelope)-1] ^= 0xff

	_, _, err = sealedsender.Open(envelope, recipientPriv)
	require.Error(t, err)
}

func TestMalformedEnvelopeRejected(t *testing.T) {
	_, recipientPriv, _ := ed25519.GenerateKey(nil)
	_, _, err := sealedsender.Open([]byte{0x01, 0x02}, recipientPriv)
	require.Error(t, err)

	_, _, err = sealedsender.Open(make([]byte, 100), recipientPriv)
	require.Error(t, err) // wrong version byte (0x00) in an all-zero buffer
}
