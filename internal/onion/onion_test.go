package onion_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/onion"
)

func genHop(t *testing.T, url string) (onion.Hop, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return onion.Hop{URL: url, Pub: pub}, priv
}

func TestThreeHopRoute(t *testing.T) {
	h1, priv1 := genHop(t, "https://hop1/hop")
	h2, priv2 := genHop(t, "https://hop2/hop")
	h3, priv3 := genHop(t, "https://hop3/hop")

	var topic [32]byte
	for i := range topic {
		topic[i] = 0x99
	}
	op := []byte("three hop message")

	packet, err := onion.Build([]onion.Hop{h1, h2, h3}, topic, op)
	require.NoError(t, err)

	peeled1, err := onion.Peel(packet, priv1)
	require.NoError(t, err)
	require.NotNil(t, peeled1.Forward)
	require.Equal(t, "https://hop2/hop", peeled1.Forward.NextHopURL)

	peeled2, err := onion.Peel(peeled1.Forward.Inner, priv2)
	require.NoError(t, err)
	require.NotNil(t, peeled2.Forward)
	require.Equal(t, "https://hop3/hop", peeled2.Forward.NextHopURL)

	peeled3, err := onion.Peel(peeled2.Forward.Inner, priv3)
	require.NoError(t, err)
	require.NotNil(t, peeled3.Deliver)
	require.Equal(t, topic, peeled3.Deliver.TopicID)
	require.Equal(t, op, peeled3.Deliver.Op)
}

func TestSingleHopRoute(t *testing.T) {
	h1, priv1 := genHop(t, "https://hop1/hop")
	var topic [32]byte
	op := []byte("direct")

	packet, err := onion.Build([]onion.Hop{h1}, topic, op)
	require.NoError(t, err)

	peeled, err := onion.Peel(packet, priv1)
	require.NoError(t, err)
	require.NotNil(t, peeled.Deliver)
	require.Equal(t, op, peeled.Deliver.Op)
}

func TestEmptyRouteIsError(t *testing.T) {
	var topic [32]byte
	_, err := onion.Build(nil, topic, []byte("x"))
	require.Error(t, err)
}

func TestWrongHopCannotPeel(t *testing.T) {
	h1, _ := genHop(t, "https://hop1/hop")
	h2, priv2 := genHop(t, "https://hop2/hop")
	var topic [32]byte

	packet, err := onion.Build([]onion.Hop{h1, h2}, topic, []byte("x"))
	require.NoError(t, err)

	// priv2 is hop2's key, but the outer layer is addressed to hop1.
	_, err = onion.Peel(packet, priv2)
	require.Error(t, err)
}
