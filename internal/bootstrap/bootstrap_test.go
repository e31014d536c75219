package bootstrap_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/bootstrap"
	"github.com/joindelta/delta/internal/keys"
)

func TestOpenIsIdempotentForSameBaseDir(t *testing.T) {
	_, kp, err := keys.Generate()
	require.NoError(t, err)
	dir := t.TempDir()
	cfg := bootstrap.Config{BaseDir: dir, PrivateKeyHex: kp.PrivateHex(), Log: logrus.New()}

	h1, err := bootstrap.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h1.Close() })

	h2, err := bootstrap.Open(context.Background(), cfg)
	require.NoError(t, err)

	require.Same(t, h1, h2)
}

func TestOpenGeneratesFirstPreKey(t *testing.T) {
	_, kp, err := keys.Generate()
	require.NoError(t, err)
	cfg := bootstrap.Config{BaseDir: t.TempDir(), PrivateKeyHex: kp.PrivateHex(), Log: logrus.New()}

	h, err := bootstrap.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	require.True(t, h.Encryption.KeyManager().HasAny())
}

func TestKnownTopicsEmptyForFreshIdentity(t *testing.T) {
	_, kp, err := keys.Generate()
	require.NoError(t, err)
	cfg := bootstrap.Config{BaseDir: t.TempDir(), PrivateKeyHex: kp.PrivateHex(), Log: logrus.New()}

	h, err := bootstrap.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	topics, err := h.KnownTopics()
	require.NoError(t, err)
	require.Empty(t, topics)
}
