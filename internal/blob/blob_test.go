package blob_test

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/blob"
	"github.com/joindelta/delta/internal/encryption"
	"github.com/joindelta/delta/internal/store"
)

func newTestStore(t *testing.T) *blob.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "blobs.db"), logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := blob.Open(db, filepath.Join(t.TempDir(), "blobfiles"))
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	var secretID encryption.GroupSecretID
	secretID[0] = 7

	hash, err := s.Put("room-1", secretID, secret, []byte("cat picture bytes"), "alice", "image/png")
	require.NoError(t, err)

	plaintext, meta, err := s.Get(hash, secret)
	require.NoError(t, err)
	require.Equal(t, []byte("cat picture bytes"), plaintext)
	require.Equal(t, "room-1", meta.RoomID)
	require.Equal(t, "image/png", meta.MimeType)
	require.Equal(t, secretID, meta.SecretID)
}

func TestSameBytesDifferentRoomsProduceDifferentHashes(t *testing.T) {
	s := newTestStore(t)
	secret := make([]byte, 32)
	var secretID encryption.GroupSecretID

	h1, err := s.Put("room-a", secretID, secret, []byte("same bytes"), "alice", "text/plain")
	require.NoError(t, err)
	h2, err := s.Put("room-b", secretID, secret, []byte("same bytes"), "alice", "text/plain")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestGetWithWrongSecretFailsToDecrypt(t *testing.T) {
	s := newTestStore(t)
	secret := make([]byte, 32)
	var secretID encryption.GroupSecretID

	hash, err := s.Put("room-1", secretID, secret, []byte("shh"), "alice", "text/plain")
	require.NoError(t, err)

	wrongSecret := make([]byte, 32)
	wrongSecret[0] = 1
	_, _, err = s.Get(hash, wrongSecret)
	require.Error(t, err)
}
