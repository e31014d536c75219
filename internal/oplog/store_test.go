package oplog_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/oplog"
	"github.com/joindelta/delta/internal/store"
)

func newTestStore(t *testing.T) *oplog.Store {
	t.Helper()
	db, err := store.Open(t.TempDir(), logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cache, err := store.NewHotCache()
	require.NoError(t, err)
	return oplog.New(db, cache, logrus.New())
}

func mustOp(t *testing.T, priv ed25519.PrivateKey, logID oplog.LogID, seq uint64, backlink *oplog.Hash, body []byte) oplog.Operation {
	t.Helper()
	op, err := oplog.New(priv, logID, seq, backlink, 1_700_000_000_000_000, body)
	require.NoError(t, err)
	return op
}

func TestInsertAndLatest(t *testing.T) {
	s := newTestStore(t)
	pub, priv, _ := ed25519.GenerateKey(nil)
	authorHex := oplog.AuthorHex(pub)

	op0 := mustOp(t, priv, oplog.LogProfile, 0, nil, []byte("body0"))
	require.NoError(t, s.Insert(op0))

	h, ok, err := s.Latest(authorHex, oplog.LogProfile)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), h.SeqNum)

	hash0, err := op0.Hash()
	require.NoError(t, err)
	op1 := mustOp(t, priv, oplog.LogProfile, 1, &hash0, []byte("body1"))
	require.NoError(t, s.Insert(op1))

	h, ok, err = s.Latest(authorHex, oplog.LogProfile)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), h.SeqNum)
}

func TestDuplicateInsertIsNoOp(t *testing.T) {
	s := newTestStore(t)
	_, priv, _ := ed25519.GenerateKey(nil)
	op0 := mustOp(t, priv, oplog.LogProfile, 0, nil, []byte("body0"))
	require.NoError(t, s.Insert(op0))
	require.NoError(t, s.Insert(op0))
}

func TestRejectsBadSignature(t *testing.T) {
	s := newTestStore(t)
	_, priv, _ := ed25519.GenerateKey(nil)
	op0 := mustOp(t, priv, oplog.LogProfile, 0, nil, []byte("body0"))
	op0.Header.Signature[0] ^= 0xff
	err := s.Insert(op0)
	require.Error(t, err)
}

func TestOutOfOrderArrivalIsHeldPending(t *testing.T) {
	s := newTestStore(t)
	pub, priv, _ := ed25519.GenerateKey(nil)
	authorHex := oplog.AuthorHex(pub)

	op0 := mustOp(t, priv, oplog.LogProfile, 0, nil, []byte("body0"))
	hash0, err := op0.Hash()
	require.NoError(t, err)
	op1 := mustOp(t, priv, oplog.LogProfile, 1, &hash0, []byte("body1"))
	hash1, err := op1.Hash()
	require.NoError(t, err)
	op2 := mustOp(t, priv, oplog.LogProfile, 2, &hash1, []byte("body2"))

	// op2 arrives before op1: held pending, not rejected, not visible yet.
	require.NoError(t, s.Insert(op2))
	_, ok, err := s.Latest(authorHex, oplog.LogProfile)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Insert(op0))
	h, ok, err := s.Latest(authorHex, oplog.LogProfile)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), h.SeqNum)

	// op1 arrives: should cascade-accept op2 too.
	require.NoError(t, s.Insert(op1))
	h, ok, err = s.Latest(authorHex, oplog.LogProfile)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), h.SeqNum)
}

func TestHeightsAndRange(t *testing.T) {
	s := newTestStore(t)
	pub, priv, _ := ed25519.GenerateKey(nil)
	authorHex := oplog.AuthorHex(pub)

	op0 := mustOp(t, priv, oplog.LogMessage, 0, nil, []byte("m0"))
	require.NoError(t, s.Insert(op0))
	hash0, _ := op0.Hash()
	op1 := mustOp(t, priv, oplog.LogMessage, 1, &hash0, []byte("m1"))
	require.NoError(t, s.Insert(op1))

	tips, err := s.Heights(oplog.LogMessage)
	require.NoError(t, err)
	require.Len(t, tips, 1)
	require.Equal(t, authorHex, tips[0].AuthorHex)
	require.Equal(t, uint64(1), tips[0].SeqNum)

	ops, err := s.Range(authorHex, oplog.LogMessage, 0, ^uint64(0))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, []byte("m1"), ops[0].Body)

	all, err := s.Range(authorHex, oplog.LogMessage, ^uint64(0)-1, ^uint64(0))
	require.NoError(t, err)
	_ = all
}
