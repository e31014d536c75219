package gossip_test

import (
	"crypto/ed25519"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/gossip"
	"github.com/joindelta/delta/internal/oplog"
	"github.com/joindelta/delta/internal/sealedsender"
	"github.com/joindelta/delta/internal/topic"
)

// fakePublisher is the in-memory collaborator tests and bootstrap wiring use
// in place of a real transport, which is out of scope per §1.
type fakePublisher struct {
	mu    sync.Mutex
	sent  map[topic.ID][][]byte
}

func newFakePublisher() *fakePublisher { return &fakePublisher{sent: make(map[topic.ID][][]byte)} }

func (f *fakePublisher) Publish(t topic.ID, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[t] = append(f.sent[t], raw)
	return nil
}

func mustOp(t *testing.T, priv ed25519.PrivateKey) oplog.Operation {
	t.Helper()
	op, err := oplog.New(priv, oplog.LogProfile, 0, nil, 1000, []byte("body"))
	require.NoError(t, err)
	return op
}

func TestWrapAndDecodeBareEnvelope(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	op := mustOp(t, priv)

	env, err := gossip.WrapOp(op)
	require.NoError(t, err)
	raw, err := env.Encode()
	require.NoError(t, err)

	_, recvPriv, _ := ed25519.GenerateKey(nil)
	inbound, err := gossip.Decode(raw, recvPriv)
	require.NoError(t, err)
	require.Nil(t, inbound.SealedSender)
	require.Equal(t, op.Header.SeqNum, inbound.Op.Header.SeqNum)
	require.Equal(t, op.Body, inbound.Op.Body)
}

func TestDecodeSealedEnvelopeAuthenticatesSender(t *testing.T) {
	senderPub, senderPriv, _ := ed25519.GenerateKey(nil)
	recipientPub, recipientPriv, _ := ed25519.GenerateKey(nil)
	_ = senderPub

	op := mustOp(t, senderPriv)
	env, err := gossip.WrapOp(op)
	require.NoError(t, err)
	inner, err := env.Encode()
	require.NoError(t, err)

	sealed, err := sealedsender.Seal(inner, senderPriv, recipientPub)
	require.NoError(t, err)

	inbound, err := gossip.Decode(sealed, recipientPriv)
	require.NoError(t, err)
	require.NotNil(t, inbound.SealedSender)
	require.Equal(t, senderPriv.Public().(ed25519.PublicKey), inbound.SealedSender)
	require.Equal(t, op.Body, inbound.Op.Body)
}

func TestPublisherFakeRecordsByTopic(t *testing.T) {
	pub := newFakePublisher()
	roomTopic := topic.Room("room-1")
	require.NoError(t, pub.Publish(roomTopic, []byte("a")))
	require.NoError(t, pub.Publish(roomTopic, []byte("b")))
	require.Len(t, pub.sent[roomTopic], 2)
}
