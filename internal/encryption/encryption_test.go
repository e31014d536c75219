package encryption_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/encryption"
	"github.com/joindelta/delta/internal/store"
)

func newCoordinator(t *testing.T, owner string) *encryption.Coordinator {
	t.Helper()
	db, err := store.Open(t.TempDir(), logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c, err := encryption.Open(db, owner, logrus.New())
	require.NoError(t, err)
	return c
}

func TestRoomSendReceiveRoundTrip(t *testing.T) {
	alice := newCoordinator(t, "alice")
	bob := newCoordinator(t, "bob")

	bobKeys, err := bob.KeyManager().Generate(1)
	require.NoError(t, err)
	require.NoError(t, bob.PersistSingletons())
	alice.KeyRegistry().Add("bob", bobKeys)
	require.NoError(t, alice.PersistSingletons())

	state, ctrl, err := alice.CreateGroup(encryption.SchemeData, "room-1", "alice", []string{"bob"})
	require.NoError(t, err)
	require.Len(t, ctrl.Directs, 1)
	require.Contains(t, state.Members(), "bob")

	bobState, err := bob.JoinGroup(encryption.SchemeData, "room-1", "bob", []string{"alice"}, ctrl.Directs[0])
	require.NoError(t, err)
	require.Equal(t, state.Data.SecretID, bobState.Data.SecretID)

	msg, err := alice.SendToGroup("room-1", "alice", []byte("hello room"))
	require.NoError(t, err)

	outputs, err := bob.ReceiveFromGroup("room-1", msg)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("hello room")}, outputs)
}

func TestAddMemberRotatesGroupSecretID(t *testing.T) {
	alice := newCoordinator(t, "alice")
	bob := newCoordinator(t, "bob")
	carol := newCoordinator(t, "carol")

	bobKeys, err := bob.KeyManager().Generate(1)
	require.NoError(t, err)
	carolKeys, err := carol.KeyManager().Generate(1)
	require.NoError(t, err)
	alice.KeyRegistry().Add("bob", bobKeys)
	alice.KeyRegistry().Add("carol", carolKeys)

	before, _, err := alice.CreateGroup(encryption.SchemeData, "room-2", "alice", []string{"bob"})
	require.NoError(t, err)

	ctrl, err := alice.ProposeGroupMutation("room-2", "alice", "carol", true)
	require.NoError(t, err)
	require.True(t, ctrl.Committed)
	require.NotEqual(t, before.Data.SecretID, ctrl.SecretID)
}

func TestDMThreadMutationStartsPendingUntilAcked(t *testing.T) {
	alice := newCoordinator(t, "alice")
	bob := newCoordinator(t, "bob")

	bobKeys, err := bob.KeyManager().Generate(1)
	require.NoError(t, err)
	alice.KeyRegistry().Add("bob", bobKeys)

	_, _, err = alice.CreateGroup(encryption.SchemeMessage, "dm-1", "alice", []string{"bob"})
	require.NoError(t, err)

	ctrl, err := alice.ProposeGroupMutation("dm-1", "alice", "carol", true)
	require.NoError(t, err)
	require.False(t, ctrl.Committed, "message scheme mutations start pending, not committed")
	require.Empty(t, ctrl.Directs, "no welcome is sent until the mutation actually commits")
}

func TestAckReachesQuorumAndCommits(t *testing.T) {
	alice := newCoordinator(t, "alice")
	bob := newCoordinator(t, "bob")
	dave := newCoordinator(t, "dave")

	bobKeys, err := bob.KeyManager().Generate(1)
	require.NoError(t, err)
	daveKeys, err := dave.KeyManager().Generate(1)
	require.NoError(t, err)
	alice.KeyRegistry().Add("bob", bobKeys)
	alice.KeyRegistry().Add("dave", daveKeys)

	_, _, err = alice.CreateGroup(encryption.SchemeMessage, "dm-2", "alice", []string{"bob"})
	require.NoError(t, err)

	ctrl, err := alice.ProposeGroupMutation("dm-2", "alice", "dave", true)
	require.NoError(t, err)
	require.False(t, ctrl.Committed)

	committed, commitCtrl, err := alice.AckGroupMutation("dm-2", ctrl.OpID, "bob")
	require.NoError(t, err)
	require.True(t, committed, "2 of 2 current members (alice proposed, bob acked) reaches quorum")
	require.True(t, commitCtrl.Committed)
	require.Len(t, commitCtrl.Directs, 1)
}
