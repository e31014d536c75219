package projector_test

import (
	"encoding/hex"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/encryption"
	"github.com/joindelta/delta/internal/keys"
	"github.com/joindelta/delta/internal/oplog"
	"github.com/joindelta/delta/internal/ops"
	"github.com/joindelta/delta/internal/projector"
	"github.com/joindelta/delta/internal/readmodel"
	"github.com/joindelta/delta/internal/store"
)

var allLogIDs = []oplog.LogID{
	oplog.LogProfile, oplog.LogOrg, oplog.LogRoom, oplog.LogMessage,
	oplog.LogReaction, oplog.LogDMThread, oplog.LogKeyBundle,
	oplog.LogEncCtrl, oplog.LogEncDirect, oplog.LogMembership,
}

type harness struct {
	oplogStore *oplog.Store
	rm         *readmodel.Store
	enc        *encryption.Coordinator
	proj       *projector.Projector
	author     keys.KeyPair
	n          int64
	seq        map[oplog.LogID]uint64
	backlink   map[oplog.LogID]*oplog.Hash
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logrus.New()

	oplogDB, err := store.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = oplogDB.Close() })
	cache, err := store.NewHotCache()
	require.NoError(t, err)
	oplogStore := oplog.New(oplogDB, cache, log)

	rmDB, err := store.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rmDB.Close() })
	rm := readmodel.Open(rmDB)

	_, author, err := keys.Generate()
	require.NoError(t, err)

	encDB, err := store.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = encDB.Close() })
	enc, err := encryption.Open(encDB, author.PublicHex(), log)
	require.NoError(t, err)

	return &harness{
		oplogStore: oplogStore,
		rm:         rm,
		enc:        enc,
		proj:       projector.New(oplogStore, rm, enc, log, allLogIDs),
		author:     author,
		seq:        map[oplog.LogID]uint64{},
		backlink:   map[oplog.LogID]*oplog.Hash{},
	}
}

func (h *harness) publish(t *testing.T, logID oplog.LogID, body interface{}) oplog.Hash {
	t.Helper()
	encoded, err := cbor.Marshal(body)
	require.NoError(t, err)
	op, err := oplog.New(h.author.Private, logID, h.seq[logID], h.backlink[logID], h.n+1000, encoded)
	require.NoError(t, err)
	require.NoError(t, h.oplogStore.Insert(op))
	hash, err := op.Hash()
	require.NoError(t, err)
	h.backlink[logID] = &hash
	h.seq[logID]++
	h.n++
	return hash
}

// TestProjectorOrgRoomMessageFlow matches the projector idempotence edge
// case: after inserting ops for create_org, create_room("general"), and two
// send_message ops, the read model has exactly one org, one room, two
// messages; re-running the projector from cursor=0 yields the same state.
func TestProjectorOrgRoomMessageFlow(t *testing.T) {
	h := newHarness(t)

	h.publish(t, oplog.LogOrg, ops.OrgOp{Kind: ops.OrgCreate, Name: "acme", IsPublic: true})
	h.proj.Tick()

	orgs, err := h.rm.ListMyOrgs(h.author.PublicHex())
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	orgID := orgs[0].OrgID

	h.publish(t, oplog.LogRoom, ops.RoomOp{Kind: ops.RoomCreate, OrgID: orgID, Name: "general"})
	h.proj.Tick()

	rooms, err := h.rm.ListRooms(orgID, false)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	roomID := rooms[0].RoomID

	h.publish(t, oplog.LogMessage, ops.MessageOp{Kind: ops.MessageCreate, RoomID: roomID, ContentType: ops.ContentText, Text: "hi"})
	h.publish(t, oplog.LogMessage, ops.MessageOp{Kind: ops.MessageCreate, RoomID: roomID, ContentType: ops.ContentText, Text: "there"})
	h.proj.Tick()

	messages, err := h.rm.ListMessages(roomID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	// Idempotence: rewinding every cursor to 0 and re-ticking changes nothing.
	for _, logID := range allLogIDs {
		require.NoError(t, h.rm.SetCursor(string(logID), h.author.PublicHex(), 0))
	}
	h.proj.Tick()
	messages, err = h.rm.ListMessages(roomID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	orgs, err = h.rm.ListMyOrgs(h.author.PublicHex())
	require.NoError(t, err)
	require.Len(t, orgs, 1)
}

func TestProjectorMessageDeleteTogglesFlag(t *testing.T) {
	h := newHarness(t)
	h.publish(t, oplog.LogOrg, ops.OrgOp{Kind: ops.OrgCreate, Name: "acme"})
	h.proj.Tick()
	orgs, err := h.rm.ListMyOrgs(h.author.PublicHex())
	require.NoError(t, err)
	require.Len(t, orgs, 1)

	h.publish(t, oplog.LogRoom, ops.RoomOp{Kind: ops.RoomCreate, OrgID: orgs[0].OrgID, Name: "general"})
	h.proj.Tick()
	rooms, err := h.rm.ListRooms(orgs[0].OrgID, false)
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	msgHash := h.publish(t, oplog.LogMessage, ops.MessageOp{Kind: ops.MessageCreate, RoomID: rooms[0].RoomID, ContentType: ops.ContentText, Text: "hi"})
	h.proj.Tick()

	messageID := hex.EncodeToString(msgHash[:])
	msg, found, err := h.rm.GetMessage(messageID)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, msg.IsDeleted)

	h.publish(t, oplog.LogMessage, ops.MessageOp{Kind: ops.MessageDelete, TargetMessageID: messageID})
	h.proj.Tick()

	msg, found, err = h.rm.GetMessage(messageID)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, msg.IsDeleted)
}

func TestProjectorProfileRegistersPreKeyBundle(t *testing.T) {
	h := newHarness(t)
	peerKM := encryption.NewKeyManager("peer")
	bundle, err := peerKM.Generate(2)
	require.NoError(t, err)

	_, peerAuthor, err := keys.Generate()
	require.NoError(t, err)
	peerSeq := uint64(0)
	var peerBacklink *oplog.Hash
	body := ops.ProfileOp{Username: "peer", PreKeyBundle: bundle}
	encoded, err := cbor.Marshal(body)
	require.NoError(t, err)
	op, err := oplog.New(peerAuthor.Private, oplog.LogProfile, peerSeq, peerBacklink, 1000, encoded)
	require.NoError(t, err)
	require.NoError(t, h.oplogStore.Insert(op))

	h.proj.Tick()

	profile, found, err := h.rm.GetProfile(peerAuthor.PublicHex())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "peer", profile.Username)

	_, err = h.enc.KeyRegistry().ConsumePreKey(peerAuthor.PublicHex())
	require.NoError(t, err)
}

