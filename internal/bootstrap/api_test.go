package bootstrap_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/bootstrap"
	"github.com/joindelta/delta/internal/keys"
	"github.com/joindelta/delta/internal/ops"
)

func openHandle(t *testing.T) *bootstrap.Handle {
	t.Helper()
	_, kp, err := keys.Generate()
	require.NoError(t, err)
	h, err := bootstrap.Open(context.Background(), bootstrap.Config{
		BaseDir: t.TempDir(), PrivateKeyHex: kp.PrivateHex(), Log: logrus.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestCreateOrgAndRoomFlow(t *testing.T) {
	h := openHandle(t)

	orgID, err := h.CreateOrg("Acme", "company", "a test org", true)
	require.NoError(t, err)
	require.NotEmpty(t, orgID)

	h.Projector.Tick()

	orgs, err := h.ListMyOrgs()
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	require.Equal(t, orgID, orgs[0].OrgID)

	roomID, err := h.CreateRoom(orgID, "general")
	require.NoError(t, err)
	require.NotEmpty(t, roomID)

	h.Projector.Tick()

	rooms, err := h.ListRooms(orgID, false)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, "general", rooms[0].Name)
}

func TestCreateRoomRejectsInvalidChannelName(t *testing.T) {
	h := openHandle(t)
	orgID, err := h.CreateOrg("Acme", "company", "", false)
	require.NoError(t, err)
	h.Projector.Tick()

	_, err = h.CreateRoom(orgID, "--nope")
	require.Error(t, err)

	_, err = h.CreateRoom(orgID, "")
	require.Error(t, err)
}

func TestSendMessageToRoomAndList(t *testing.T) {
	h := openHandle(t)
	orgID, err := h.CreateOrg("Acme", "company", "", false)
	require.NoError(t, err)
	h.Projector.Tick()
	roomID, err := h.CreateRoom(orgID, "general")
	require.NoError(t, err)
	h.Projector.Tick()

	msgID, err := h.SendMessage(roomID, "", ops.ContentText, "hello", "", "", nil, "")
	require.NoError(t, err)
	require.NotEmpty(t, msgID)
	h.Projector.Tick()

	messages, err := h.ListMessages(roomID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "hello", messages[0].Text)

	require.NoError(t, h.DeleteMessage(msgID))
	h.Projector.Tick()

	messages, err = h.ListMessages(roomID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.True(t, messages[0].IsDeleted)
}

func TestCreateDMThreadAndSendMessage(t *testing.T) {
	h := openHandle(t)
	_, recipient, err := keys.Generate()
	require.NoError(t, err)

	threadID, err := h.CreateDMThread(recipient.PublicHex())
	require.NoError(t, err)
	require.NotEmpty(t, threadID)
	h.Projector.Tick()

	threads, err := h.ListDMThreads()
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Equal(t, threadID, threads[0].ThreadID)

	msgID, err := h.SendMessage("", threadID, ops.ContentText, "hi there", "", "", nil, "")
	require.NoError(t, err)
	require.NotEmpty(t, msgID)
	h.Projector.Tick()

	messages, err := h.ListMessages("", threadID, 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestProfileRoundTrip(t *testing.T) {
	h := openHandle(t)

	_, found, err := h.GetMyProfile()
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, h.CreateOrUpdateProfile("alice", "hello world", []string{"pairing"}, true))
	h.Projector.Tick()

	profile, found, err := h.GetMyProfile()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "alice", profile.Username)
}

func TestMembershipLifecycle(t *testing.T) {
	h := openHandle(t)
	orgID, err := h.CreateOrg("Acme", "company", "", false)
	require.NoError(t, err)
	h.Projector.Tick()

	_, member, err := keys.Generate()
	require.NoError(t, err)

	require.NoError(t, h.AddMemberDirect(orgID, member.PublicHex(), "write"))
	h.Projector.Tick()

	members, err := h.ListOrgMembers(orgID)
	require.NoError(t, err)
	require.Len(t, members, 2) // creator (manage) + new member

	require.NoError(t, h.ChangeMemberPermission(orgID, member.PublicHex(), "read"))
	h.Projector.Tick()

	require.NoError(t, h.RemoveMember(orgID, member.PublicHex()))
	h.Projector.Tick()

	members, err = h.ListOrgMembers(orgID)
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestInviteTokenRoundTrip(t *testing.T) {
	h := openHandle(t)
	orgID, err := h.CreateOrg("Acme", "company", "", false)
	require.NoError(t, err)
	h.Projector.Tick()

	tok, err := h.GenerateInviteToken(orgID, "write", 9_999_999_999_999)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	parsed, err := h.VerifyInviteToken(tok, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, orgID, parsed.OrgID)
}

func TestGetPkarrURL(t *testing.T) {
	h := openHandle(t)
	url, err := h.GetPkarrURL()
	require.NoError(t, err)
	require.NotEmpty(t, url)
}

func TestSubscribeTopicFailsWithoutSubscriber(t *testing.T) {
	h := openHandle(t)
	_, err := h.SubscribeRoomTopic("some-room")
	require.Error(t, err)
}

func TestResolvePkarrFailsWithoutResolver(t *testing.T) {
	h := openHandle(t)
	_, found, err := h.ResolvePkarr("whatever")
	require.Error(t, err)
	require.False(t, found)
}
