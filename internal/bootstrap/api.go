package bootstrap

import (
	"crypto/ed25519"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/joindelta/delta/internal/auth"
	"github.com/joindelta/delta/internal/blob"
	"github.com/joindelta/delta/internal/encryption"
	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/gossip"
	"github.com/joindelta/delta/internal/onion"
	"github.com/joindelta/delta/internal/oplog"
	"github.com/joindelta/delta/internal/ops"
	"github.com/joindelta/delta/internal/pkarr"
	"github.com/joindelta/delta/internal/readmodel"
	"github.com/joindelta/delta/internal/topic"
)

// This file is the §6 external interface: the callable surface an upstream
// UI drives, each function taking the Handle in place of the source's
// global core accessor. Every mutating call publishes a signed operation and
// returns the op hash as the entity id immediately — the id is a pure
// function of the header, so callers never wait on the projector to learn
// it, even though the read model itself only reflects the change after the
// next tick.

// nextSeqAndBacklink looks up the local identity's current tip on logID so
// the next op in that log can be built.
func (h *Handle) nextSeqAndBacklink(logID oplog.LogID) (uint64, *oplog.Hash, error) {
	latest, found, err := h.Oplog.Latest(h.Identity.PublicHex(), logID)
	if err != nil {
		return 0, nil, err
	}
	if !found {
		return 0, nil, nil
	}
	hash, err := latest.Hash()
	if err != nil {
		return 0, nil, err
	}
	return latest.SeqNum + 1, &hash, nil
}

// publish signs and inserts body as the next op on logID for the local
// identity, and returns the new op's hash — used as org_id/room_id/
// message_id/thread_id by callers. t is the topic the op is announced on:
// callers pick their own resource's topic (or a discovery scope, for an
// entity nobody is subscribed to yet) rather than having one derived
// generically from logID, since the right scope depends on which org/room/
// DM thread the body actually targets.
func (h *Handle) publish(logID oplog.LogID, t topic.ID, body interface{}) (oplog.Hash, error) {
	encoded, err := cbor.Marshal(body)
	if err != nil {
		return oplog.Hash{}, errs.WrapPersistence(err, "encode %s op body", logID)
	}
	seqNum, backlink, err := h.nextSeqAndBacklink(logID)
	if err != nil {
		return oplog.Hash{}, err
	}
	op, err := oplog.New(h.Identity.Private, logID, seqNum, backlink, time.Now().UnixMicro(), encoded)
	if err != nil {
		return oplog.Hash{}, err
	}
	if err := h.Oplog.Insert(op); err != nil {
		return oplog.Hash{}, err
	}
	hash, err := op.Hash()
	if err != nil {
		return oplog.Hash{}, err
	}
	h.publishGossip(t, logID, op)
	return hash, nil
}

// publishGossip best-effort announces a freshly published op on topic t.
// Per §5, network publishes are fire-and-forget: failures are logged, never
// surfaced, since the op is already durable locally.
func (h *Handle) publishGossip(t topic.ID, logID oplog.LogID, op oplog.Operation) {
	if h.Publisher == nil {
		return
	}
	env, err := gossip.WrapOp(op)
	if err != nil {
		h.log.WithError(err).Warn("failed to wrap op for gossip")
		return
	}
	raw, err := env.Encode()
	if err != nil {
		h.log.WithError(err).Warn("failed to encode gossip envelope")
		return
	}
	if err := h.Publisher.Publish(t, raw); err != nil {
		h.log.WithError(err).WithField("log_id", logID).Warn("failed to publish op")
	}
}

// channelNameRule matches §7's channel-name rule: lowercase ASCII
// letter/digit, inner hyphens/underscores, must start and end with a
// letter/digit, no "--" or "__", length 1-50.
var channelNameRule = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9]|-(?:[a-z0-9])|_(?:[a-z0-9]))*$`)

func validateChannelName(name string) error {
	if len(name) < 1 || len(name) > 50 {
		return errs.InvalidInput("channel name must be 1-50 characters, got %d", len(name))
	}
	if !channelNameRule.MatchString(name) {
		return errs.InvalidInput("channel name %q violates the naming rule", name)
	}
	return nil
}

// CreateOrUpdateProfile implements create_or_update_profile. Profiles have
// no per-owner subscriber topic of their own, so the announcement goes out
// on the owner's discovery scope. GetProfile does not search that scope; it
// reads only the local read model.
func (h *Handle) CreateOrUpdateProfile(username, bio string, availableFor []string, isPublic bool) error {
	_, err := h.publish(oplog.LogProfile, topic.Discovery(h.Identity.PublicHex()), ops.ProfileOp{
		Username: username, Bio: bio, AvailableFor: availableFor, IsPublic: isPublic,
	})
	return err
}

func (h *Handle) GetMyProfile() (readmodel.Profile, bool, error) {
	return h.ReadModel.GetProfile(h.Identity.PublicHex())
}

func (h *Handle) GetProfile(publicKeyHex string) (readmodel.Profile, bool, error) {
	return h.ReadModel.GetProfile(publicKeyHex)
}

// CreateOrg implements create_org, returning the new org's id. Nobody can
// have subscribed to the new org's own topic yet, so the announcement goes
// out on the public-org discovery scope instead.
func (h *Handle) CreateOrg(name, typeLabel, description string, isPublic bool) (string, error) {
	hash, err := h.publish(oplog.LogOrg, topic.Discovery("orgs"), ops.OrgOp{
		Kind: ops.OrgCreate, Name: name, TypeLabel: typeLabel, Description: description, IsPublic: isPublic,
	})
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

// UpdateOrg implements update_org.
func (h *Handle) UpdateOrg(orgID, name, typeLabel, description string, isPublic bool) error {
	_, err := h.publish(oplog.LogOrg, topic.Org(orgID), ops.OrgOp{
		Kind: ops.OrgUpdate, TargetOrgID: orgID, Name: name, TypeLabel: typeLabel, Description: description, IsPublic: isPublic,
	})
	return err
}

func (h *Handle) ListMyOrgs() ([]readmodel.Organization, error) {
	return h.ReadModel.ListMyOrgs(h.Identity.PublicHex())
}

func (h *Handle) SearchPublicOrgs(query string) ([]readmodel.Organization, error) {
	return h.ReadModel.SearchPublicOrgs(query)
}

// CreateRoom implements create_room, returning the new room's id. Announced
// on the owning org's topic, since every org member already subscribes
// there per KnownTopics.
func (h *Handle) CreateRoom(orgID, name string) (string, error) {
	if err := validateChannelName(name); err != nil {
		return "", err
	}
	hash, err := h.publish(oplog.LogRoom, topic.Org(orgID), ops.RoomOp{Kind: ops.RoomCreate, OrgID: orgID, Name: name})
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

func (h *Handle) RenameRoom(roomID, name string) error {
	if err := validateChannelName(name); err != nil {
		return err
	}
	_, err := h.publish(oplog.LogRoom, topic.Room(roomID), ops.RoomOp{Kind: ops.RoomRename, TargetRoomID: roomID, Name: name})
	return err
}

func (h *Handle) ArchiveRoom(roomID string) error {
	_, err := h.publish(oplog.LogRoom, topic.Room(roomID), ops.RoomOp{Kind: ops.RoomArchive, TargetRoomID: roomID})
	return err
}

func (h *Handle) UnarchiveRoom(roomID string) error {
	_, err := h.publish(oplog.LogRoom, topic.Room(roomID), ops.RoomOp{Kind: ops.RoomUnarchive, TargetRoomID: roomID})
	return err
}

func (h *Handle) DeleteRoom(roomID string) error {
	_, err := h.publish(oplog.LogRoom, topic.Room(roomID), ops.RoomOp{Kind: ops.RoomDelete, TargetRoomID: roomID})
	return err
}

func (h *Handle) ListRooms(orgID string, includeArchived bool) ([]readmodel.Room, error) {
	return h.ReadModel.ListRooms(orgID, includeArchived)
}

// messageTopic derives the topic a message op belongs on: the room's topic,
// or the DM pair's topic once the thread's other participant is known.
func (h *Handle) messageTopic(roomID, dmThreadID string) (topic.ID, error) {
	if roomID != "" {
		return topic.Room(roomID), nil
	}
	thread, found, err := h.ReadModel.GetDMThread(dmThreadID)
	if err != nil {
		return topic.ID{}, err
	}
	if !found {
		return topic.ID{}, errs.InvalidInput("unknown dm thread %s", dmThreadID)
	}
	return topic.DM(thread.InitiatorKey, thread.RecipientKey), nil
}

// SendMessage implements send_message, returning the new message's id.
// Exactly one of roomID/dmThreadID should be set, matching the spec's
// room_id? | dm_thread_id? parameter shape.
func (h *Handle) SendMessage(roomID, dmThreadID string, contentType ops.MessageContentType, text, blobID, embedURL string, mentions []string, replyTo string) (string, error) {
	t, err := h.messageTopic(roomID, dmThreadID)
	if err != nil {
		return "", err
	}
	hash, err := h.publish(oplog.LogMessage, t, ops.MessageOp{
		Kind: ops.MessageCreate, RoomID: roomID, DMThreadID: dmThreadID,
		ContentType: contentType, Text: text, BlobID: blobID, EmbedURL: embedURL,
		Mentions: mentions, ReplyTo: replyTo,
	})
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

// DeleteMessage implements a message-log delete op, announced on the same
// topic as the original message so anyone already subscribed to it sees the
// tombstone.
func (h *Handle) DeleteMessage(messageID string) error {
	msg, found, err := h.ReadModel.GetMessage(messageID)
	if err != nil {
		return err
	}
	var t topic.ID
	if found {
		t, err = h.messageTopic(msg.RoomID, msg.DMThreadID)
		if err != nil {
			return err
		}
	} else {
		t = topic.Discovery(h.Identity.PublicHex())
	}
	_, err = h.publish(oplog.LogMessage, t, ops.MessageOp{Kind: ops.MessageDelete, TargetMessageID: messageID})
	return err
}

func (h *Handle) ListMessages(roomID, dmThreadID string, limit int, beforeTimestamp int64) ([]readmodel.Message, error) {
	return h.ReadModel.ListMessages(roomID, dmThreadID, limit, beforeTimestamp)
}

// CreateDMThread implements create_dm_thread, returning the new thread's id.
func (h *Handle) CreateDMThread(recipientKeyHex string) (string, error) {
	t := topic.DM(h.Identity.PublicHex(), recipientKeyHex)
	hash, err := h.publish(oplog.LogDMThread, t, ops.DMThreadOp{RecipientKey: recipientKeyHex})
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

func (h *Handle) ListDMThreads() ([]readmodel.DMThread, error) {
	return h.ReadModel.ListDMThreads(h.Identity.PublicHex())
}

// SubscribeRoomTopic implements subscribe_room_topic.
func (h *Handle) SubscribeRoomTopic(roomID string) (func(), error) {
	return h.subscribeTopic(topic.Room(roomID))
}

// SubscribeDMTopic implements subscribe_dm_topic. The topic is derived from
// the thread's two participants, exactly as messageTopic/CreateDMThread do —
// threadID itself is an op hash, not a peer key, and must never be passed to
// topic.DM directly.
func (h *Handle) SubscribeDMTopic(threadID string) (func(), error) {
	thread, found, err := h.ReadModel.GetDMThread(threadID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.InvalidInput("unknown dm thread %s", threadID)
	}
	return h.subscribeTopic(topic.DM(thread.InitiatorKey, thread.RecipientKey))
}

func (h *Handle) subscribeTopic(t topic.ID) (func(), error) {
	if h.subscriber == nil {
		return nil, errs.Network("no subscriber configured")
	}
	_, unsub, err := h.subscriber.Subscribe(t)
	if err != nil {
		return nil, errs.WrapNetwork(err, "subscribe to topic %s", t.Hex())
	}
	h.unsubs = append(h.unsubs, unsub)
	return unsub, nil
}

// GenerateInviteToken implements generate_invite_token.
func (h *Handle) GenerateInviteToken(orgID, levelStr string, expiryMicros int64) (string, error) {
	level, err := auth.ParseLevel(levelStr)
	if err != nil {
		return "", err
	}
	return auth.GenerateInviteToken(h.Identity.Private, orgID, level, expiryMicros)
}

// VerifyInviteToken implements verify_invite_token.
func (h *Handle) VerifyInviteToken(b64 string, nowMicros int64) (auth.Token, error) {
	return auth.VerifyInviteToken(b64, nowMicros)
}

// membershipSnapshot loads every member of orgID into an auth.Membership the
// lattice helpers can authorize against.
func (h *Handle) membershipSnapshot(orgID string) (auth.Membership, error) {
	rows, err := h.ReadModel.ListOrgMembers(orgID)
	if err != nil {
		return nil, err
	}
	m := make(auth.Membership, len(rows))
	for _, row := range rows {
		lvl, err := auth.ParseLevel(row.AccessLevel)
		if err != nil {
			return nil, err
		}
		m[row.MemberKey] = lvl
	}
	return m, nil
}

// AddMemberDirect implements add_member_direct.
func (h *Handle) AddMemberDirect(orgID, memberHex, levelStr string) error {
	level, err := auth.ParseLevel(levelStr)
	if err != nil {
		return err
	}
	m, err := h.membershipSnapshot(orgID)
	if err != nil {
		return err
	}
	if _, err := auth.AddMember(m, h.Identity.PublicHex(), memberHex, level); err != nil {
		return err
	}
	_, err = h.publish(oplog.LogMembership, topic.Org(orgID), ops.MembershipOp{Kind: ops.MembershipAdd, OrgID: orgID, TargetKey: memberHex, Level: levelStr})
	return err
}

// RemoveMember implements remove_member.
func (h *Handle) RemoveMember(orgID, memberHex string) error {
	m, err := h.membershipSnapshot(orgID)
	if err != nil {
		return err
	}
	if _, err := auth.RemoveMember(m, h.Identity.PublicHex(), memberHex); err != nil {
		return err
	}
	_, err = h.publish(oplog.LogMembership, topic.Org(orgID), ops.MembershipOp{Kind: ops.MembershipRemove, OrgID: orgID, TargetKey: memberHex})
	return err
}

// ChangeMemberPermission implements change_member_permission.
func (h *Handle) ChangeMemberPermission(orgID, memberHex, levelStr string) error {
	level, err := auth.ParseLevel(levelStr)
	if err != nil {
		return err
	}
	m, err := h.membershipSnapshot(orgID)
	if err != nil {
		return err
	}
	if _, err := auth.ChangePermission(m, h.Identity.PublicHex(), memberHex, level); err != nil {
		return err
	}
	_, err = h.publish(oplog.LogMembership, topic.Org(orgID), ops.MembershipOp{Kind: ops.MembershipChange, OrgID: orgID, TargetKey: memberHex, Level: levelStr})
	return err
}

func (h *Handle) ListOrgMembers(orgID string) ([]readmodel.MembershipRow, error) {
	return h.ReadModel.ListOrgMembers(orgID)
}

// UploadBlob implements upload_blob, returning the hex blob hash.
func (h *Handle) UploadBlob(roomID string, secretID encryption.GroupSecretID, secret, plaintext []byte, mimeType string) (string, error) {
	hash, err := h.Blobs.Put(roomID, secretID, secret, plaintext, h.Identity.PublicHex(), mimeType)
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

// GetBlob implements get_blob.
func (h *Handle) GetBlob(blobHashHex string, secret []byte) ([]byte, blob.Meta, error) {
	raw, err := hex.DecodeString(blobHashHex)
	if err != nil {
		return nil, blob.Meta{}, errs.InvalidInput("blob hash is not valid hex: %v", err)
	}
	if len(raw) != len(blob.Hash{}) {
		return nil, blob.Meta{}, errs.InvalidInput("blob hash must be %d bytes, got %d", len(blob.Hash{}), len(raw))
	}
	var hash blob.Hash
	copy(hash[:], raw)
	return h.Blobs.Get(hash, secret)
}

// GetPkarrURL implements get_pkarr_url.
func (h *Handle) GetPkarrURL() (string, error) {
	return pkarr.GetURL(h.Identity.PublicHex())
}

// ResolvePkarr implements resolve_pkarr.
func (h *Handle) ResolvePkarr(z32Key string) (pkarr.Record, bool, error) {
	if h.pkarrResolver == nil {
		return pkarr.Record{}, false, errs.Network("no pkarr resolver configured")
	}
	return pkarr.Resolve(h.pkarrResolver, z32Key)
}

// BuildOnionPacket implements build_onion_packet.
func (h *Handle) BuildOnionPacket(hops []onion.Hop, topicID [32]byte, op []byte) ([]byte, error) {
	return onion.Build(hops, topicID, op)
}

// PeelOnionLayer implements peel_onion_layer.
func (h *Handle) PeelOnionLayer(packet []byte, recipientPriv ed25519.PrivateKey) (onion.Peeled, error) {
	return onion.Peel(packet, recipientPriv)
}

// IngestOp implements ingest_op: decode a gossip envelope arriving on
// topicHex at seq, and insert the reconstructed operation.
func (h *Handle) IngestOp(topicHex string, seq uint64, opBytes []byte) error {
	t, err := topic.ParseHex(topicHex)
	if err != nil {
		return err
	}
	inbound, err := gossip.Decode(opBytes, h.Identity.Private)
	if err != nil {
		return err
	}
	if err := h.Oplog.Insert(inbound.Op); err != nil {
		return err
	}
	return h.ReadModel.SetTopicSeq(t.Hex(), seq)
}

// GetTopicSeq implements get_topic_seq.
func (h *Handle) GetTopicSeq(topicHex string) (uint64, bool, error) {
	return h.ReadModel.GetTopicSeq(topicHex)
}
