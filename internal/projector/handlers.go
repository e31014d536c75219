package projector

import (
	"github.com/joindelta/delta/internal/encryption"
	"github.com/joindelta/delta/internal/oplog"
	"github.com/joindelta/delta/internal/ops"
	"github.com/joindelta/delta/internal/readmodel"
)

func (p *Projector) handleProfile(authorHex string, op oplog.Stored) error {
	var body ops.ProfileOp
	if err := decodeBody(op.Body, &body); err != nil {
		return err
	}
	row := readmodel.Profile{
		PublicKeyHex: authorHex,
		Username:     body.Username,
		AvatarBlobID: body.AvatarBlobID,
		Bio:          body.Bio,
		AvailableFor: body.AvailableFor,
		IsPublic:     body.IsPublic,
		CreatedAt:    op.Header.Timestamp,
		UpdatedAt:    op.Header.Timestamp,
	}
	if err := p.rm.UpsertProfile(row); err != nil {
		return err
	}
	if len(body.PreKeyBundle) == 0 {
		return nil
	}
	return p.registerBundle(authorHex, body.PreKeyBundle)
}

func (p *Projector) handleKeyBundle(authorHex string, op oplog.Stored) error {
	var body ops.KeyBundleOp
	if err := decodeBody(op.Body, &body); err != nil {
		return err
	}
	return p.registerBundle(authorHex, body.Bundle)
}

// registerBundle learns a peer's freshly published pre-keys. It is a no-op
// for our own identity: a key manager only ever consumes its own records,
// never entries looked up by owner hex in the registry.
func (p *Projector) registerBundle(authorHex string, bundle []encryption.PreKeyPublic) error {
	if authorHex == p.enc.OwnerHex() {
		return nil
	}
	p.enc.KeyRegistry().Add(authorHex, bundle)
	return p.enc.PersistSingletons()
}

func (p *Projector) handleOrg(authorHex, opHashHex string, op oplog.Stored) error {
	var body ops.OrgOp
	if err := decodeBody(op.Body, &body); err != nil {
		return err
	}
	switch body.Kind {
	case ops.OrgCreate:
		return p.rm.CreateOrg(readmodel.Organization{
			OrgID:        opHashHex,
			Name:         body.Name,
			TypeLabel:    body.TypeLabel,
			Description:  body.Description,
			AvatarBlobID: body.AvatarBlobID,
			CoverBlobID:  body.CoverBlobID,
			IsPublic:     body.IsPublic,
			CreatorKey:   authorHex,
			CreatedAt:    op.Header.Timestamp,
		})
	case ops.OrgUpdate:
		existing, found, err := p.rm.GetOrg(body.TargetOrgID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		set := func(dst *string, v string) {
			if v != "" {
				*dst = v
			}
		}
		set(&existing.Name, body.Name)
		set(&existing.TypeLabel, body.TypeLabel)
		set(&existing.Description, body.Description)
		set(&existing.AvatarBlobID, body.AvatarBlobID)
		set(&existing.CoverBlobID, body.CoverBlobID)
		existing.IsPublic = body.IsPublic
		return p.rm.UpdateOrg(body.TargetOrgID, existing)
	default:
		return nil
	}
}

func (p *Projector) handleRoom(authorHex, opHashHex string, op oplog.Stored) error {
	var body ops.RoomOp
	if err := decodeBody(op.Body, &body); err != nil {
		return err
	}
	switch body.Kind {
	case ops.RoomCreate:
		return p.rm.CreateRoom(readmodel.Room{
			RoomID:    opHashHex,
			OrgID:     body.OrgID,
			Name:      body.Name,
			CreatedBy: authorHex,
			CreatedAt: op.Header.Timestamp,
		})
	case ops.RoomRename:
		return p.rm.RenameRoom(body.TargetRoomID, body.Name)
	case ops.RoomArchive:
		return p.rm.ArchiveRoom(body.TargetRoomID, op.Header.Timestamp)
	case ops.RoomUnarchive:
		return p.rm.UnarchiveRoom(body.TargetRoomID)
	case ops.RoomDelete:
		return p.rm.DeleteRoom(body.TargetRoomID)
	default:
		return nil
	}
}

func (p *Projector) handleMessage(authorHex, opHashHex string, op oplog.Stored) error {
	var body ops.MessageOp
	if err := decodeBody(op.Body, &body); err != nil {
		return err
	}
	switch body.Kind {
	case ops.MessageCreate:
		if err := p.rm.UpsertMessage(readmodel.Message{
			MessageID:   opHashHex,
			RoomID:      body.RoomID,
			DMThreadID:  body.DMThreadID,
			AuthorKey:   authorHex,
			ContentType: string(body.ContentType),
			Text:        body.Text,
			BlobID:      body.BlobID,
			EmbedURL:    body.EmbedURL,
			Mentions:    body.Mentions,
			ReplyTo:     body.ReplyTo,
			Timestamp:   op.Header.Timestamp,
		}); err != nil {
			return err
		}
		if body.DMThreadID != "" {
			return p.rm.TouchDMThread(body.DMThreadID, op.Header.Timestamp)
		}
		return nil
	case ops.MessageDelete:
		return p.rm.SetMessageDeleted(body.TargetMessageID, true)
	default:
		return nil
	}
}

func (p *Projector) handleReaction(authorHex string, op oplog.Stored) error {
	var body ops.ReactionOp
	if err := decodeBody(op.Body, &body); err != nil {
		return err
	}
	switch body.Kind {
	case ops.ReactionAdd:
		return p.rm.AddReaction(readmodel.Reaction{
			MessageID:  body.MessageID,
			Emoji:      body.Emoji,
			ReactorKey: authorHex,
			CreatedAt:  op.Header.Timestamp,
		})
	case ops.ReactionRemove:
		return p.rm.RemoveReaction(body.MessageID, body.Emoji, authorHex)
	default:
		return nil
	}
}

func (p *Projector) handleDMThread(authorHex, opHashHex string, op oplog.Stored) error {
	var body ops.DMThreadOp
	if err := decodeBody(op.Body, &body); err != nil {
		return err
	}
	return p.rm.CreateDMThread(readmodel.DMThread{
		ThreadID:     opHashHex,
		InitiatorKey: authorHex,
		RecipientKey: body.RecipientKey,
		CreatedAt:    op.Header.Timestamp,
	})
}

func (p *Projector) handleMembership(op oplog.Stored) error {
	var body ops.MembershipOp
	if err := decodeBody(op.Body, &body); err != nil {
		return err
	}
	switch body.Kind {
	case ops.MembershipAdd, ops.MembershipChange:
		return p.rm.SetMembership(body.OrgID, body.TargetKey, body.Level, op.Header.Timestamp)
	case ops.MembershipRemove:
		return p.rm.RemoveMembership(body.OrgID, body.TargetKey)
	default:
		return nil
	}
}

// handleEncControl folds a DCGKA control message into the encryption
// coordinator's state. A control message not yet committed (a message-scheme
// proposal still awaiting quorum) is only meaningful to members who already
// hold the group; a node with no local state for that group has nothing to
// ratchet yet and simply waits for a later, committed control message.
func (p *Projector) handleEncControl(op oplog.Stored) error {
	var ctrl encryption.ControlMessage
	if err := decodeBody(op.Body, &ctrl); err != nil {
		return err
	}
	has, err := p.enc.HasGroup(ctrl.GroupID)
	if err != nil {
		return err
	}
	if has {
		_, err := p.enc.ApplyGroupControl(ctrl.GroupID, ctrl)
		return err
	}
	if !ctrl.Committed {
		return nil
	}
	return p.acceptWelcomeIfAddressedToUs(ctrl)
}

// handleEncDirect observes a standalone directed message addressed via
// recipient_key. The actual welcome and rekey material travels embedded in
// the paired enc_ctrl op's Directs (see acceptWelcomeIfAddressedToUs); this
// handler only validates the op decodes and is silently dropped when it is
// not addressed to us, matching §4.7's "not for us, drop silently" rule for
// directed envelopes in general.
func (p *Projector) handleEncDirect(authorHex string, op oplog.Stored) error {
	var direct encryption.DirectMessage
	return decodeBody(op.Body, &direct)
}

func (p *Projector) acceptWelcomeIfAddressedToUs(ctrl encryption.ControlMessage) error {
	owner := p.enc.OwnerHex()
	var mine *encryption.DirectMessage
	members := map[string]struct{}{ctrl.Actor: {}}
	for i := range ctrl.Directs {
		d := ctrl.Directs[i]
		members[d.Recipient] = struct{}{}
		if d.Recipient == owner {
			mine = &ctrl.Directs[i]
		}
	}
	if mine == nil {
		return nil
	}
	scheme, err := p.schemeForGroup(ctrl.GroupID)
	if err != nil {
		return err
	}
	memberList := make([]string, 0, len(members))
	for m := range members {
		memberList = append(memberList, m)
	}
	_, err = p.enc.JoinGroup(scheme, ctrl.GroupID, owner, memberList, *mine)
	return err
}

// schemeForGroup infers a group's DCGKA scheme from which read-model table
// already knows its id: rooms always use the post-compromise-secure data
// scheme, DM threads always use the forward-secure message scheme.
func (p *Projector) schemeForGroup(groupID string) (encryption.Scheme, error) {
	if _, found, err := p.rm.GetRoom(groupID); err != nil {
		return 0, err
	} else if found {
		return encryption.SchemeData, nil
	}
	return encryption.SchemeMessage, nil
}
