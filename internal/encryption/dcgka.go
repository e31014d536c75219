package encryption

import (
	"crypto/rand"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/keys"
)

const (
	groupAppInfo = "delta:group-app:v1"
	groupWelcomeInfo = "delta:group-welcome:v1"
	groupRekeyInfo   = "delta:group-rekey:v1"
)

func newGroupSecret() (GroupSecretID, []byte, error) {
	var id GroupSecretID
	if _, err := rand.Read(id[:]); err != nil {
		return id, nil, errs.WrapCrypto(err, "generate group secret id")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return id, nil, errs.WrapCrypto(err, "generate group secret")
	}
	return id, secret, nil
}

// wrapToPeer seals secretID||secret for a recipient identified by one of
// their published pre-keys, the per-member welcome mechanism both init_group
// and every later rekey use to bring a new member in.
func wrapToPeer(secretID GroupSecretID, secret []byte, recipientHex string, preKey PreKeyPublic) (DirectMessage, error) {
	ephPub, ephPriv, err := keys.NewEphemeralX25519()
	if err != nil {
		return DirectMessage{}, err
	}
	shared, err := keys.ECDH(ephPriv, preKey.Pub)
	if err != nil {
		return DirectMessage{}, err
	}
	key, err := keys.HKDF(shared, ephPub, groupWelcomeInfo, chacha20poly1305.KeySize)
	if err != nil {
		return DirectMessage{}, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return DirectMessage{}, errs.WrapCrypto(err, "construct welcome aead")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return DirectMessage{}, errs.WrapCrypto(err, "generate welcome nonce")
	}
	payload := make([]byte, 0, 64)
	payload = append(payload, secretID[:]...)
	payload = append(payload, secret...)
	ciphertext := aead.Seal(nil, nonce, payload, nil)
	return DirectMessage{
		Recipient:    recipientHex,
		PreKeyID:     preKey.ID,
		EphemeralPub: ephPub,
		Nonce:        nonce,
		Ciphertext:   ciphertext,
	}, nil
}

// unwrapDirect is the recipient side of wrapToPeer: it derives the shared
// secret from the recipient's own (consumed) pre-key private scalar and the
// ephemeral public key carried in the message.
func unwrapDirect(direct DirectMessage, localPreKeyPriv []byte) (GroupSecretID, []byte, error) {
	shared, err := keys.ECDH(localPreKeyPriv, direct.EphemeralPub)
	if err != nil {
		return GroupSecretID{}, nil, err
	}
	key, err := keys.HKDF(shared, direct.EphemeralPub, groupWelcomeInfo, chacha20poly1305.KeySize)
	if err != nil {
		return GroupSecretID{}, nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return GroupSecretID{}, nil, errs.WrapCrypto(err, "construct welcome aead")
	}
	plaintext, err := aead.Open(nil, direct.Nonce, direct.Ciphertext, nil)
	if err != nil {
		return GroupSecretID{}, nil, errs.Crypto("dcgka: welcome message failed to decrypt")
	}
	if len(plaintext) != 64 {
		return GroupSecretID{}, nil, errs.InvalidInput("dcgka: malformed welcome payload")
	}
	var id GroupSecretID
	copy(id[:], plaintext[:32])
	secret := append([]byte(nil), plaintext[32:]...)
	return id, secret, nil
}

// rekeySeal/rekeyOpen carry a new group secret to continuing members, keyed
// off the secret they already hold rather than a fresh ECDH per member.
func rekeySeal(oldSecret []byte, newSecretID GroupSecretID, newSecret []byte) (nonce, ciphertext []byte, err error) {
	key, err := keys.HKDF(oldSecret, nil, groupRekeyInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, errs.WrapCrypto(err, "construct rekey aead")
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, errs.WrapCrypto(err, "generate rekey nonce")
	}
	payload := make([]byte, 0, 64)
	payload = append(payload, newSecretID[:]...)
	payload = append(payload, newSecret...)
	ciphertext = aead.Seal(nil, nonce, payload, nil)
	return nonce, ciphertext, nil
}

func rekeyOpen(oldSecret, nonce, ciphertext []byte) (GroupSecretID, []byte, error) {
	key, err := keys.HKDF(oldSecret, nil, groupRekeyInfo, chacha20poly1305.KeySize)
	if err != nil {
		return GroupSecretID{}, nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return GroupSecretID{}, nil, errs.WrapCrypto(err, "construct rekey aead")
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return GroupSecretID{}, nil, errs.Crypto("dcgka: rekey message failed to decrypt")
	}
	if len(plaintext) != 64 {
		return GroupSecretID{}, nil, errs.InvalidInput("dcgka: malformed rekey payload")
	}
	var id GroupSecretID
	copy(id[:], plaintext[:32])
	secret := append([]byte(nil), plaintext[32:]...)
	return id, secret, nil
}

func appKey(secret []byte, generation uint64) ([]byte, error) {
	info := make([]byte, 0, len(groupAppInfo)+8)
	info = append(info, groupAppInfo...)
	var genBytes [8]byte
	for i := 0; i < 8; i++ {
		genBytes[i] = byte(generation >> (8 * (7 - i)))
	}
	info = append(info, genBytes[:]...)
	return keys.HKDF(secret, nil, string(info), chacha20poly1305.KeySize)
}

// InitGroup creates a brand new group of scheme (rooms use SchemeData, DM
// threads use SchemeMessage), local is the creator, and members is the
// initial roster excluding local. A pre-key is consumed from kr for every
// invited member; the returned ControlMessage's Directs carry their welcome.
func InitGroup(kr *KeyRegistry, scheme Scheme, groupID, localHex string, members []string) (GroupState, ControlMessage, error) {
	secretID, secret, err := newGroupSecret()
	if err != nil {
		return GroupState{}, ControlMessage{}, err
	}

	memberSet := map[string]struct{}{localHex: {}}
	var directs []DirectMessage
	for _, m := range members {
		if m == localHex {
			continue
		}
		memberSet[m] = struct{}{}
		preKey, err := kr.ConsumePreKey(m)
		if err != nil {
			return GroupState{}, ControlMessage{}, err
		}
		d, err := wrapToPeer(secretID, secret, m, preKey)
		if err != nil {
			return GroupState{}, ControlMessage{}, err
		}
		directs = append(directs, d)
	}

	ctrl := ControlMessage{
		GroupID:   groupID,
		OpID:      uuid.New().String(),
		Kind:      ControlInit,
		Actor:     localHex,
		Committed: true,
		SecretID:  secretID,
		Directs:   directs,
	}

	var state GroupState
	switch scheme {
	case SchemeData:
		state = GroupState{Scheme: SchemeData, Data: &DataGroupState{
			GroupID: groupID, LocalHex: localHex, Members: memberSet, SecretID: secretID, Secret: secret,
		}}
	default:
		state = GroupState{Scheme: SchemeMessage, Message: &MessageGroupState{
			GroupID: groupID, LocalHex: localHex, Members: memberSet,
			Removed:     map[string]struct{}{},
			PendingByOp: map[string]pendingMutation{},
			AcksByOp:    map[string]map[string]struct{}{},
			SecretID:    secretID, Secret: secret,
		}}
	}
	return state, ctrl, nil
}

// WelcomeToGroup is how an invited member joins: it consumes its own
// matching local pre-key to unwrap the secret carried in direct.
func WelcomeToGroup(km *KeyManager, scheme Scheme, groupID, localHex string, members []string, direct DirectMessage) (GroupState, error) {
	preKeyPriv, err := km.ConsumePreKey(PreKeyPublic{ID: direct.PreKeyID}.IDHex())
	if err != nil {
		return GroupState{}, err
	}
	secretID, secret, err := unwrapDirect(direct, preKeyPriv)
	if err != nil {
		return GroupState{}, err
	}
	memberSet := make(map[string]struct{}, len(members))
	for _, m := range members {
		memberSet[m] = struct{}{}
	}
	memberSet[localHex] = struct{}{}

	switch scheme {
	case SchemeData:
		return GroupState{Scheme: SchemeData, Data: &DataGroupState{
			GroupID: groupID, LocalHex: localHex, Members: memberSet, SecretID: secretID, Secret: secret,
		}}, nil
	default:
		return GroupState{Scheme: SchemeMessage, Message: &MessageGroupState{
			GroupID: groupID, LocalHex: localHex, Members: memberSet,
			Removed:     map[string]struct{}{},
			PendingByOp: map[string]pendingMutation{},
			AcksByOp:    map[string]map[string]struct{}{},
			SecretID:    secretID, Secret: secret,
		}}, nil
	}
}

// Send encrypts plaintext under state's current application key, ratcheting
// the message scheme's generation counter forward; the data scheme has no
// generation so its counter stays at zero.
func Send(state GroupState, localHex string, plaintext []byte) (GroupState, ApplicationMessage, error) {
	next := state.clone()
	var secret []byte
	var secretID GroupSecretID
	var generation uint64
	if next.Data != nil {
		secret, secretID = next.Data.Secret, next.Data.SecretID
	} else {
		secret, secretID = next.Message.Secret, next.Message.SecretID
		generation = next.Message.Generation
		next.Message.Generation++
	}

	key, err := appKey(secret, generation)
	if err != nil {
		return state, ApplicationMessage{}, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return state, ApplicationMessage{}, errs.WrapCrypto(err, "construct application aead")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return state, ApplicationMessage{}, errs.WrapCrypto(err, "generate application nonce")
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return next, ApplicationMessage{
		GroupID: next.GroupID(), SecretID: secretID, Generation: generation,
		Nonce: nonce, Ciphertext: ciphertext, SenderHex: localHex,
	}, nil
}

// ReceiveApplication decrypts msg against state, which must already hold the
// secret generation msg.Generation was sent under (the message scheme keeps
// only the current secret, so out-of-generation messages fail — matching
// original_source's forward-secure scheme, which never retains spent keys).
func ReceiveApplication(state GroupState, msg ApplicationMessage) ([]byte, error) {
	var secret []byte
	var secretID GroupSecretID
	var generation uint64
	if state.Data != nil {
		secret, secretID = state.Data.Secret, state.Data.SecretID
	} else {
		secret, secretID = state.Message.Secret, state.Message.SecretID
		generation = state.Message.Generation
	}
	if secretID != msg.SecretID || generation != msg.Generation {
		return nil, errs.Crypto("dcgka: application message is for a stale group secret generation")
	}
	key, err := appKey(secret, msg.Generation)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errs.WrapCrypto(err, "construct application aead")
	}
	plaintext, err := aead.Open(nil, msg.Nonce, msg.Ciphertext, nil)
	if err != nil {
		return nil, errs.Crypto("dcgka: application message failed to decrypt")
	}
	return plaintext, nil
}

// ProposeMembershipChange starts an add or remove. The data scheme commits
// immediately: it mutates membership, rotates the secret, and returns a
// committed ControlMessage ready to broadcast. The message scheme instead
// records the mutation as pending and returns an uncommitted proposal —
// callers must drive it to commitment via Ack.
func ProposeMembershipChange(km *KeyManager, kr *KeyRegistry, state GroupState, actorHex, targetHex string, add bool) (GroupState, ControlMessage, error) {
	kind := ControlAdd
	if !add {
		kind = ControlRemove
	}

	if state.Data != nil {
		return commitMembershipChange(kr, state, uuid.New().String(), actorHex, targetHex, add, kind)
	}

	next := state.clone()
	opID := uuid.New().String()
	next.Message.PendingByOp[opID] = pendingMutation{Actor: actorHex, Target: targetHex, IsAdd: add}
	next.Message.AcksByOp[opID] = map[string]struct{}{actorHex: {}}
	return next, ControlMessage{
		GroupID: next.GroupID(), OpID: opID, Kind: kind, Actor: actorHex, Target: targetHex, Committed: false,
	}, nil
}

// ApplyControl is how a receiver (not the proposer) folds an incoming
// control message into its own state: a committed message rekeys directly;
// an uncommitted one just registers the pending proposal so the receiver can
// later Ack it.
func ApplyControl(state GroupState, ctrl ControlMessage) (GroupState, error) {
	if ctrl.Committed {
		return applyCommittedControl(state, ctrl)
	}
	if state.Data != nil {
		return state, errs.InvalidInput("dcgka: data scheme groups never receive uncommitted control messages")
	}
	next := state.clone()
	if _, exists := next.Message.PendingByOp[ctrl.OpID]; !exists {
		next.Message.PendingByOp[ctrl.OpID] = pendingMutation{Actor: ctrl.Actor, Target: ctrl.Target, IsAdd: ctrl.Kind == ControlAdd}
		next.Message.AcksByOp[ctrl.OpID] = map[string]struct{}{ctrl.Actor: {}}
	}
	return next, nil
}

// Ack records ackerHex's acknowledgement of a pending message-scheme
// mutation. Once a strict majority of the current membership has acked,
// the mutation commits and the returned ControlMessage carries the rekey
// material to broadcast, with commitMade=true.
func Ack(kr *KeyRegistry, state GroupState, opID, ackerHex string) (newState GroupState, commitMade bool, commit ControlMessage, err error) {
	if state.Message == nil {
		return state, false, ControlMessage{}, errs.InvalidInput("dcgka: ack is only meaningful for the message scheme")
	}
	next := state.clone()
	pend, ok := next.Message.PendingByOp[opID]
	if !ok {
		return state, false, ControlMessage{}, errs.InvalidInput("dcgka: no pending mutation %s", opID)
	}
	acks := next.Message.AcksByOp[opID]
	if acks == nil {
		acks = map[string]struct{}{}
		next.Message.AcksByOp[opID] = acks
	}
	acks[ackerHex] = struct{}{}

	quorum := len(next.Message.Members)/2 + 1
	if len(acks) < quorum {
		return next, false, ControlMessage{}, nil
	}

	delete(next.Message.PendingByOp, opID)
	delete(next.Message.AcksByOp, opID)
	wrapped := GroupState{Scheme: SchemeMessage, Message: next.Message}
	committedState, ctrl, commitErr := commitMembershipChange(kr, wrapped, opID, pend.Actor, pend.Target, pend.IsAdd, kindOf(pend.IsAdd))
	if commitErr != nil {
		return state, false, ControlMessage{}, commitErr
	}
	return committedState, true, ctrl, nil
}

func kindOf(isAdd bool) ControlKind {
	if isAdd {
		return ControlAdd
	}
	return ControlRemove
}

// commitMembershipChange mutates membership, mints a new group secret, and
// wraps it for every continuing member (via the rekey ciphertext) and for a
// newly added member (via a fresh pre-key welcome), kr may be nil for a
// remove, since removal never needs a new pre-key.
func commitMembershipChange(kr *KeyRegistry, state GroupState, opID, actorHex, targetHex string, add bool, kind ControlKind) (GroupState, ControlMessage, error) {
	next := state.clone()
	members := next.Members()
	oldSecret := currentSecret(next)

	newSecretID, newSecret, err := newGroupSecret()
	if err != nil {
		return state, ControlMessage{}, err
	}

	var directs []DirectMessage
	if add {
		members[targetHex] = struct{}{}
		preKey, err := kr.ConsumePreKey(targetHex)
		if err != nil {
			return state, ControlMessage{}, err
		}
		d, err := wrapToPeer(newSecretID, newSecret, targetHex, preKey)
		if err != nil {
			return state, ControlMessage{}, err
		}
		directs = append(directs, d)
	} else {
		delete(members, targetHex)
		if next.Message != nil {
			next.Message.Removed[targetHex] = struct{}{}
		}
	}

	nonce, ciphertext, err := rekeySeal(oldSecret, newSecretID, newSecret)
	if err != nil {
		return state, ControlMessage{}, err
	}
	setSecret(next, newSecretID, newSecret)

	ctrl := ControlMessage{
		GroupID: next.GroupID(), OpID: opID, Kind: kind, Actor: actorHex, Target: targetHex, Committed: true,
		SecretID: newSecretID, RekeyNonce: nonce, RekeyCiphertext: ciphertext, Directs: directs,
	}
	return next, ctrl, nil
}

// applyCommittedControl is the continuing-member path: decrypt the rekey
// payload against the secret already held, then apply the same membership
// edit the proposer applied.
func applyCommittedControl(state GroupState, ctrl ControlMessage) (GroupState, error) {
	next := state.clone()
	oldSecret := currentSecret(next)
	secretID, secret, err := rekeyOpen(oldSecret, ctrl.RekeyNonce, ctrl.RekeyCiphertext)
	if err != nil {
		return state, err
	}
	if ctrl.Kind == ControlAdd {
		next.Members()[ctrl.Target] = struct{}{}
	} else if ctrl.Kind == ControlRemove {
		delete(next.Members(), ctrl.Target)
		if next.Message != nil {
			next.Message.Removed[ctrl.Target] = struct{}{}
		}
	}
	setSecret(next, secretID, secret)
	return next, nil
}

func currentSecret(state GroupState) []byte {
	if state.Data != nil {
		return state.Data.Secret
	}
	return state.Message.Secret
}

func setSecret(state GroupState, id GroupSecretID, secret []byte) {
	if state.Data != nil {
		state.Data.SecretID, state.Data.Secret = id, secret
		return
	}
	state.Message.SecretID, state.Message.Secret = id, secret
}
