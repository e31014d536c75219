package encryption

import (
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// Prefixes is the badger key-prefix registry for every DCGKA artifact: the
// key manager and key registry are process-wide singletons (one row each),
// group state and the orderer are per-group_id rows.
type Prefixes struct {
	PrefixKeyManager  []byte `prefix_id:"[0]"`
	PrefixKeyRegistry []byte `prefix_id:"[1]"`
	PrefixGroupState  []byte `prefix_id:"[2]"`
	PrefixOrderer     []byte `prefix_id:"[3]"`
}

var prefixes = func() *Prefixes {
	p := &Prefixes{}
	store.LoadPrefixes(p)
	return p
}()

const singletonKey = "singleton"

// wireGroupState is GroupState reshaped for CBOR: maps with struct{} values
// don't round-trip cleanly, so membership sets become sorted-free string
// slices instead.
type wireGroupState struct {
	Scheme   Scheme
	GroupID  string
	LocalHex string
	Members  []string
	SecretID GroupSecretID
	Secret   []byte

	// Message-scheme only:
	Removed     []string
	PendingByOp map[string]pendingMutation
	AcksByOp    map[string][]string
	Generation  uint64
}

func toWire(g GroupState) wireGroupState {
	w := wireGroupState{Scheme: g.Scheme, GroupID: g.GroupID()}
	for m := range g.Members() {
		w.Members = append(w.Members, m)
	}
	if g.Data != nil {
		w.LocalHex, w.SecretID, w.Secret = g.Data.LocalHex, g.Data.SecretID, g.Data.Secret
		return w
	}
	w.LocalHex, w.SecretID, w.Secret = g.Message.LocalHex, g.Message.SecretID, g.Message.Secret
	w.Generation = g.Message.Generation
	for r := range g.Message.Removed {
		w.Removed = append(w.Removed, r)
	}
	w.PendingByOp = g.Message.PendingByOp
	w.AcksByOp = make(map[string][]string, len(g.Message.AcksByOp))
	for op, acks := range g.Message.AcksByOp {
		for a := range acks {
			w.AcksByOp[op] = append(w.AcksByOp[op], a)
		}
	}
	return w
}

func fromWire(w wireGroupState) GroupState {
	members := make(map[string]struct{}, len(w.Members))
	for _, m := range w.Members {
		members[m] = struct{}{}
	}
	if w.Scheme == SchemeData {
		return GroupState{Scheme: SchemeData, Data: &DataGroupState{
			GroupID: w.GroupID, LocalHex: w.LocalHex, Members: members, SecretID: w.SecretID, Secret: w.Secret,
		}}
	}
	removed := make(map[string]struct{}, len(w.Removed))
	for _, r := range w.Removed {
		removed[r] = struct{}{}
	}
	acks := make(map[string]map[string]struct{}, len(w.AcksByOp))
	for op, list := range w.AcksByOp {
		s := make(map[string]struct{}, len(list))
		for _, a := range list {
			s[a] = struct{}{}
		}
		acks[op] = s
	}
	pending := w.PendingByOp
	if pending == nil {
		pending = map[string]pendingMutation{}
	}
	return GroupState{Scheme: SchemeMessage, Message: &MessageGroupState{
		GroupID: w.GroupID, LocalHex: w.LocalHex, Members: members, Removed: removed,
		PendingByOp: pending, AcksByOp: acks, Generation: w.Generation,
		SecretID: w.SecretID, Secret: w.Secret,
	}}
}

// Coordinator is the DCGKA checkpoint manager described in §9's redesign
// note: the key manager, key registry, and every group's state and orderer
// are persisted together in one badger transaction per call, so a crash
// mid-call can never leave one artifact ahead of the others. The key manager
// and key registry are kept live in memory for the process lifetime (loaded
// once at construction); only group state and the orderer are re-loaded per
// call, since there can be many groups.
type Coordinator struct {
	db         *badger.DB
	km         *KeyManager
	kr         *KeyRegistry
	groupLocks sync.Map // group_id -> *sync.Mutex
	log        *logrus.Entry
}

// Open loads (or initializes) the key manager and key registry singleton
// state from db and returns a ready Coordinator for ownerHex's identity.
func Open(db *badger.DB, ownerHex string, log *logrus.Logger) (*Coordinator, error) {
	c := &Coordinator{db: db, log: log.WithField("component", "encryption")}
	var kmSnap keyManagerSnapshot
	var krSnap keyRegistrySnapshot
	err := db.View(func(txn *badger.Txn) error {
		raw, getErr := store.Get(txn, store.Key(prefixes.PrefixKeyManager, []byte(singletonKey)))
		if getErr != nil {
			return getErr
		}
		if raw != nil {
			if err := cbor.Unmarshal(raw, &kmSnap); err != nil {
				return errs.WrapPersistence(err, "decode key manager state")
			}
		} else {
			kmSnap = keyManagerSnapshot{OwnerHex: ownerHex}
		}
		raw, getErr = store.Get(txn, store.Key(prefixes.PrefixKeyRegistry, []byte(singletonKey)))
		if getErr != nil {
			return getErr
		}
		if raw != nil {
			if err := cbor.Unmarshal(raw, &krSnap); err != nil {
				return errs.WrapPersistence(err, "decode key registry state")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.km = keyManagerFromSnapshot(kmSnap)
	c.kr = keyRegistryFromSnapshot(krSnap)
	return c, nil
}

// KeyManager exposes the live key manager so the owner can publish fresh
// pre-keys; callers must call PersistSingletons afterward.
func (c *Coordinator) KeyManager() *KeyManager { return c.km }

// KeyRegistry exposes the live key registry so a profile-op handler can
// learn a peer's pre-key bundle; callers must call PersistSingletons
// afterward.
func (c *Coordinator) KeyRegistry() *KeyRegistry { return c.kr }

// OwnerHex returns the local identity this coordinator's key manager
// belongs to, the identity an enc_direct handler filters incoming direct
// messages against.
func (c *Coordinator) OwnerHex() string { return c.km.OwnerHex() }

func (c *Coordinator) lockFor(groupID string) *sync.Mutex {
	v, _ := c.groupLocks.LoadOrStore(groupID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// preKeySnapshot captures the key manager and registry before a call that
// may consume a pre-key. Per §4.6, a pre-key consumption must never be
// observable in memory unless it is also durable: if the checkpoint that
// follows fails, restorePreKeys undoes it.
type preKeySnapshot struct {
	km keyManagerSnapshot
	kr keyRegistrySnapshot
}

func (c *Coordinator) snapshotPreKeys() preKeySnapshot {
	return preKeySnapshot{km: c.km.snapshot(), kr: c.kr.snapshot()}
}

func (c *Coordinator) restorePreKeys(snap preKeySnapshot) {
	c.km = keyManagerFromSnapshot(snap.km)
	c.kr = keyRegistryFromSnapshot(snap.kr)
}

func (c *Coordinator) checkpoint(txn *badger.Txn, groupID string, state GroupState, ord *OrdererState) error {
	groupBytes, err := cbor.Marshal(toWire(state))
	if err != nil {
		return errs.WrapCrypto(err, "encode group state")
	}
	if err := txn.Set(store.Key(prefixes.PrefixGroupState, []byte(groupID)), groupBytes); err != nil {
		return errs.WrapPersistence(err, "checkpoint group state")
	}
	ordBytes, err := cbor.Marshal(ord)
	if err != nil {
		return errs.WrapCrypto(err, "encode orderer state")
	}
	if err := txn.Set(store.Key(prefixes.PrefixOrderer, []byte(groupID)), ordBytes); err != nil {
		return errs.WrapPersistence(err, "checkpoint orderer state")
	}
	kmBytes, err := cbor.Marshal(c.km.snapshot())
	if err != nil {
		return errs.WrapCrypto(err, "encode key manager state")
	}
	if err := txn.Set(store.Key(prefixes.PrefixKeyManager, []byte(singletonKey)), kmBytes); err != nil {
		return errs.WrapPersistence(err, "checkpoint key manager state")
	}
	krBytes, err := cbor.Marshal(c.kr.snapshot())
	if err != nil {
		return errs.WrapCrypto(err, "encode key registry state")
	}
	if err := txn.Set(store.Key(prefixes.PrefixKeyRegistry, []byte(singletonKey)), krBytes); err != nil {
		return errs.WrapPersistence(err, "checkpoint key registry state")
	}
	return nil
}

// HasGroup reports whether local state already exists for groupID, the
// check a control-message handler uses to decide between folding a
// committed mutation into existing state (ApplyGroupControl) and accepting
// a fresh welcome (JoinGroup).
func (c *Coordinator) HasGroup(groupID string) (bool, error) {
	var found bool
	err := c.db.View(func(txn *badger.Txn) error {
		raw, err := store.Get(txn, store.Key(prefixes.PrefixGroupState, []byte(groupID)))
		if err != nil {
			return err
		}
		found = raw != nil
		return nil
	})
	return found, err
}

func (c *Coordinator) loadGroup(txn *badger.Txn, groupID string) (GroupState, *OrdererState, bool, error) {
	raw, err := store.Get(txn, store.Key(prefixes.PrefixGroupState, []byte(groupID)))
	if err != nil {
		return GroupState{}, nil, false, err
	}
	if raw == nil {
		return GroupState{}, nil, false, nil
	}
	var w wireGroupState
	if err := cbor.Unmarshal(raw, &w); err != nil {
		return GroupState{}, nil, false, errs.WrapPersistence(err, "decode group state")
	}
	ordRaw, err := store.Get(txn, store.Key(prefixes.PrefixOrderer, []byte(groupID)))
	if err != nil {
		return GroupState{}, nil, false, err
	}
	ord := NewOrderer(groupID)
	if ordRaw != nil {
		if err := cbor.Unmarshal(ordRaw, ord); err != nil {
			return GroupState{}, nil, false, errs.WrapPersistence(err, "decode orderer state")
		}
	}
	return fromWire(w), ord, true, nil
}

// CreateGroup runs InitGroup and persists the result, the group's own
// orderer, and the key registry atomically. The creator is immediately
// welcomed — it was present at creation, there is nothing to wait for.
func (c *Coordinator) CreateGroup(scheme Scheme, groupID, localHex string, members []string) (GroupState, ControlMessage, error) {
	lock := c.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	snap := c.snapshotPreKeys()
	state, ctrl, err := InitGroup(c.kr, scheme, groupID, localHex, members)
	if err != nil {
		return GroupState{}, ControlMessage{}, err
	}
	ord := NewOrderer(groupID)
	ord.SetWelcomed()

	txErr := c.db.Update(func(txn *badger.Txn) error {
		return c.checkpoint(txn, groupID, state, ord)
	})
	if txErr != nil {
		c.restorePreKeys(snap)
		return GroupState{}, ControlMessage{}, txErr
	}
	return state, ctrl, nil
}

// JoinGroup accepts a welcome direct message and persists the new group's
// initial state, marking it welcomed immediately.
func (c *Coordinator) JoinGroup(scheme Scheme, groupID, localHex string, members []string, direct DirectMessage) (GroupState, error) {
	lock := c.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	snap := c.snapshotPreKeys()
	state, err := WelcomeToGroup(c.km, scheme, groupID, localHex, members, direct)
	if err != nil {
		return GroupState{}, err
	}
	ord := NewOrderer(groupID)
	ord.SetWelcomed()

	txErr := c.db.Update(func(txn *badger.Txn) error {
		return c.checkpoint(txn, groupID, state, ord)
	})
	if txErr != nil {
		c.restorePreKeys(snap)
		return GroupState{}, txErr
	}
	return state, nil
}

// SendToGroup loads groupID's state, encrypts plaintext, and persists the
// ratcheted state.
func (c *Coordinator) SendToGroup(groupID, localHex string, plaintext []byte) (ApplicationMessage, error) {
	lock := c.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	var msg ApplicationMessage
	txErr := c.db.Update(func(txn *badger.Txn) error {
		state, ord, found, err := c.loadGroup(txn, groupID)
		if err != nil {
			return err
		}
		if !found {
			return errs.InvalidInput("unknown group %s", groupID)
		}
		next, m, err := Send(state, localHex, plaintext)
		if err != nil {
			return err
		}
		msg = m
		return c.checkpoint(txn, groupID, next, ord)
	})
	if txErr != nil {
		return ApplicationMessage{}, txErr
	}
	return msg, nil
}

// PersistSingletons writes the current in-memory key manager and key
// registry state without touching any group. Call this after KeyManager().
// Generate or KeyRegistry().Add so a freshly published or learned pre-key
// bundle survives a restart.
func (c *Coordinator) PersistSingletons() error {
	return c.db.Update(func(txn *badger.Txn) error {
		kmBytes, err := cbor.Marshal(c.km.snapshot())
		if err != nil {
			return errs.WrapCrypto(err, "encode key manager state")
		}
		if err := txn.Set(store.Key(prefixes.PrefixKeyManager, []byte(singletonKey)), kmBytes); err != nil {
			return errs.WrapPersistence(err, "persist key manager state")
		}
		krBytes, err := cbor.Marshal(c.kr.snapshot())
		if err != nil {
			return errs.WrapCrypto(err, "encode key registry state")
		}
		if err := txn.Set(store.Key(prefixes.PrefixKeyRegistry, []byte(singletonKey)), krBytes); err != nil {
			return errs.WrapPersistence(err, "persist key registry state")
		}
		return nil
	})
}

// ProposeGroupMutation starts an add or remove against groupID, persisting
// the proposal (committed immediately for the data scheme, pending for the
// message scheme) atomically with the key registry it may have consumed
// from.
func (c *Coordinator) ProposeGroupMutation(groupID, actorHex, targetHex string, add bool) (ControlMessage, error) {
	lock := c.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	snap := c.snapshotPreKeys()
	var ctrl ControlMessage
	txErr := c.db.Update(func(txn *badger.Txn) error {
		state, ord, found, err := c.loadGroup(txn, groupID)
		if err != nil {
			return err
		}
		if !found {
			return errs.InvalidInput("unknown group %s", groupID)
		}
		next, m, err := ProposeMembershipChange(c.km, c.kr, state, actorHex, targetHex, add)
		if err != nil {
			return err
		}
		ctrl = m
		return c.checkpoint(txn, groupID, next, ord)
	})
	if txErr != nil {
		c.restorePreKeys(snap)
		return ControlMessage{}, txErr
	}
	return ctrl, nil
}

// ApplyGroupControl folds an incoming control message (from ProposeGroupMutation
// or a subsequent Ack commit) into groupID's state.
func (c *Coordinator) ApplyGroupControl(groupID string, ctrl ControlMessage) (GroupState, error) {
	lock := c.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	var result GroupState
	txErr := c.db.Update(func(txn *badger.Txn) error {
		state, ord, found, err := c.loadGroup(txn, groupID)
		if err != nil {
			return err
		}
		if !found {
			return errs.InvalidInput("unknown group %s", groupID)
		}
		next, err := ApplyControl(state, ctrl)
		if err != nil {
			return err
		}
		result = next
		return c.checkpoint(txn, groupID, next, ord)
	})
	if txErr != nil {
		return GroupState{}, txErr
	}
	return result, nil
}

// AckGroupMutation records ackerHex's acknowledgement of a pending
// message-scheme mutation, committing and rekeying once quorum is reached.
func (c *Coordinator) AckGroupMutation(groupID, opID, ackerHex string) (commitMade bool, commit ControlMessage, err error) {
	lock := c.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	snap := c.snapshotPreKeys()
	txErr := c.db.Update(func(txn *badger.Txn) error {
		state, ord, found, loadErr := c.loadGroup(txn, groupID)
		if loadErr != nil {
			return loadErr
		}
		if !found {
			return errs.InvalidInput("unknown group %s", groupID)
		}
		next, made, ctrl, ackErr := Ack(c.kr, state, opID, ackerHex)
		if ackErr != nil {
			return ackErr
		}
		commitMade, commit = made, ctrl
		return c.checkpoint(txn, groupID, next, ord)
	})
	if txErr != nil {
		c.restorePreKeys(snap)
		return false, ControlMessage{}, txErr
	}
	return commitMade, commit, nil
}

// ReceiveFromGroup enqueues an incoming application message in groupID's
// orderer and drains every now-ready message, decrypting each in turn.
func (c *Coordinator) ReceiveFromGroup(groupID string, msg ApplicationMessage) ([][]byte, error) {
	lock := c.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	var outputs [][]byte
	txErr := c.db.Update(func(txn *badger.Txn) error {
		state, ord, found, err := c.loadGroup(txn, groupID)
		if err != nil {
			return err
		}
		if !found {
			return errs.InvalidInput("unknown group %s", groupID)
		}
		ord.Enqueue(QueuedMessage{Application: &msg})
		for {
			ready, ok := ord.NextReady()
			if !ok {
				break
			}
			plaintext, recvErr := ReceiveApplication(state, *ready.Application)
			if recvErr != nil {
				return recvErr
			}
			outputs = append(outputs, plaintext)
		}
		return c.checkpoint(txn, groupID, state, ord)
	})
	if txErr != nil {
		return nil, txErr
	}
	return outputs, nil
}
