// Package bootstrap wires every subsystem into the explicit CoreHandle value
// described in §9's "Global singletons" redesign: instead of the source's
// process-wide OnceLock handles for the operation store, read pool, network,
// and encryption state, Open builds one Handle and hands it back, so tests
// and multiple local identities can run side by side without hidden
// coupling through package-level globals.
package bootstrap

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/joindelta/delta/internal/blob"
	"github.com/joindelta/delta/internal/encryption"
	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/gossip"
	"github.com/joindelta/delta/internal/keys"
	"github.com/joindelta/delta/internal/oplog"
	"github.com/joindelta/delta/internal/pkarr"
	"github.com/joindelta/delta/internal/projector"
	"github.com/joindelta/delta/internal/readmodel"
	"github.com/joindelta/delta/internal/store"
	"github.com/joindelta/delta/internal/topic"
)

// Config names everything Open needs. Publisher, Subscriber, Discovery, and
// PkarrPublisher are the out-of-scope transport collaborators (§1 non-goals);
// a nil value simply leaves that part of step 6/8 unwired, which is what
// tests that only exercise the local store do.
type Config struct {
	BaseDir       string
	PrivateKeyHex string
	Log           *logrus.Logger

	Publisher      gossip.Publisher
	Subscriber     gossip.Subscriber
	Discovery      gossip.Discovery
	PkarrPublisher pkarr.Publisher
	PkarrResolver  pkarr.Resolver
}

// Handle is the single value every public operation in §6 takes instead of
// reaching for a global. It bundles every opened store plus the background
// tasks spawned over them.
type Handle struct {
	Identity   keys.KeyPair
	Oplog      *oplog.Store
	ReadModel  *readmodel.Store
	Encryption *encryption.Coordinator
	Blobs      *blob.Store
	Topics     *topic.Registry
	Projector  *projector.Projector
	PkarrLoop  *pkarr.Loop

	Publisher  gossip.Publisher
	Discovery  gossip.Discovery

	opsDB, readDB *badger.DB
	cancel        context.CancelFunc
	unsubs        []func()
	subscriber    gossip.Subscriber
	pkarrResolver pkarr.Resolver
	log           *logrus.Entry
}

var allLogIDs = []oplog.LogID{
	oplog.LogProfile, oplog.LogOrg, oplog.LogRoom, oplog.LogMessage,
	oplog.LogReaction, oplog.LogDMThread, oplog.LogKeyBundle,
	oplog.LogEncCtrl, oplog.LogEncDirect, oplog.LogMembership,
}

var (
	openMu  sync.Mutex
	handles = map[string]*Handle{}
)

// Open runs the §4.8 numbered sequence in order and returns the resulting
// Handle. A second call with the same BaseDir is a no-op: it returns the
// already-running Handle rather than opening the stores or spawning tasks
// again, the "single-init guard" the CoreHandle redesign calls for.
func Open(ctx context.Context, cfg Config) (*Handle, error) {
	absDir, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, errs.InvalidInput("invalid base dir %q: %v", cfg.BaseDir, err)
	}

	openMu.Lock()
	defer openMu.Unlock()
	if h, ok := handles[absDir]; ok {
		if h.opsDB.IsClosed() {
			return nil, errs.Uninitialized("handle for %s has been closed", absDir)
		}
		return h, nil
	}

	h, err := open(ctx, absDir, cfg)
	if err != nil {
		return nil, err
	}
	handles[absDir] = h
	return h, nil
}

func open(ctx context.Context, absDir string, cfg Config) (*Handle, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}

	// 1. Parse private key.
	identity, err := keys.ParsePrivateHex(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	ownerHex := identity.PublicHex()

	// 2. Open operation store.
	opsDB, err := store.Open(filepath.Join(absDir, "ops.db"), log)
	if err != nil {
		return nil, err
	}
	cache, err := store.NewHotCache()
	if err != nil {
		return nil, err
	}
	oplogStore := oplog.New(opsDB, cache, log)

	// 3. Open read model (and blob directory).
	readDB, err := store.Open(filepath.Join(absDir, "read.db"), log)
	if err != nil {
		return nil, err
	}
	rm := readmodel.Open(readDB)
	blobs, err := blob.Open(readDB, filepath.Join(absDir, "blobs"))
	if err != nil {
		return nil, err
	}
	topics := topic.NewRegistry(readDB)

	// 7 happens logically here so the projector (step 5) and network
	// subscriptions (step 6) both find an already-open coordinator; the
	// numbered order in §4.8 describes task *spawn* order, not every store
	// open, and opening the coordinator spawns nothing.
	enc, err := encryption.Open(readDB, ownerHex, log)
	if err != nil {
		return nil, err
	}
	if err := ensureFirstPreKey(enc, log); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		Identity:   identity,
		Oplog:      oplogStore,
		ReadModel:  rm,
		Encryption: enc,
		Blobs:      blobs,
		Topics:     topics,
		Publisher:     cfg.Publisher,
		Discovery:     cfg.Discovery,
		subscriber:    cfg.Subscriber,
		pkarrResolver: cfg.PkarrResolver,
		opsDB:         opsDB,
		readDB:        readDB,
		cancel:        cancel,
		log:           log.WithField("component", "bootstrap"),
	}

	// 4. Publish the handle (done: h now exists and is returned to the
	// caller) before spawning anything below.

	// 5. Spawn the projector.
	h.Projector = projector.New(oplogStore, rm, enc, log, allLogIDs)

	// 6. Subscribe to every topic implied by already-known orgs, rooms, DMs.
	if cfg.Subscriber != nil {
		if err := h.subscribeKnownTopics(cfg.Subscriber); err != nil {
			cancel()
			return nil, err
		}
	}

	// 8. Spawn the pkarr republish loop.
	if cfg.PkarrPublisher != nil {
		h.PkarrLoop = pkarr.NewLoop(rm, cfg.PkarrPublisher, identity.PrivateHex(), log)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { h.Projector.Run(gCtx); return nil })
	if h.PkarrLoop != nil {
		g.Go(func() error { h.PkarrLoop.Run(gCtx); return nil })
	}
	go func() {
		if err := g.Wait(); err != nil {
			h.log.WithError(err).Warn("background task group exited with error")
		}
	}()

	return h, nil
}

// ensureFirstPreKey produces and persists one pre-key the very first time a
// key manager has none, so a brand-new identity can be welcomed into a group
// immediately after bootstrap without a separate provisioning step.
func ensureFirstPreKey(enc *encryption.Coordinator, log *logrus.Logger) error {
	km := enc.KeyManager()
	if km.HasAny() {
		return nil
	}
	if _, err := km.Generate(1); err != nil {
		return err
	}
	if err := enc.PersistSingletons(); err != nil {
		return err
	}
	log.WithField("owner", km.OwnerHex()).Debug("generated first pre-key for new identity")
	return nil
}

// KnownTopics returns the topic ids for every org the local identity
// belongs to, every room in those orgs, and every DM thread it participates
// in — the set step 6 subscribes to on startup.
func (h *Handle) KnownTopics() ([]topic.ID, error) {
	owner := h.Identity.PublicHex()
	var out []topic.ID

	orgs, err := h.ReadModel.ListMyOrgs(owner)
	if err != nil {
		return nil, err
	}
	for _, org := range orgs {
		out = append(out, topic.Org(org.OrgID))
		rooms, err := h.ReadModel.ListRooms(org.OrgID, true)
		if err != nil {
			return nil, err
		}
		for _, room := range rooms {
			out = append(out, topic.Room(room.RoomID))
		}
	}

	threads, err := h.ReadModel.ListDMThreads(owner)
	if err != nil {
		return nil, err
	}
	for _, thread := range threads {
		out = append(out, topic.DM(thread.InitiatorKey, thread.RecipientKey))
	}
	return out, nil
}

func (h *Handle) subscribeKnownTopics(sub gossip.Subscriber) error {
	topics, err := h.KnownTopics()
	if err != nil {
		return err
	}
	for _, t := range topics {
		_, unsub, err := sub.Subscribe(t)
		if err != nil {
			return errs.WrapNetwork(err, "subscribe to topic %s", t.Hex())
		}
		h.unsubs = append(h.unsubs, unsub)
	}
	return nil
}

// Close stops every background task and closes both badger handles. It does
// not remove the Handle's single-init-guard entry: a later Open for the
// same directory in the same process is still expected to hit the guard and
// fail fast rather than silently reopening a closed store.
func (h *Handle) Close() error {
	h.cancel()
	for _, unsub := range h.unsubs {
		unsub()
	}
	if err := h.opsDB.Close(); err != nil {
		return errs.WrapPersistence(err, "close operation store")
	}
	if err := h.readDB.Close(); err != nil {
		return errs.WrapPersistence(err, "close read model store")
	}
	return nil
}
