package oplog

import (
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// Prefixes is the badger key-prefix registry for the operation log store,
// populated once via store.LoadPrefixes — the same reflect-tag convention
// the teacher prototype used for its DBPrefixes.
type Prefixes struct {
	// <prefix, op_hash> -> encoded {header, body}
	PrefixOpByHash []byte `prefix_id:"[0]"`
	// <prefix, public_key, log_id, seq_num (big-endian uint64)> -> op_hash
	PrefixOpByAuthorLogSeq []byte `prefix_id:"[1]"`
	// <prefix, public_key, log_id> -> seq_num (big-endian uint64) || op_hash
	PrefixLatestByAuthorLog []byte `prefix_id:"[2]"`
	// <prefix, backlink hash> -> encoded pending {header, body}, held until
	// the predecessor it points at arrives.
	PrefixPendingByBacklink []byte `prefix_id:"[3]"`
}

var prefixes = func() *Prefixes {
	p := &Prefixes{}
	store.LoadPrefixes(p)
	return p
}()

// Tip is the (author, latest seq_num) pair Heights reports for a log_id.
type Tip struct {
	AuthorHex string
	SeqNum    uint64
	Hash      Hash
}

// Stored pairs a decoded header with its raw body bytes, as returned by
// Range and Latest.
type Stored struct {
	Header Header
	Body   []byte
}

type cachedLatest struct {
	header Header
	ok     bool
}

// Store is the durable, idempotent, per-(author, log_id) operation log.
// Per spec §5, a single mutex guards every insert/latest call and must never
// be held across network I/O — only across the badger transaction beneath
// it, so the projector and any concurrent writer simply queue behind it.
type Store struct {
	db    *badger.DB
	mu    sync.Mutex
	cache *ristretto.Cache
	sf    singleflight.Group
	log   *logrus.Entry
}

func New(db *badger.DB, cache *ristretto.Cache, log *logrus.Logger) *Store {
	return &Store{db: db, cache: cache, log: log.WithField("component", "oplog")}
}

func cacheKey(authorHex string, logID LogID) string { return authorHex + "|" + string(logID) }

// AuthorHex hex-encodes a public key the way every store key component is
// addressed.
func AuthorHex(pub []byte) string { return hex.EncodeToString(pub) }

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func decodeStored(raw []byte) (Stored, error) {
	headerLen := binary.BigEndian.Uint32(raw[:4])
	headerBytes := raw[4 : 4+headerLen]
	body := raw[4+headerLen:]
	h, err := DecodeHeader(headerBytes)
	if err != nil {
		return Stored{}, err
	}
	return Stored{Header: h, Body: body}, nil
}

func encodeStored(h Header, body []byte) ([]byte, error) {
	headerBytes, err := h.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(headerBytes)+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(headerBytes)))
	copy(out[4:], headerBytes)
	copy(out[4+len(headerBytes):], body)
	return out, nil
}

// Latest returns the highest-seq accepted header for (author, log_id), or
// ok=false if the log has no accepted operations yet.
func (s *Store) Latest(authorHex string, logID LogID) (Header, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ck := cacheKey(authorHex, logID)
	if v, found := s.cache.Get(ck); found {
		c := v.(cachedLatest)
		return c.header, c.ok, nil
	}

	v, err, _ := s.sf.Do(ck, func() (interface{}, error) {
		result, loadErr := s.loadLatest(authorHex, logID)
		if loadErr != nil {
			return nil, loadErr
		}
		s.cache.Set(ck, result, 1)
		return result, nil
	})
	if err != nil {
		return Header{}, false, err
	}
	c := v.(cachedLatest)
	return c.header, c.ok, nil
}

func (s *Store) loadLatest(authorHex string, logID LogID) (cachedLatest, error) {
	author, err := hex.DecodeString(authorHex)
	if err != nil {
		return cachedLatest{}, errs.InvalidInput("author is not valid hex: %v", err)
	}
	var result cachedLatest
	txErr := s.db.View(func(txn *badger.Txn) error {
		raw, getErr := store.Get(txn, store.Key(prefixes.PrefixLatestByAuthorLog, author, []byte(logID)))
		if getErr != nil {
			return getErr
		}
		if raw == nil {
			return nil
		}
		opHash := raw[8:]
		item, getErr2 := txn.Get(store.Key(prefixes.PrefixOpByHash, opHash))
		if getErr2 != nil {
			return errs.WrapPersistence(getErr2, "fetch latest op by hash")
		}
		val, copyErr := item.ValueCopy(nil)
		if copyErr != nil {
			return errs.WrapPersistence(copyErr, "copy latest op value")
		}
		stored, decErr := decodeStored(val)
		if decErr != nil {
			return decErr
		}
		result = cachedLatest{header: stored.Header, ok: true}
		return nil
	})
	if txErr != nil {
		return cachedLatest{}, txErr
	}
	return result, nil
}

// Insert stores op if it is new, verifying its signature and seq/backlink
// chain first. Duplicate insertion (by op hash) is a no-op success. An
// operation whose predecessor has not yet been accepted is held in the
// pending buffer, keyed by the backlink it is waiting on, and retried once
// that predecessor lands.
func (s *Store) Insert(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(op)
}

func (s *Store) insertLocked(op Operation) error {
	if !op.Header.Verify() {
		return errs.Crypto("operation signature does not verify for author %s", AuthorHex(op.Header.PublicKey))
	}
	opHash, err := op.Hash()
	if err != nil {
		return err
	}
	authorHexStr := AuthorHex(op.Header.PublicKey)

	return s.db.Update(func(txn *badger.Txn) error {
		existing, getErr := store.Get(txn, store.Key(prefixes.PrefixOpByHash, opHash[:]))
		if getErr != nil {
			return getErr
		}
		if existing != nil {
			return nil // duplicate insertion: no-op success
		}

		latestRaw, getErr := store.Get(txn, store.Key(prefixes.PrefixLatestByAuthorLog, op.Header.PublicKey, []byte(op.Header.LogID)))
		if getErr != nil {
			return getErr
		}

		if op.Header.SeqNum == 0 {
			if latestRaw != nil {
				return errs.InvalidInput("seq 0 received but log already has a tip for author %s log %s", authorHexStr, op.Header.LogID)
			}
		} else {
			if latestRaw == nil {
				return s.holdPending(txn, op)
			}
			tipSeq := binary.BigEndian.Uint64(latestRaw[:8])
			var tipHash Hash
			copy(tipHash[:], latestRaw[8:])
			if op.Header.SeqNum != tipSeq+1 {
				return s.holdPending(txn, op)
			}
			if op.Header.Backlink == nil || *op.Header.Backlink != tipHash {
				return errs.InvalidInput("backlink mismatch for author %s log %s seq %d", authorHexStr, op.Header.LogID, op.Header.SeqNum)
			}
		}

		if err := s.writeAccepted(txn, op, opHash); err != nil {
			return err
		}
		s.cache.Del(cacheKey(authorHexStr, op.Header.LogID))
		return s.retryPending(txn, opHash)
	})
}

// writeAccepted persists op (already validated) into the by-hash, by-seq and
// latest indexes within the given transaction.
func (s *Store) writeAccepted(txn *badger.Txn, op Operation, opHash Hash) error {
	encoded, err := encodeStored(op.Header, op.Body)
	if err != nil {
		return err
	}
	if err := txn.Set(store.Key(prefixes.PrefixOpByHash, opHash[:]), encoded); err != nil {
		return errs.WrapPersistence(err, "write op by hash")
	}
	seqKey := store.Key(prefixes.PrefixOpByAuthorLogSeq, op.Header.PublicKey, []byte(op.Header.LogID), encodeSeq(op.Header.SeqNum))
	if err := txn.Set(seqKey, opHash[:]); err != nil {
		return errs.WrapPersistence(err, "write op by author/log/seq")
	}
	latestVal := append(encodeSeq(op.Header.SeqNum), opHash[:]...)
	latestKey := store.Key(prefixes.PrefixLatestByAuthorLog, op.Header.PublicKey, []byte(op.Header.LogID))
	if err := txn.Set(latestKey, latestVal); err != nil {
		return errs.WrapPersistence(err, "write latest pointer")
	}
	return nil
}

// holdPending buffers op, keyed by the backlink hash it is waiting on, so it
// can be retried once that predecessor is accepted. Out-of-order arrival
// within a single author's log must not stall projection silently — without
// this buffer a gap would simply drop the operation.
func (s *Store) holdPending(txn *badger.Txn, op Operation) error {
	if op.Header.Backlink == nil {
		return errs.InvalidInput("non-zero seq operation missing backlink")
	}
	encoded, err := encodeStored(op.Header, op.Body)
	if err != nil {
		return err
	}
	key := store.Key(prefixes.PrefixPendingByBacklink, op.Header.Backlink[:], op.Header.PublicKey, []byte(op.Header.LogID))
	if err := txn.Set(key, encoded); err != nil {
		return errs.WrapPersistence(err, "hold pending operation")
	}
	s.log.WithFields(logrus.Fields{
		"author": AuthorHex(op.Header.PublicKey),
		"log_id": op.Header.LogID,
		"seq":    op.Header.SeqNum,
	}).Debug("operation held pending predecessor")
	return nil
}

// retryPending re-attempts every operation waiting on newlyAccepted, chaining
// forward through as many consecutive pending ops as now apply.
func (s *Store) retryPending(txn *badger.Txn, newlyAccepted Hash) error {
	prefix := store.Key(prefixes.PrefixPendingByBacklink, newlyAccepted[:])
	keys, values, err := store.EnumeratePrefix(txn, prefix)
	if err != nil {
		return err
	}
	for i, k := range keys {
		stored, decErr := decodeStored(values[i])
		if decErr != nil {
			return decErr
		}
		if err := txn.Delete(k); err != nil {
			return errs.WrapPersistence(err, "clear pending entry")
		}
		pendingOp := Operation{Header: stored.Header, Body: stored.Body}
		opHash, hashErr := pendingOp.Hash()
		if hashErr != nil {
			return hashErr
		}
		if err := s.writeAccepted(txn, pendingOp, opHash); err != nil {
			return err
		}
		s.cache.Del(cacheKey(AuthorHex(pendingOp.Header.PublicKey), pendingOp.Header.LogID))
		if err := s.retryPending(txn, opHash); err != nil {
			return err
		}
	}
	return nil
}

// Heights enumerates the current tip (author, seq_num) for every author that
// has written to logID, the primary lookup the projector uses to discover
// fresh work.
func (s *Store) Heights(logID LogID) ([]Tip, error) {
	var tips []Tip
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefixLen := len(prefixes.PrefixLatestByAuthorLog)
		for it.Seek(prefixes.PrefixLatestByAuthorLog); it.ValidForPrefix(prefixes.PrefixLatestByAuthorLog); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			rest := k[prefixLen:]
			if len(rest) < 32 {
				continue
			}
			author := rest[:32]
			logIDBytes := rest[32:]
			if string(logIDBytes) != string(logID) {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return errs.WrapPersistence(err, "read tip value")
			}
			seq := binary.BigEndian.Uint64(val[:8])
			var h Hash
			copy(h[:], val[8:])
			tips = append(tips, Tip{AuthorHex: AuthorHex(author), SeqNum: seq, Hash: h})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tips, nil
}

// Range returns operations for (author, logID) with seq_num in (fromSeq,
// toSeq], in increasing seq order; toSeq = fromSeq yields no operations.
// Callers needing an unbounded range pass toSeq = ^uint64(0). Because the
// lower bound is exclusive, the seq_num 0 operation is never returned.
func (s *Store) Range(authorHex string, logID LogID, fromSeqExclusive, toSeqInclusive uint64) ([]Stored, error) {
	author, err := hex.DecodeString(authorHex)
	if err != nil {
		return nil, errs.InvalidInput("author is not valid hex: %v", err)
	}
	var out []Stored
	err = s.db.View(func(txn *badger.Txn) error {
		prefix := store.Key(prefixes.PrefixOpByAuthorLogSeq, author, []byte(logID))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			seqBytes := item.Key()[len(prefix):]
			seq := binary.BigEndian.Uint64(seqBytes)
			if seq > toSeqInclusive {
				break
			}
			if seq <= fromSeqExclusive {
				continue
			}
			opHash, err := item.ValueCopy(nil)
			if err != nil {
				return errs.WrapPersistence(err, "copy op hash")
			}
			raw, err := store.Get(txn, store.Key(prefixes.PrefixOpByHash, opHash))
			if err != nil {
				return err
			}
			if raw == nil {
				return errs.Persistence("dangling seq index entry for author %s log %s seq %d", authorHex, logID, seq)
			}
			stored, err := decodeStored(raw)
			if err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
