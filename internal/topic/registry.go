package topic

import (
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// Prefixes is the badger key-prefix registry for the topic map, populated by
// store.LoadPrefixes the same way the teacher populated its DBPrefixes.
type Prefixes struct {
	PrefixTopicAuthorLogs []byte `prefix_id:"[0]"`
}

var prefixes = func() *Prefixes {
	p := &Prefixes{}
	store.LoadPrefixes(p)
	return p
}()

// entry is the CBOR-encoded value stored per (topic, author): the set of log
// ids that author is known to publish on that topic.
type entry struct {
	LogIDs []string `cbor:"log_ids"`
}

// Registry is the topic -> {author -> [log_id]} mapping from spec §4.7,
// durable in badger and guarded in-process by a read-write lock so concurrent
// lookups never block on each other while an insert is in flight, per the
// concurrency model in spec §5.
type Registry struct {
	db *badger.DB
	mu sync.RWMutex
}

func NewRegistry(db *badger.DB) *Registry {
	return &Registry{db: db}
}

func key(t ID, authorHex string) []byte {
	return store.Key(prefixes.PrefixTopicAuthorLogs, t[:], []byte(authorHex))
}

// Insert records that author publishes logID on topic t. Insertions are
// additive and idempotent: inserting the same (topic, author, log_id) twice
// is a no-op beyond the first.
func (r *Registry) Insert(t ID, authorHex, logID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.db.Update(func(txn *badger.Txn) error {
		k := key(t, authorHex)
		raw, err := store.Get(txn, k)
		if err != nil {
			return err
		}
		var e entry
		if raw != nil {
			if err := cbor.Unmarshal(raw, &e); err != nil {
				return errs.WrapPersistence(err, "decode topic map entry")
			}
		}
		for _, existing := range e.LogIDs {
			if existing == logID {
				return nil // already present, idempotent no-op
			}
		}
		e.LogIDs = append(e.LogIDs, logID)
		encoded, err := cbor.Marshal(e)
		if err != nil {
			return errs.WrapPersistence(err, "encode topic map entry")
		}
		return txn.Set(k, encoded)
	})
}

// Remove erases every entry recorded for topic t.
func (r *Registry) Remove(t ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.db.Update(func(txn *badger.Txn) error {
		keys, _, err := store.EnumeratePrefix(txn, store.Key(prefixes.PrefixTopicAuthorLogs, t[:]))
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return errs.WrapPersistence(err, "delete topic map key")
			}
		}
		return nil
	})
}

// Lookup returns the author -> [log_id] mapping known for topic t. An
// unknown topic returns an empty (nil) map rather than an error, so sync
// degrades gracefully per §4.7.
func (r *Registry) Lookup(t ID) (map[string][]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string)
	err := r.db.View(func(txn *badger.Txn) error {
		keys, values, err := store.EnumeratePrefix(txn, store.Key(prefixes.PrefixTopicAuthorLogs, t[:]))
		if err != nil {
			return err
		}
		for i, k := range keys {
			authorHex := string(k[len(prefixes.PrefixTopicAuthorLogs)+len(t):])
			var e entry
			if err := cbor.Unmarshal(values[i], &e); err != nil {
				return errs.WrapPersistence(err, "decode topic map entry")
			}
			out[authorHex] = e.LogIDs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
