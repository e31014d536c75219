package store

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto"
	"github.com/sirupsen/logrus"

	"github.com/joindelta/delta/internal/errs"
)

// badgerLogger adapts logrus to badger's expected Logger interface so badger's own
// compaction/GC chatter lands in the same structured log stream as the rest
// of the core.
type badgerLogger struct {
	*logrus.Entry
}

func (l badgerLogger) Warningf(format string, args ...interface{}) { l.Warnf(format, args...) }

// Open opens (creating if absent) a badger database rooted at dir, wired to
// log through the given logrus logger.
func Open(dir string, log *logrus.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log.WithField("component", "badger")})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.WrapPersistence(err, "open badger db at %s", dir)
	}
	return db, nil
}

// NewHotCache builds a small ristretto cache sized for hot-path lookups such
// as oplog.Store.Latest, which is read on every append.
func NewHotCache() (*ristretto.Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 24, // 16MiB
		BufferItems: 64,
	})
	if err != nil {
		return nil, errs.WrapPersistence(err, "construct ristretto cache")
	}
	return c, nil
}

// EnumeratePrefix returns every (key, value) pair stored under prefix, in key
// order, mirroring the teacher's _enumerateKeysForPrefixWithTxn helper but
// generalized to any caller rather than being inlined into main().
func EnumeratePrefix(txn *badger.Txn, prefix []byte) (keys [][]byte, values [][]byte, err error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		v, verr := item.ValueCopy(nil)
		if verr != nil {
			return nil, nil, errs.WrapPersistence(verr, "read value for key %x", k)
		}
		keys = append(keys, k)
		values = append(values, v)
	}
	return keys, values, nil
}

// Get fetches a single value, returning (nil, nil) if the key is absent.
func Get(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapPersistence(err, "get key %x", key)
	}
	return item.ValueCopy(nil)
}

// HasPrefix reports whether any key in db starts with prefix.
func HasPrefix(db *badger.DB, prefix []byte) (bool, error) {
	found := false
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(prefix)
		found = it.ValidForPrefix(prefix)
		return nil
	})
	return found, err
}

// KeyLess orders keys the same way badger's iterator does (lexicographic byte
// compare) — exposed for tests that assert ordering invariants.
func KeyLess(a, b []byte) bool { return bytes.Compare(a, b) < 0 }
