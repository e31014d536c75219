package readmodel

import (
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// DMThread is the dm_thread(...) row of §3.
type DMThread struct {
	ThreadID      string
	InitiatorKey  string
	RecipientKey  string
	CreatedAt     int64
	LastMessageAt int64
}

// pairKey orders the two participant keys so the lookup is
// direction-independent: (alice, bob) and (bob, alice) hash to the same
// index entry.
func pairKey(a, b string) []byte {
	keys := []string{a, b}
	sort.Strings(keys)
	return store.Key(prefixes.PrefixDMThreadByPair, []byte(keys[0]), []byte(keys[1]))
}

// CreateDMThread inserts a new thread and its by-pair index entry.
func (s *Store) CreateDMThread(row DMThread) error {
	return s.db.Update(func(txn *badger.Txn) error {
		encoded, err := cbor.Marshal(row)
		if err != nil {
			return errs.WrapPersistence(err, "encode dm thread")
		}
		if err := txn.Set(store.Key(prefixes.PrefixDMThread, []byte(row.ThreadID)), encoded); err != nil {
			return errs.WrapPersistence(err, "write dm thread")
		}
		if err := txn.Set(pairKey(row.InitiatorKey, row.RecipientKey), []byte(row.ThreadID)); err != nil {
			return errs.WrapPersistence(err, "write dm thread pair index")
		}
		return nil
	})
}

// TouchDMThread bumps last_message_at after a new message lands in the
// thread.
func (s *Store) TouchDMThread(threadID string, lastMessageAt int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := store.Key(prefixes.PrefixDMThread, []byte(threadID))
		raw, err := store.Get(txn, key)
		if err != nil {
			return err
		}
		if raw == nil {
			return errs.InvalidInput("unknown dm thread %s", threadID)
		}
		var row DMThread
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return errs.WrapPersistence(err, "decode dm thread")
		}
		row.LastMessageAt = lastMessageAt
		encoded, err := cbor.Marshal(row)
		if err != nil {
			return errs.WrapPersistence(err, "encode dm thread")
		}
		return txn.Set(key, encoded)
	})
}

// GetDMThread fetches a thread by id.
func (s *Store) GetDMThread(threadID string) (DMThread, bool, error) {
	var row DMThread
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := store.Get(txn, store.Key(prefixes.PrefixDMThread, []byte(threadID)))
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		found = true
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return errs.WrapPersistence(err, "decode dm thread")
		}
		return nil
	})
	if err != nil {
		return DMThread{}, false, err
	}
	return row, found, nil
}

// ListDMThreads returns every thread ownerHex participates in, as either
// initiator or recipient.
func (s *Store) ListDMThreads(ownerHex string) ([]DMThread, error) {
	var out []DMThread
	err := s.db.View(func(txn *badger.Txn) error {
		_, values, err := store.EnumeratePrefix(txn, prefixes.PrefixDMThread)
		if err != nil {
			return err
		}
		for _, v := range values {
			var row DMThread
			if err := cbor.Unmarshal(v, &row); err != nil {
				return errs.WrapPersistence(err, "decode dm thread")
			}
			if row.InitiatorKey == ownerHex || row.RecipientKey == ownerHex {
				out = append(out, row)
			}
		}
		return nil
	})
	return out, err
}

// FindDMThreadByPair returns the existing thread between a and b, if any.
func (s *Store) FindDMThreadByPair(a, b string) (DMThread, bool, error) {
	var threadID string
	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := store.Get(txn, pairKey(a, b))
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		threadID = string(raw)
		return nil
	})
	if err != nil {
		return DMThread{}, false, err
	}
	if threadID == "" {
		return DMThread{}, false, nil
	}
	return s.GetDMThread(threadID)
}
