package readmodel

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// GetTopicSeq returns the highest sequence number seen for topicHex, or
// (0, false) if the topic has never been ingested.
func (s *Store) GetTopicSeq(topicHex string) (uint64, bool, error) {
	var seq uint64
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := store.Get(txn, store.Key(prefixes.PrefixTopicSeq, []byte(topicHex)))
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		if len(raw) != 8 {
			return errs.Persistence("corrupt topic_seq value for %s", topicHex)
		}
		found = true
		seq = binary.BigEndian.Uint64(raw)
		return nil
	})
	return seq, found, err
}

// SetTopicSeq records the latest sequence number seen for topicHex.
func (s *Store) SetTopicSeq(topicHex string, seq uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, seq)
		if err := txn.Set(store.Key(prefixes.PrefixTopicSeq, []byte(topicHex)), buf); err != nil {
			return errs.WrapPersistence(err, "write topic_seq")
		}
		return nil
	})
}
