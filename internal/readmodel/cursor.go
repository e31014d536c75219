package readmodel

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// cursorKey addresses the projector_cursor(log_id, public_key) row.
func cursorKey(logID, publicKeyHex string) []byte {
	return store.Key(prefixes.PrefixCursor, []byte(logID), []byte(publicKeyHex))
}

// GetCursor returns the last sequence number the projector has consumed for
// (logID, publicKeyHex); ok is false if the projector has never seen this
// log.
func (s *Store) GetCursor(logID, publicKeyHex string) (uint64, bool, error) {
	var seq uint64
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := store.Get(txn, cursorKey(logID, publicKeyHex))
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		if len(raw) != 8 {
			return errs.Persistence("corrupt cursor value for log %s / %s", logID, publicKeyHex)
		}
		found = true
		seq = binary.BigEndian.Uint64(raw)
		return nil
	})
	return seq, found, err
}

// SetCursor advances the cursor for (logID, publicKeyHex) to lastSeq.
func (s *Store) SetCursor(logID, publicKeyHex string, lastSeq uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, lastSeq)
		if err := txn.Set(cursorKey(logID, publicKeyHex), buf); err != nil {
			return errs.WrapPersistence(err, "write cursor")
		}
		return nil
	})
}
