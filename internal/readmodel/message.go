package readmodel

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// Message is the message(...) row of §3.
type Message struct {
	MessageID   string
	RoomID      string
	DMThreadID  string
	AuthorKey   string
	ContentType string
	Text        string
	BlobID      string
	EmbedURL    string
	Mentions    []string
	ReplyTo     string
	Timestamp   int64
	EditedAt    int64
	IsDeleted   bool
}

// threadKey returns whichever of RoomID/DMThreadID addresses this message's
// conversation, the key the by-thread time index is built on.
func (m Message) threadKey() string {
	if m.RoomID != "" {
		return "room:" + m.RoomID
	}
	return "dm:" + m.DMThreadID
}

func encodeTimestamp(ts int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ts))
	return b
}

// UpsertMessage inserts or replaces a message by message_id, keeping the
// by-thread time index in sync.
func (s *Store) UpsertMessage(row Message) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := store.Key(prefixes.PrefixMessage, []byte(row.MessageID))
		encoded, err := cbor.Marshal(row)
		if err != nil {
			return errs.WrapPersistence(err, "encode message")
		}
		if err := txn.Set(key, encoded); err != nil {
			return errs.WrapPersistence(err, "write message")
		}
		idxKey := store.Key(prefixes.PrefixMessageByThread, []byte(row.threadKey()), encodeTimestamp(row.Timestamp), []byte(row.MessageID))
		if err := txn.Set(idxKey, nil); err != nil {
			return errs.WrapPersistence(err, "write message thread index")
		}
		return nil
	})
}

// SetMessageDeleted toggles is_deleted on (§4.2's "delete op").
func (s *Store) SetMessageDeleted(messageID string, deleted bool) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := store.Key(prefixes.PrefixMessage, []byte(messageID))
		raw, err := store.Get(txn, key)
		if err != nil {
			return err
		}
		if raw == nil {
			return errs.InvalidInput("unknown message %s", messageID)
		}
		var row Message
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return errs.WrapPersistence(err, "decode message")
		}
		row.IsDeleted = deleted
		encoded, err := cbor.Marshal(row)
		if err != nil {
			return errs.WrapPersistence(err, "encode message")
		}
		return txn.Set(key, encoded)
	})
}

// GetMessage fetches a message by id.
func (s *Store) GetMessage(messageID string) (Message, bool, error) {
	var row Message
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := store.Get(txn, store.Key(prefixes.PrefixMessage, []byte(messageID)))
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		found = true
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return errs.WrapPersistence(err, "decode message")
		}
		return nil
	})
	if err != nil {
		return Message{}, false, err
	}
	return row, found, nil
}

// ListMessages returns up to limit messages for a room or DM thread
// (whichever is non-empty), newest first, optionally before beforeTimestamp.
func (s *Store) ListMessages(roomID, dmThreadID string, limit int, beforeTimestamp int64) ([]Message, error) {
	threadKey := "room:" + roomID
	if roomID == "" {
		threadKey = "dm:" + dmThreadID
	}
	prefix := store.Key(prefixes.PrefixMessageByThread, []byte(threadKey))
	var out []Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		seekKey := prefix
		if beforeTimestamp > 0 {
			seekKey = store.Key(prefixes.PrefixMessageByThread, []byte(threadKey), encodeTimestamp(beforeTimestamp))
		} else {
			seekKey = append(append([]byte(nil), prefix...), 0xff)
		}
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			k := it.Item().KeyCopy(nil)
			messageID := string(k[len(prefix)+8:])
			raw, err := store.Get(txn, store.Key(prefixes.PrefixMessage, []byte(messageID)))
			if err != nil {
				return err
			}
			if raw == nil {
				continue
			}
			var row Message
			if err := cbor.Unmarshal(raw, &row); err != nil {
				return errs.WrapPersistence(err, "decode message")
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}
