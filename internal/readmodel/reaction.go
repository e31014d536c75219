package readmodel

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// Reaction is the reaction(...) row of §3, unique on (MessageID, Emoji,
// ReactorKey).
type Reaction struct {
	MessageID  string
	Emoji      string
	ReactorKey string
	CreatedAt  int64
}

func reactionKey(messageID, emoji, reactorHex string) []byte {
	return store.Key(prefixes.PrefixReaction, []byte(messageID), []byte(emoji), []byte(reactorHex))
}

// AddReaction inserts a reaction; re-adding the same (message, emoji,
// reactor) triple is idempotent.
func (s *Store) AddReaction(row Reaction) error {
	return s.db.Update(func(txn *badger.Txn) error {
		encoded, err := cbor.Marshal(row)
		if err != nil {
			return errs.WrapPersistence(err, "encode reaction")
		}
		if err := txn.Set(reactionKey(row.MessageID, row.Emoji, row.ReactorKey), encoded); err != nil {
			return errs.WrapPersistence(err, "write reaction")
		}
		return nil
	})
}

// RemoveReaction deletes a reaction, if present.
func (s *Store) RemoveReaction(messageID, emoji, reactorHex string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(reactionKey(messageID, emoji, reactorHex)); err != nil {
			return errs.WrapPersistence(err, "delete reaction")
		}
		return nil
	})
}

// ListReactions returns every reaction on messageID.
func (s *Store) ListReactions(messageID string) ([]Reaction, error) {
	var out []Reaction
	prefix := store.Key(prefixes.PrefixReaction, []byte(messageID))
	err := s.db.View(func(txn *badger.Txn) error {
		_, values, err := store.EnumeratePrefix(txn, prefix)
		if err != nil {
			return err
		}
		for _, v := range values {
			var row Reaction
			if err := cbor.Unmarshal(v, &row); err != nil {
				return errs.WrapPersistence(err, "decode reaction")
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}
