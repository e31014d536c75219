package readmodel

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// Room is the room(...) row of §3. EncKeyEpoch is advisory-only metadata
// per §9's open question (b): no operation in this spec advances it.
type Room struct {
	RoomID      string
	OrgID       string
	Name        string
	CreatedBy   string
	CreatedAt   int64
	EncKeyEpoch uint64
	IsArchived  bool
	ArchivedAt  int64
}

// CreateRoom inserts a brand-new room.
func (s *Store) CreateRoom(row Room) error {
	return s.db.Update(func(txn *badger.Txn) error {
		encoded, err := cbor.Marshal(row)
		if err != nil {
			return errs.WrapPersistence(err, "encode room")
		}
		if err := txn.Set(store.Key(prefixes.PrefixRoom, []byte(row.RoomID)), encoded); err != nil {
			return errs.WrapPersistence(err, "write room")
		}
		if err := txn.Set(store.Key(prefixes.PrefixRoomByOrg, []byte(row.OrgID), []byte(row.RoomID)), nil); err != nil {
			return errs.WrapPersistence(err, "write room org index")
		}
		return nil
	})
}

func (s *Store) mutateRoom(roomID string, fn func(*Room)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := store.Key(prefixes.PrefixRoom, []byte(roomID))
		raw, err := store.Get(txn, key)
		if err != nil {
			return err
		}
		if raw == nil {
			return errs.InvalidInput("unknown room %s", roomID)
		}
		var row Room
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return errs.WrapPersistence(err, "decode room")
		}
		fn(&row)
		encoded, err := cbor.Marshal(row)
		if err != nil {
			return errs.WrapPersistence(err, "encode room")
		}
		if err := txn.Set(key, encoded); err != nil {
			return errs.WrapPersistence(err, "write room")
		}
		return nil
	})
}

// RenameRoom applies §4.2's "room: on update, rename" handler.
func (s *Store) RenameRoom(roomID, newName string) error {
	return s.mutateRoom(roomID, func(r *Room) { r.Name = newName })
}

// ArchiveRoom toggles a room's archived flag on.
func (s *Store) ArchiveRoom(roomID string, archivedAt int64) error {
	return s.mutateRoom(roomID, func(r *Room) { r.IsArchived = true; r.ArchivedAt = archivedAt })
}

// UnarchiveRoom toggles a room's archived flag off.
func (s *Store) UnarchiveRoom(roomID string) error {
	return s.mutateRoom(roomID, func(r *Room) { r.IsArchived = false; r.ArchivedAt = 0 })
}

// DeleteRoom removes a room entirely.
func (s *Store) DeleteRoom(roomID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := store.Key(prefixes.PrefixRoom, []byte(roomID))
		raw, err := store.Get(txn, key)
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		var row Room
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return errs.WrapPersistence(err, "decode room")
		}
		if err := txn.Delete(key); err != nil {
			return errs.WrapPersistence(err, "delete room")
		}
		return txn.Delete(store.Key(prefixes.PrefixRoomByOrg, []byte(row.OrgID), []byte(row.RoomID)))
	})
}

// GetRoom fetches a room by id.
func (s *Store) GetRoom(roomID string) (Room, bool, error) {
	var row Room
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := store.Get(txn, store.Key(prefixes.PrefixRoom, []byte(roomID)))
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		found = true
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return errs.WrapPersistence(err, "decode room")
		}
		return nil
	})
	if err != nil {
		return Room{}, false, err
	}
	return row, found, nil
}

// ListRooms returns every room in orgID, including archived ones only if
// includeArchived is set.
func (s *Store) ListRooms(orgID string, includeArchived bool) ([]Room, error) {
	var out []Room
	prefix := store.Key(prefixes.PrefixRoomByOrg, []byte(orgID))
	err := s.db.View(func(txn *badger.Txn) error {
		keys, _, err := store.EnumeratePrefix(txn, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			roomID := string(k[len(prefix):])
			raw, err := store.Get(txn, store.Key(prefixes.PrefixRoom, []byte(roomID)))
			if err != nil {
				return err
			}
			if raw == nil {
				continue
			}
			var row Room
			if err := cbor.Unmarshal(raw, &row); err != nil {
				return errs.WrapPersistence(err, "decode room")
			}
			if row.IsArchived && !includeArchived {
				continue
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}
