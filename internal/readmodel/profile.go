package readmodel

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// Profile is the profile(...) row of §3.
type Profile struct {
	PublicKeyHex  string
	Username      string
	AvatarBlobID  string
	Bio           string
	AvailableFor  []string
	IsPublic      bool
	CreatedAt     int64
	UpdatedAt     int64
}

// UpsertProfile inserts or replaces the profile row for row.PublicKeyHex,
// preserving the original CreatedAt if one already exists.
func (s *Store) UpsertProfile(row Profile) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := store.Key(prefixes.PrefixProfile, []byte(row.PublicKeyHex))
		existing, err := store.Get(txn, key)
		if err != nil {
			return err
		}
		if existing != nil {
			var prev Profile
			if err := cbor.Unmarshal(existing, &prev); err != nil {
				return errs.WrapPersistence(err, "decode existing profile")
			}
			row.CreatedAt = prev.CreatedAt
		}
		encoded, err := cbor.Marshal(row)
		if err != nil {
			return errs.WrapPersistence(err, "encode profile")
		}
		if err := txn.Set(key, encoded); err != nil {
			return errs.WrapPersistence(err, "write profile")
		}
		return nil
	})
}

// GetProfile fetches a profile by public key hex; ok is false if none exists.
func (s *Store) GetProfile(publicKeyHex string) (Profile, bool, error) {
	var row Profile
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := store.Get(txn, store.Key(prefixes.PrefixProfile, []byte(publicKeyHex)))
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		found = true
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return errs.WrapPersistence(err, "decode profile")
		}
		return nil
	})
	if err != nil {
		return Profile{}, false, err
	}
	return row, found, nil
}

// ListPublicProfiles scans every profile opted into public discovery, the
// set the pkarr republish loop pushes to the DHT.
func (s *Store) ListPublicProfiles() ([]Profile, error) {
	var out []Profile
	err := s.db.View(func(txn *badger.Txn) error {
		_, values, err := store.EnumeratePrefix(txn, prefixes.PrefixProfile)
		if err != nil {
			return err
		}
		for _, v := range values {
			var row Profile
			if err := cbor.Unmarshal(v, &row); err != nil {
				return errs.WrapPersistence(err, "decode profile")
			}
			if row.IsPublic {
				out = append(out, row)
			}
		}
		return nil
	})
	return out, err
}
