package readmodel

import (
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// Organization is the organization(...) row of §3.
type Organization struct {
	OrgID       string
	Name        string
	TypeLabel   string
	Description string
	AvatarBlobID string
	CoverBlobID string
	IsPublic    bool
	CreatorKey  string
	CreatedAt   int64
}

// CreateOrg inserts a brand-new org (§4.2's "org: on create" handler) and
// auto-enrolls the creator as Manage.
func (s *Store) CreateOrg(row Organization) error {
	return s.db.Update(func(txn *badger.Txn) error {
		encoded, err := cbor.Marshal(row)
		if err != nil {
			return errs.WrapPersistence(err, "encode organization")
		}
		if err := txn.Set(store.Key(prefixes.PrefixOrg, []byte(row.OrgID)), encoded); err != nil {
			return errs.WrapPersistence(err, "write organization")
		}
		if err := txn.Set(store.Key(prefixes.PrefixOrgByCreator, []byte(row.CreatorKey), []byte(row.OrgID)), nil); err != nil {
			return errs.WrapPersistence(err, "write organization creator index")
		}
		return setMembershipLocked(txn, row.OrgID, row.CreatorKey, "manage", row.CreatedAt)
	})
}

// UpdateOrg replaces orgID's stored row with partial, keeping only the
// stored OrgID, CreatorKey and CreatedAt; zero-value fields in partial are
// written as zero. Callers should populate partial from the existing row for
// any field that should not change.
func (s *Store) UpdateOrg(orgID string, partial Organization) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := store.Key(prefixes.PrefixOrg, []byte(orgID))
		raw, err := store.Get(txn, key)
		if err != nil {
			return err
		}
		if raw == nil {
			return errs.InvalidInput("unknown org %s", orgID)
		}
		var existing Organization
		if err := cbor.Unmarshal(raw, &existing); err != nil {
			return errs.WrapPersistence(err, "decode organization")
		}
		partial.OrgID = existing.OrgID
		partial.CreatorKey = existing.CreatorKey
		partial.CreatedAt = existing.CreatedAt
		encoded, err := cbor.Marshal(partial)
		if err != nil {
			return errs.WrapPersistence(err, "encode organization")
		}
		if err := txn.Set(key, encoded); err != nil {
			return errs.WrapPersistence(err, "write organization")
		}
		return nil
	})
}

// GetOrg fetches an org by id.
func (s *Store) GetOrg(orgID string) (Organization, bool, error) {
	var row Organization
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := store.Get(txn, store.Key(prefixes.PrefixOrg, []byte(orgID)))
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		found = true
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return errs.WrapPersistence(err, "decode organization")
		}
		return nil
	})
	if err != nil {
		return Organization{}, false, err
	}
	return row, found, nil
}

// ListMyOrgs returns every org memberHex belongs to.
func (s *Store) ListMyOrgs(memberHex string) ([]Organization, error) {
	var out []Organization
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := store.Key(prefixes.PrefixMembershipByKey, []byte(memberHex))
		keys, _, err := store.EnumeratePrefix(txn, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			orgID := string(k[len(prefix):])
			raw, err := store.Get(txn, store.Key(prefixes.PrefixOrg, []byte(orgID)))
			if err != nil {
				return err
			}
			if raw == nil {
				continue
			}
			var org Organization
			if err := cbor.Unmarshal(raw, &org); err != nil {
				return errs.WrapPersistence(err, "decode organization")
			}
			out = append(out, org)
		}
		return nil
	})
	return out, err
}

// SearchPublicOrgs scans public orgs whose name contains query
// (case-insensitive). It is a synchronous local scan; no caller in this
// module applies a discovery deadline around it.
func (s *Store) SearchPublicOrgs(query string) ([]Organization, error) {
	needle := strings.ToLower(query)
	var out []Organization
	err := s.db.View(func(txn *badger.Txn) error {
		_, values, err := store.EnumeratePrefix(txn, prefixes.PrefixOrg)
		if err != nil {
			return err
		}
		for _, v := range values {
			var org Organization
			if err := cbor.Unmarshal(v, &org); err != nil {
				return errs.WrapPersistence(err, "decode organization")
			}
			if org.IsPublic && strings.Contains(strings.ToLower(org.Name), needle) {
				out = append(out, org)
			}
		}
		return nil
	})
	return out, err
}
