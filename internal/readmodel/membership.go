package readmodel

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/store"
)

// MembershipRow is the membership(...) row of §3.
type MembershipRow struct {
	OrgID       string
	MemberKey   string
	AccessLevel string
	JoinedAt    int64
}

func membershipKey(orgID, memberHex string) []byte {
	return store.Key(prefixes.PrefixMembership, []byte(orgID), []byte(memberHex))
}

func membershipByKeyIndex(memberHex, orgID string) []byte {
	return store.Key(prefixes.PrefixMembershipByKey, []byte(memberHex), []byte(orgID))
}

// setMembershipLocked writes a membership row and its reverse index within
// an existing transaction — used by CreateOrg's auto-enroll and by
// SetMembership.
func setMembershipLocked(txn *badger.Txn, orgID, memberHex, level string, joinedAt int64) error {
	row := MembershipRow{OrgID: orgID, MemberKey: memberHex, AccessLevel: level, JoinedAt: joinedAt}
	encoded, err := cbor.Marshal(row)
	if err != nil {
		return errs.WrapPersistence(err, "encode membership")
	}
	if err := txn.Set(membershipKey(orgID, memberHex), encoded); err != nil {
		return errs.WrapPersistence(err, "write membership")
	}
	levelBytes := append([]byte(nil), []byte(level)...)
	if err := txn.Set(membershipByKeyIndex(memberHex, orgID), levelBytes); err != nil {
		return errs.WrapPersistence(err, "write membership reverse index")
	}
	return nil
}

// SetMembership applies §4.2's membership handler: add, or change
// permission, for (orgID, memberHex).
func (s *Store) SetMembership(orgID, memberHex, level string, joinedAt int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setMembershipLocked(txn, orgID, memberHex, level, joinedAt)
	})
}

// RemoveMembership deletes a member's row from orgID.
func (s *Store) RemoveMembership(orgID, memberHex string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(membershipKey(orgID, memberHex)); err != nil {
			return errs.WrapPersistence(err, "delete membership")
		}
		if err := txn.Delete(membershipByKeyIndex(memberHex, orgID)); err != nil {
			return errs.WrapPersistence(err, "delete membership reverse index")
		}
		return nil
	})
}

// GetMembership returns memberHex's access level within orgID, if any.
func (s *Store) GetMembership(orgID, memberHex string) (MembershipRow, bool, error) {
	var row MembershipRow
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := store.Get(txn, membershipKey(orgID, memberHex))
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		found = true
		if err := cbor.Unmarshal(raw, &row); err != nil {
			return errs.WrapPersistence(err, "decode membership")
		}
		return nil
	})
	if err != nil {
		return MembershipRow{}, false, err
	}
	return row, found, nil
}

// ListOrgMembers returns every membership row for orgID.
func (s *Store) ListOrgMembers(orgID string) ([]MembershipRow, error) {
	var out []MembershipRow
	prefix := store.Key(prefixes.PrefixMembership, []byte(orgID))
	err := s.db.View(func(txn *badger.Txn) error {
		_, values, err := store.EnumeratePrefix(txn, prefix)
		if err != nil {
			return err
		}
		for _, v := range values {
			var row MembershipRow
			if err := cbor.Unmarshal(v, &row); err != nil {
				return errs.WrapPersistence(err, "decode membership")
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}
