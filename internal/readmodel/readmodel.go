// Package readmodel implements the §3 logical relational projection: the
// query-friendly view the projector maintains over profiles, organizations,
// memberships, rooms, messages, reactions, DM threads, projector cursors and
// topic sequence numbers. Every table lives in one badger.DB, keyed by a
// table-specific prefix byte from the same reflect-tag registry convention
// the teacher's DBPrefixes used.
package readmodel

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/joindelta/delta/internal/store"
)

// Prefixes is the badger key-prefix registry for every read-model table.
type Prefixes struct {
	PrefixProfile         []byte `prefix_id:"[0]"`
	PrefixOrg             []byte `prefix_id:"[1]"`
	PrefixOrgByCreator     []byte `prefix_id:"[2]"`
	PrefixMembership      []byte `prefix_id:"[3]"`
	PrefixMembershipByKey  []byte `prefix_id:"[4]"`
	PrefixRoom            []byte `prefix_id:"[5]"`
	PrefixRoomByOrg        []byte `prefix_id:"[6]"`
	PrefixMessage         []byte `prefix_id:"[7]"`
	PrefixMessageByThread  []byte `prefix_id:"[8]"`
	PrefixReaction        []byte `prefix_id:"[9]"`
	PrefixDMThread        []byte `prefix_id:"[10]"`
	PrefixDMThreadByPair   []byte `prefix_id:"[11]"`
	PrefixCursor          []byte `prefix_id:"[12]"`
	PrefixTopicSeq        []byte `prefix_id:"[13]"`
}

var prefixes = func() *Prefixes {
	p := &Prefixes{}
	store.LoadPrefixes(p)
	return p
}()

// Store is the handle every projector handler and external-interface query
// uses to read and write the logical relational model.
type Store struct {
	db *badger.DB
}

func Open(db *badger.DB) *Store { return &Store{db: db} }
