// Package store holds the badger plumbing shared by every durable subsystem:
// the operation log, the read-model projection, encryption checkpoints, the
// topic map and blob metadata.
//
// The key-space convention is lifted straight from the teacher prototype's
// DBPrefixes struct: a tagged registry of one-byte key prefixes, populated by
// reflection once at startup, so every table in the logical relational model
// of spec.md §3 gets a stable, non-overlapping prefix byte without anyone
// having to hand-count slice literals.
package store

import (
	"fmt"
	"reflect"
)

// Prefixes is implemented by a struct whose exported []byte fields are tagged
// `prefix_id:"[N]"`. LoadPrefixes walks such a struct with reflection and fills
// in each field from its tag, the same way the teacher's GetPrefixes did.
type Prefixes interface{}

// LoadPrefixes parses the `prefix_id` tags of dst (a pointer to a struct of
// []byte fields) and assigns each field its one-byte prefix. It panics on a
// malformed tag since this only ever runs once, at process start, against a
// struct defined in this binary — a bad tag is a programming error, not a
// runtime condition to recover from.
func LoadPrefixes(dst Prefixes) {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		panic("store: LoadPrefixes requires a pointer to a struct")
	}
	elem := v.Elem()
	t := elem.Type()
	seen := make(map[byte]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("prefix_id")
		if !ok {
			panic(fmt.Sprintf("store: field %s missing prefix_id tag", field.Name))
		}
		var id byte
		if _, err := fmt.Sscanf(tag, "[%d]", &id); err != nil {
			panic(fmt.Sprintf("store: field %s has malformed prefix_id tag %q: %v", field.Name, tag, err))
		}
		if owner, dup := seen[id]; dup {
			panic(fmt.Sprintf("store: prefix %d used by both %s and %s", id, owner, field.Name))
		}
		seen[id] = field.Name
		elem.Field(i).Set(reflect.ValueOf([]byte{id}))
	}
}

// Key concatenates a table prefix with one or more key components, in the
// same "<prefix_id, component, component, ...>" shape the teacher's comments
// describe for every DBPrefixes field.
func Key(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, prefix...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
