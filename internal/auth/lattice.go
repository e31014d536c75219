// Package auth implements the §4.5 access lattice, per-organization
// membership mutations, and shareable invite tokens.
package auth

import "github.com/joindelta/delta/internal/errs"

// Level is a point in the totally ordered access lattice
// Pull < Read < Write < Manage.
type Level int

const (
	Pull Level = iota
	Read
	Write
	Manage
)

// HasPermission reports whether l is at least as privileged as required.
func (l Level) HasPermission(required Level) bool { return l >= required }

func (l Level) String() string {
	switch l {
	case Pull:
		return "pull"
	case Read:
		return "read"
	case Write:
		return "write"
	case Manage:
		return "manage"
	default:
		return "unknown"
	}
}

// ParseLevel parses the wire string form used by invite tokens and the
// external interface's level_str parameters.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "pull":
		return Pull, nil
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	case "manage":
		return Manage, nil
	default:
		return 0, errs.InvalidInput("unknown access level %q", s)
	}
}
