// Package domain holds the core conversation value types.
package domain

import (
	"regexp"
	"time"
)

// Turn is one query/answer exchange within a session. Immutable once appended.
type Turn struct {
	Query     string
	Answer    string
	Timestamp time.Time
}

// Session is a client-scoped conversation identified by an opaque key.
// Turns are append-only: they are never reordered or deleted individually,
// only the whole session is evicted.
type Session struct {
	ID         string
	Turns      []Turn
	CreatedAt  time.Time
	LastActive time.Time
}

// sessionIDPattern matches opaque session keys accepted at the boundary.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ValidSessionID reports whether id is an acceptable session key. Keys are
// used verbatim as store keys and transcript file names, so no normalization
// happens here.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
