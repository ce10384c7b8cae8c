// Package shared holds helpers the store layer uses around the SQLite driver.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Conflict kinds reported by ConflictKind.
const (
	ConflictBusy   = "busy"
	ConflictLocked = "locked"
)

// resultCode returns the primary SQLite result code carried by err, or 0 when
// err did not come from the driver.
func resultCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() & 0xff
	}
	return 0
}

// ConflictKind classifies a SQLite concurrency error. It returns "" for any
// other error. Driver errors are matched by result code; errors that lost
// their type on the way up are matched by message.
func ConflictKind(err error) string {
	if err == nil {
		return ""
	}
	switch resultCode(err) {
	case sqlite3.SQLITE_BUSY:
		return ConflictBusy
	case sqlite3.SQLITE_LOCKED:
		return ConflictLocked
	case 0:
	default:
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLITE_BUSY"):
		return ConflictBusy
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_LOCKED"):
		return ConflictLocked
	}
	return ""
}

// IsSQLiteBusyError reports whether another connection holds the database.
func IsSQLiteBusyError(err error) bool {
	return ConflictKind(err) == ConflictBusy
}

// IsSQLiteLockedError reports whether a table was locked by a conflicting
// statement.
func IsSQLiteLockedError(err error) bool {
	return ConflictKind(err) == ConflictLocked
}

// IsSQLiteConflictError reports whether err is a SQLite concurrency error
// worth retrying.
func IsSQLiteConflictError(err error) bool {
	return ConflictKind(err) != ""
}
