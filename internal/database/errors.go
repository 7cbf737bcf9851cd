package database

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// pgUniqueViolation is the SQLSTATE Postgres reports for unique_violation.
const pgUniqueViolation = "23505"

// UniqueViolation reports whether err was raised by a unique constraint. The
// returned detail names the violated constraint or column as the driver
// reported it, e.g. "users_email_key" or "UNIQUE constraint failed: users.email".
func UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != pgUniqueViolation {
			return "", false
		}
		return pqErr.Constraint + " " + pqErr.Detail, true
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || strings.Contains(liteErr.Error(), "UNIQUE constraint failed") {
			return liteErr.Error(), true
		}
		return "", false
	}

	// Drivers wrapped by something that drops the typed error still keep the text.
	if msg := err.Error(); strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLSTATE "+pgUniqueViolation) {
		return msg, true
	}

	return "", false
}
