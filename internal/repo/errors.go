// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file centralizes the sentinel errors the repository
// functions return and the driver-specific detection of unique-constraint
// violations.
package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate indicates a unique-constraint violation (duplicate event ID,
// alias, username, or idempotency key).
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations, so
// we match on the message in addition to GORM's translated error.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
