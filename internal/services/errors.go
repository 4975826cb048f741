// Package services implements the business logic of the server core: the
// credential store, the state projector, the idempotency cache, and the
// mutation coordinator that ties them together. This file centralizes the
// service-level error taxonomy so that every component reports failures
// consistently and the surrounding transport layer can map them to wire
// responses.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/repo"
)

// Core error taxonomy. Validation and authorization errors are returned
// before any durable write is attempted; ErrUnavailable is safe to retry
// because the append+project transaction never leaves partial state behind.
var (
	// ErrUnauthenticated indicates a missing, malformed, revoked, or
	// cryptographically invalid credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates the caller is authenticated but not permitted
	// to perform the operation (e.g. repointing someone else's alias).
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a uniqueness violation: duplicate alias,
	// duplicate ledger entry ID, or a stale state write.
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates a referenced room, alias, user, or event is
	// absent.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates a storage timeout or transient failure. No
	// partial state is left visible, so callers may retry.
	ErrUnavailable = errors.New("unavailable")

	// ErrInvalid indicates a malformed domain request, caught before the
	// ledger is touched.
	ErrInvalid = errors.New("invalid request")
)

// mapStorageErr translates repository and driver errors into the core
// taxonomy. Errors already in the taxonomy pass through unchanged.
func mapStorageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, repo.ErrDuplicate):
		return ErrConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrUnavailable
	}
	return err
}

// errLabel reduces an error to a bounded outcome label for metrics.
func errLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	}
	return "error"
}
