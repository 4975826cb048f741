// Package services implements the business logic of the server core. This
// file provides the idempotency cache: the guarantee that a mutating call
// carrying a client transaction identifier produces at most one durable side
// effect, no matter how often the client retries it.
//
// Two mechanisms enforce at-most-one execution: a singleflight group
// collapses concurrent in-process duplicates onto one execution, and the
// UNIQUE (path, token) constraint on the idempotency table backs the
// guarantee at the storage layer.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/domain"
	"github.com/trellid/go-room-server/internal/observability"
	"github.com/trellid/go-room-server/internal/repo"
)

// Response is the serialized outcome of a mutating call: a status code and
// the response body bytes. This is what the idempotency cache freezes; a
// replayed call returns these exact bytes even if the underlying state has
// since changed.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyCache wraps mutating operations with replay detection.
type IdempotencyCache struct {
	db    *gorm.DB
	ttl   time.Duration
	log   zerolog.Logger
	group singleflight.Group
}

// NewIdempotencyCache constructs the cache with the given retention window.
func NewIdempotencyCache(db *gorm.DB, ttl time.Duration, log zerolog.Logger) *IdempotencyCache {
	return &IdempotencyCache{db: db, ttl: ttl, log: log}
}

// Do returns the stored response for (path, token) if one exists; otherwise
// it invokes op exactly once, persists the result on success, and returns
// it. Failed executions are not persisted, so the client may retry the same
// transaction identifier.
//
// A Conflict from op triggers one cache re-check before surfacing: under
// racing retries the conflict usually means another attempt with the same
// key already committed.
func (c *IdempotencyCache) Do(ctx context.Context, path, token string, op func(context.Context) (*Response, error)) (*Response, error) {
	key := path + "\x1f" + token
	v, err, _ := c.group.Do(key, func() (any, error) {
		if rec, err := repo.GetIdempotency(ctx, c.db, path, token, time.Now().UTC()); err == nil {
			observability.IdempotencyReplays.Inc()
			return frozen(rec), nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, mapStorageErr(err)
		}

		resp, opErr := op(ctx)
		if opErr != nil {
			if errors.Is(opErr, ErrConflict) {
				if rec, err := repo.GetIdempotency(ctx, c.db, path, token, time.Now().UTC()); err == nil {
					observability.IdempotencyReplays.Inc()
					return frozen(rec), nil
				}
			}
			return nil, opErr
		}

		if _, err := repo.CreateIdempotency(ctx, c.db, path, token, resp.Status, resp.Body, c.ttl); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				// Another writer got there first; its stored response wins.
				if rec, gerr := repo.GetIdempotency(ctx, c.db, path, token, time.Now().UTC()); gerr == nil {
					return frozen(rec), nil
				}
			}
			return nil, mapStorageErr(err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// frozen copies a stored record into a Response the caller may not mutate
// in place.
func frozen(rec *domain.Idempotency) *Response {
	return &Response{Status: rec.Status, Body: append([]byte(nil), rec.Body...)}
}
