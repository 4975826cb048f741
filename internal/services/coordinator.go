// Package services implements the business logic of the server core. This
// file provides the mutation coordinator: the single entry point every
// mutating call goes through. Per call, in strict order: credential
// validation, idempotency lookup (when the call carries a transaction
// identifier), then the domain operation — semantic checks, ledger append,
// and state projection inside one storage transaction.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/config"
	"github.com/trellid/go-room-server/internal/domain"
	"github.com/trellid/go-room-server/internal/observability"
	"github.com/trellid/go-room-server/internal/repo"
)

// Coordinator orchestrates credential validation, idempotency, ledger
// appends, and projection. It is the only component that decides to append
// a ledger entry.
type Coordinator struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Auth is the credential store consulted before anything else.
	Auth *AuthService
	// Projector maintains the derived tables.
	Projector *Projector
	// Idem wraps transaction-id calls with replay detection.
	Idem *IdempotencyCache
	// Log is the coordinator's structured logger.
	Log zerolog.Logger
	// ServerName is the domain baked into generated identifiers.
	ServerName string
	// Timeout bounds each storage transaction.
	Timeout time.Duration
}

// New wires the full core from configuration: credential store, projector,
// idempotency cache, and coordinator, all over one database handle.
func New(db *gorm.DB, cfg *config.Config, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		DB:         db,
		Auth:       NewAuthService(db, []byte(cfg.SigningSecret), cfg.TokenTTL, cfg.LoginRPS, cfg.LoginBurst, log),
		Projector:  NewProjector(db, log),
		Idem:       NewIdempotencyCache(db, cfg.IdempotencyTTL, log),
		Log:        log,
		ServerName: cfg.ServerName,
		Timeout:    cfg.StorageTimeout,
	}
}

// HandleMutation executes one mutating call:
//
//	validate credential -> (cached replay | execute -> append -> project -> cache) -> respond
//
// A failed validation aborts before any other component is touched. When
// txnID is empty the call is executed directly, without replay protection.
func (c *Coordinator) HandleMutation(ctx context.Context, token, path, txnID string, req MutationRequest) (resp *Response, err error) {
	if req == nil {
		return nil, ErrInvalid
	}
	defer func() {
		observability.MutationsTotal.WithLabelValues(req.kind(), errLabel(err)).Inc()
	}()

	userID, err := c.Auth.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	exec := func(ctx context.Context) (*Response, error) {
		return c.execute(ctx, userID, req)
	}
	if txnID == "" {
		return exec(ctx)
	}
	return c.Idem.Do(ctx, path, token, exec)
}

// execute runs the domain operation and commits its events and their
// projection atomically. A failure anywhere rolls the whole transaction
// back; no ledger entry ever exists without its projection or vice versa.
func (c *Coordinator) execute(ctx context.Context, userID string, req MutationRequest) (*Response, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var (
		resp     *Response
		appended int
	)
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evs, r, err := req.apply(ctx, tx, c, userID)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			if _, err := repo.AppendEvent(ctx, tx, ev); err != nil {
				return mapStorageErr(err)
			}
			if err := c.Projector.Apply(ctx, tx, ev); err != nil {
				return mapStorageErr(err)
			}
		}
		resp = r
		appended = len(evs)
		return nil
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}

	for i := 0; i < appended; i++ {
		observability.EventsAppended.Inc()
	}
	c.Log.Debug().
		Str("user_id", userID).
		Str("op", req.kind()).
		Int("events", appended).
		Msg("mutation committed")
	return resp, nil
}

// RebuildProjections replays the full ledger in sequence order to
// regenerate every derived table. Recovery path and test oracle.
func (c *Coordinator) RebuildProjections(ctx context.Context) error {
	return c.Projector.Rebuild(ctx)
}

// IssueCredential creates a bearer token for the user.
func (c *Coordinator) IssueCredential(ctx context.Context, userID string) (string, error) {
	return c.Auth.Issue(ctx, userID)
}

// RevokeCredential revokes a bearer token.
func (c *Coordinator) RevokeCredential(ctx context.Context, token string) error {
	return c.Auth.Revoke(ctx, token)
}

// RotateSecret swaps the credential signing secret, invalidating every
// outstanding token.
func (c *Coordinator) RotateSecret(newSecret []byte) error {
	return c.Auth.RotateSecret(newSecret)
}

// RoomTimeline returns the room's events with seq > afterSeq for a caller
// who is currently joined to the room.
func (c *Coordinator) RoomTimeline(ctx context.Context, token, roomID string, afterSeq int64, limit int) ([]domain.Event, error) {
	userID, err := c.Auth.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := repo.GetRoom(ctx, c.DB, roomID); err != nil {
		return nil, mapStorageErr(err)
	}
	m, err := repo.GetMembership(ctx, c.DB, roomID, userID)
	if err != nil || m.Membership != domain.MembershipJoin {
		return nil, ErrForbidden
	}
	evs, err := repo.EventsForRoom(ctx, c.DB, roomID, afterSeq, limit)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return evs, nil
}

// RoomMembers returns the joined members of a room the caller belongs to.
func (c *Coordinator) RoomMembers(ctx context.Context, token, roomID string) ([]domain.RoomMembership, error) {
	userID, err := c.Auth.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := repo.GetMembership(ctx, c.DB, roomID, userID); err != nil {
		return nil, ErrForbidden
	}
	ms, err := repo.ListMemberships(ctx, c.DB, roomID, domain.MembershipJoin)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return ms, nil
}

// ResolveAlias maps an alias to its current alias record.
func (c *Coordinator) ResolveAlias(ctx context.Context, alias string) (*domain.RoomAlias, error) {
	alias, err := normalizeAlias(alias)
	if err != nil {
		return nil, err
	}
	a, err := repo.GetAlias(ctx, c.DB, alias)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return a, nil
}

// AccountData returns one of the caller's setting blobs (roomID empty for
// the account-global scope).
func (c *Coordinator) AccountData(ctx context.Context, token, roomID, dataType string) (*domain.AccountData, error) {
	userID, err := c.Auth.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	ad, err := repo.GetAccountData(ctx, c.DB, userID, roomID, dataType)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return ad, nil
}
