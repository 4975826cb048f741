// Package services implements the business logic of the server core. This
// file provides the state projector: the component that derives the current
// membership, room, alias, and settings tables from ledger events.
//
// Apply is a total function of the event: authorization happened in the
// mutation operation before the event was appended, so replaying any prefix
// of the ledger over empty tables reproduces the derived state exactly. That
// replay (Rebuild) is the recovery path and the correctness oracle in tests.
package services

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/domain"
	"github.com/trellid/go-room-server/internal/observability"
	"github.com/trellid/go-room-server/internal/repo"
)

// rebuildBatchSize is how many ledger rows one replay batch loads.
const rebuildBatchSize = 500

// Alias event actions carried in aliasContent.
const (
	aliasActionCreate = "create"
	aliasActionUpdate = "update"
	aliasActionDelete = "delete"
)

// Event content payloads shared between the mutation operations (which
// write them) and the projector (which interprets them).
type (
	createContent struct {
		Creator string `json:"creator"`
	}
	joinRulesContent struct {
		JoinRule string `json:"join_rule"`
	}
	memberContent struct {
		Membership string `json:"membership"`
	}
	aliasContent struct {
		Action  string   `json:"action"`
		Servers []string `json:"servers,omitempty"`
	}
	tagContent struct {
		Order   *float64 `json:"order,omitempty"`
		Deleted bool     `json:"deleted,omitempty"`
	}
	redactionContent struct {
		Redacts string `json:"redacts"`
		Reason  string `json:"reason,omitempty"`
	}
)

// Projector maintains the derived tables. It owns every write to them; no
// other component touches a projected row.
type Projector struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewProjector constructs a Projector over the given database handle.
func NewProjector(db *gorm.DB, log zerolog.Logger) *Projector {
	return &Projector{db: db, log: log}
}

// Apply projects one ledger event into the derived tables. It must run in
// the same transaction as the append so both commit or neither does.
func (p *Projector) Apply(ctx context.Context, tx *gorm.DB, ev *domain.Event) error {
	switch ev.Type {
	case domain.EventTypeCreate:
		return p.applyCreate(ctx, tx, ev)
	case domain.EventTypeJoinRules:
		return p.applyJoinRules(ctx, tx, ev)
	case domain.EventTypeMember:
		return p.applyMember(ctx, tx, ev)
	case domain.EventTypeAlias:
		return p.applyAlias(ctx, tx, ev)
	case domain.EventTypeAccountData:
		return p.applyAccountData(ctx, tx, ev)
	case domain.EventTypeTag:
		return p.applyTag(ctx, tx, ev)
	}
	// Messages, redactions, and unknown types carry no derived rows.
	return nil
}

func (p *Projector) applyCreate(ctx context.Context, tx *gorm.DB, ev *domain.Event) error {
	var c createContent
	if err := json.Unmarshal([]byte(ev.Content), &c); err != nil {
		return ErrInvalid
	}
	creator := c.Creator
	if creator == "" {
		creator = ev.UserID
	}
	return repo.UpsertRoom(ctx, tx, &domain.Room{
		ID:        ev.RoomID,
		Creator:   creator,
		JoinRule:  domain.JoinRulePublic,
		CreatedAt: ev.CreatedAt,
		UpdatedAt: ev.CreatedAt,
	})
}

func (p *Projector) applyJoinRules(ctx context.Context, tx *gorm.DB, ev *domain.Event) error {
	var c joinRulesContent
	if err := json.Unmarshal([]byte(ev.Content), &c); err != nil {
		return ErrInvalid
	}
	return repo.SetRoomJoinRule(ctx, tx, ev.RoomID, c.JoinRule)
}

func (p *Projector) applyMember(ctx context.Context, tx *gorm.DB, ev *domain.Event) error {
	if ev.StateKey == nil {
		return ErrInvalid
	}
	var c memberContent
	if err := json.Unmarshal([]byte(ev.Content), &c); err != nil {
		return ErrInvalid
	}
	written, err := repo.UpsertMembershipIfNewer(ctx, tx, &domain.RoomMembership{
		RoomID:     ev.RoomID,
		UserID:     *ev.StateKey,
		Sender:     ev.UserID,
		Membership: c.Membership,
		EventID:    ev.ID,
		SourceSeq:  ev.Seq,
		CreatedAt:  ev.CreatedAt,
		UpdatedAt:  ev.CreatedAt,
	})
	if err != nil {
		return err
	}
	if !written {
		// Stale re-application; the stored row already reflects a newer event.
		p.log.Debug().
			Str("room_id", ev.RoomID).
			Str("user_id", *ev.StateKey).
			Int64("seq", ev.Seq).
			Msg("skipped stale membership event")
	}
	return nil
}

func (p *Projector) applyAlias(ctx context.Context, tx *gorm.DB, ev *domain.Event) error {
	if ev.StateKey == nil {
		return ErrInvalid
	}
	alias := *ev.StateKey
	var c aliasContent
	if err := json.Unmarshal([]byte(ev.Content), &c); err != nil {
		return ErrInvalid
	}
	servers, err := json.Marshal(c.Servers)
	if err != nil {
		return ErrInvalid
	}

	switch c.Action {
	case aliasActionDelete:
		return repo.DeleteAlias(ctx, tx, alias)
	case aliasActionUpdate:
		return repo.RepointAlias(ctx, tx, alias, ev.RoomID, string(servers))
	case aliasActionCreate:
		return repo.CreateAlias(ctx, tx, &domain.RoomAlias{
			Alias:     alias,
			RoomID:    ev.RoomID,
			UserID:    ev.UserID,
			Servers:   string(servers),
			CreatedAt: ev.CreatedAt,
			UpdatedAt: ev.CreatedAt,
		})
	}
	return ErrInvalid
}

func (p *Projector) applyAccountData(ctx context.Context, tx *gorm.DB, ev *domain.Event) error {
	if ev.StateKey == nil {
		return ErrInvalid
	}
	return repo.UpsertAccountData(ctx, tx, &domain.AccountData{
		UserID:  ev.UserID,
		RoomID:  ev.RoomID,
		Type:    *ev.StateKey,
		Content: ev.Content,
	})
}

func (p *Projector) applyTag(ctx context.Context, tx *gorm.DB, ev *domain.Event) error {
	if ev.StateKey == nil {
		return ErrInvalid
	}
	var c tagContent
	if err := json.Unmarshal([]byte(ev.Content), &c); err != nil {
		return ErrInvalid
	}
	if c.Deleted {
		return repo.DeleteRoomTag(ctx, tx, ev.UserID, ev.RoomID, *ev.StateKey)
	}
	return repo.UpsertRoomTag(ctx, tx, &domain.RoomTag{
		UserID:    ev.UserID,
		RoomID:    ev.RoomID,
		Tag:       *ev.StateKey,
		Order:     c.Order,
		CreatedAt: ev.CreatedAt,
		UpdatedAt: ev.CreatedAt,
	})
}

// Rebuild wipes every derived table and replays the full ledger in sequence
// order inside one transaction. On any failure the previous derived state is
// left untouched.
func (p *Projector) Rebuild(ctx context.Context) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, purge := range []func(context.Context, *gorm.DB) error{
			repo.PurgeRooms,
			repo.PurgeMemberships,
			repo.PurgeAliases,
			repo.PurgeAccountData,
			repo.PurgeRoomTags,
		} {
			if err := purge(ctx, tx); err != nil {
				return err
			}
		}

		var after int64
		for {
			evs, err := repo.EventsAfter(ctx, tx, after, rebuildBatchSize)
			if err != nil {
				return err
			}
			for i := range evs {
				if err := p.Apply(ctx, tx, &evs[i]); err != nil {
					return err
				}
			}
			if len(evs) < rebuildBatchSize {
				return nil
			}
			after = evs[len(evs)-1].Seq
		}
	})
	if err != nil {
		return mapStorageErr(err)
	}
	observability.ProjectionRebuilds.Inc()
	p.log.Info().Msg("projections rebuilt from ledger")
	return nil
}
