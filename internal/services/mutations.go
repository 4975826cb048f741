// Package services implements the business logic of the server core. This
// file defines the domain operations the coordinator can execute. Each
// operation performs its semantic checks against the current projected
// state, then emits the ledger events that record the accepted mutation;
// the coordinator appends and projects them atomically.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/domain"
	"github.com/trellid/go-room-server/internal/repo"
)

// MutationRequest is one domain operation submitted through
// Coordinator.HandleMutation. Implementations validate, authorize, and build
// the events to append; they never write the ledger or the projections
// themselves.
type MutationRequest interface {
	// kind is a stable operation name for logs and metrics.
	kind() string
	// apply runs the semantic checks inside the coordinator's transaction
	// and returns the events to append plus the response to return (and,
	// for transaction-id calls, to freeze in the idempotency cache).
	apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error)
}

// newEvent builds an unsequenced ledger event with a marshaled content
// payload. The sequence number is assigned at append time.
func newEvent(roomID, sender, eventType string, stateKey *string, content any) (*domain.Event, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, ErrInvalid
	}
	return &domain.Event{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    sender,
		Type:      eventType,
		StateKey:  stateKey,
		Content:   string(raw),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// okResponse marshals a response body under the given status code.
func okResponse(status int, body any) (*Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: status, Body: raw}, nil
}

func strPtr(s string) *string { return &s }

// normalizeAlias canonicalizes an alias to NFC and validates its shape
// (#name:server).
func normalizeAlias(alias string) (string, error) {
	alias = norm.NFC.String(strings.TrimSpace(alias))
	if alias == "" || len(alias) > 255 {
		return "", ErrInvalid
	}
	if !strings.HasPrefix(alias, "#") || !strings.Contains(alias, ":") {
		return "", ErrInvalid
	}
	return alias, nil
}

// requireJoined loads the sender's membership in a room and fails with
// ErrForbidden unless it is "join".
func requireJoined(ctx context.Context, tx *gorm.DB, roomID, userID string) error {
	m, err := repo.GetMembership(ctx, tx, roomID, userID)
	if err != nil || m.Membership != domain.MembershipJoin {
		return ErrForbidden
	}
	return nil
}

// CreateRoom creates a room, joins the creator, and optionally claims an
// alias for it, all in one atomic mutation.
type CreateRoom struct {
	// JoinRule is "public" or "invite"; empty defaults to public.
	JoinRule string
	// Alias, when set, is claimed for the new room.
	Alias string
	// AliasServers lists resolution servers for the claimed alias; empty
	// defaults to this server.
	AliasServers []string
}

func (CreateRoom) kind() string { return "create_room" }

func (r CreateRoom) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	joinRule := r.JoinRule
	if joinRule == "" {
		joinRule = domain.JoinRulePublic
	}
	if joinRule != domain.JoinRulePublic && joinRule != domain.JoinRuleInvite {
		return nil, nil, ErrInvalid
	}

	roomID := "!" + uuid.NewString() + ":" + c.ServerName

	createEv, err := newEvent(roomID, senderID, domain.EventTypeCreate, nil, createContent{Creator: senderID})
	if err != nil {
		return nil, nil, err
	}
	rulesEv, err := newEvent(roomID, senderID, domain.EventTypeJoinRules, nil, joinRulesContent{JoinRule: joinRule})
	if err != nil {
		return nil, nil, err
	}
	joinEv, err := newEvent(roomID, senderID, domain.EventTypeMember, strPtr(senderID), memberContent{Membership: domain.MembershipJoin})
	if err != nil {
		return nil, nil, err
	}
	evs := []*domain.Event{createEv, rulesEv, joinEv}

	body := map[string]string{"room_id": roomID}
	if r.Alias != "" {
		alias, err := normalizeAlias(r.Alias)
		if err != nil {
			return nil, nil, err
		}
		if _, err := repo.GetAlias(ctx, tx, alias); err == nil {
			return nil, nil, ErrConflict
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, nil, mapStorageErr(err)
		}
		servers := r.AliasServers
		if len(servers) == 0 {
			servers = []string{c.ServerName}
		}
		aliasEv, err := newEvent(roomID, senderID, domain.EventTypeAlias, strPtr(alias), aliasContent{Action: aliasActionCreate, Servers: servers})
		if err != nil {
			return nil, nil, err
		}
		evs = append(evs, aliasEv)
		body["alias"] = alias
	}

	resp, err := okResponse(http.StatusOK, body)
	return evs, resp, err
}

// SendMessage appends a message event to a room's timeline. The sender must
// currently be joined.
type SendMessage struct {
	RoomID  string
	Content json.RawMessage
}

func (SendMessage) kind() string { return "send_message" }

func (r SendMessage) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	if len(r.Content) == 0 || !json.Valid(r.Content) {
		return nil, nil, ErrInvalid
	}
	if _, err := repo.GetRoom(ctx, tx, r.RoomID); err != nil {
		return nil, nil, mapStorageErr(err)
	}
	if err := requireJoined(ctx, tx, r.RoomID, senderID); err != nil {
		return nil, nil, err
	}

	ev := &domain.Event{
		ID:        uuid.NewString(),
		RoomID:    r.RoomID,
		UserID:    senderID,
		Type:      domain.EventTypeMessage,
		Content:   string(r.Content),
		CreatedAt: time.Now().UTC(),
	}
	resp, err := okResponse(http.StatusOK, map[string]string{"event_id": ev.ID})
	return []*domain.Event{ev}, resp, err
}

// SetMembership records a membership transition: invite, join, leave (or
// kick), ban, or knock. TargetID defaults to the sender for self-directed
// transitions.
type SetMembership struct {
	RoomID     string
	TargetID   string
	Membership string
}

func (SetMembership) kind() string { return "set_membership" }

func (r SetMembership) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	target := r.TargetID
	if target == "" {
		target = senderID
	}

	room, err := repo.GetRoom(ctx, tx, r.RoomID)
	if err != nil {
		return nil, nil, mapStorageErr(err)
	}

	current := ""
	if m, err := repo.GetMembership(ctx, tx, r.RoomID, target); err == nil {
		current = m.Membership
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, nil, mapStorageErr(err)
	}

	if err := r.authorize(ctx, tx, room, senderID, target, current); err != nil {
		return nil, nil, err
	}

	ev, err := newEvent(r.RoomID, senderID, domain.EventTypeMember, strPtr(target), memberContent{Membership: r.Membership})
	if err != nil {
		return nil, nil, err
	}
	resp, err := okResponse(http.StatusOK, map[string]string{"event_id": ev.ID})
	return []*domain.Event{ev}, resp, err
}

// authorize enforces the transition rules for one membership change given
// the target's current state.
func (r SetMembership) authorize(ctx context.Context, tx *gorm.DB, room *domain.Room, senderID, target, current string) error {
	if current == r.Membership {
		return ErrConflict
	}

	switch r.Membership {
	case domain.MembershipJoin:
		if target != senderID {
			return ErrForbidden
		}
		if current == domain.MembershipBan {
			return ErrForbidden
		}
		if room.JoinRule == domain.JoinRuleInvite && current != domain.MembershipInvite {
			return ErrForbidden
		}
		return nil

	case domain.MembershipInvite:
		if err := requireJoined(ctx, tx, room.ID, senderID); err != nil {
			return err
		}
		if current == domain.MembershipBan {
			return ErrForbidden
		}
		if current == domain.MembershipJoin {
			return ErrConflict
		}
		return nil

	case domain.MembershipLeave:
		if current == "" {
			return ErrNotFound
		}
		if current == domain.MembershipBan {
			return ErrForbidden
		}
		if target != senderID {
			// kick
			return requireJoined(ctx, tx, room.ID, senderID)
		}
		return nil

	case domain.MembershipBan:
		if target == senderID {
			return ErrInvalid
		}
		return requireJoined(ctx, tx, room.ID, senderID)

	case domain.MembershipKnock:
		if target != senderID {
			return ErrForbidden
		}
		if room.JoinRule != domain.JoinRuleInvite {
			return ErrInvalid
		}
		if current == domain.MembershipBan {
			return ErrForbidden
		}
		if current == domain.MembershipJoin || current == domain.MembershipInvite {
			return ErrConflict
		}
		return nil
	}
	return ErrInvalid
}

// SetJoinRule changes who may enter the room. Creator only.
type SetJoinRule struct {
	RoomID   string
	JoinRule string
}

func (SetJoinRule) kind() string { return "set_join_rule" }

func (r SetJoinRule) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	if r.JoinRule != domain.JoinRulePublic && r.JoinRule != domain.JoinRuleInvite {
		return nil, nil, ErrInvalid
	}
	room, err := repo.GetRoom(ctx, tx, r.RoomID)
	if err != nil {
		return nil, nil, mapStorageErr(err)
	}
	if room.Creator != senderID {
		return nil, nil, ErrForbidden
	}
	ev, err := newEvent(r.RoomID, senderID, domain.EventTypeJoinRules, nil, joinRulesContent{JoinRule: r.JoinRule})
	if err != nil {
		return nil, nil, err
	}
	resp, err := okResponse(http.StatusOK, map[string]string{"event_id": ev.ID})
	return []*domain.Event{ev}, resp, err
}

// CreateAlias claims a globally unique alias for an existing room. The
// creator becomes the alias owner.
type CreateAlias struct {
	Alias   string
	RoomID  string
	Servers []string
}

func (CreateAlias) kind() string { return "create_alias" }

func (r CreateAlias) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	alias, err := normalizeAlias(r.Alias)
	if err != nil {
		return nil, nil, err
	}
	if _, err := repo.GetRoom(ctx, tx, r.RoomID); err != nil {
		return nil, nil, mapStorageErr(err)
	}
	if _, err := repo.GetAlias(ctx, tx, alias); err == nil {
		return nil, nil, ErrConflict
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, nil, mapStorageErr(err)
	}

	servers := r.Servers
	if len(servers) == 0 {
		servers = []string{c.ServerName}
	}
	ev, err := newEvent(r.RoomID, senderID, domain.EventTypeAlias, strPtr(alias), aliasContent{Action: aliasActionCreate, Servers: servers})
	if err != nil {
		return nil, nil, err
	}
	resp, err := okResponse(http.StatusOK, map[string]string{"alias": alias, "room_id": r.RoomID})
	return []*domain.Event{ev}, resp, err
}

// DeleteAlias removes an alias. Owner only.
type DeleteAlias struct {
	Alias string
}

func (DeleteAlias) kind() string { return "delete_alias" }

func (r DeleteAlias) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	alias, err := normalizeAlias(r.Alias)
	if err != nil {
		return nil, nil, err
	}
	a, err := repo.GetAlias(ctx, tx, alias)
	if err != nil {
		return nil, nil, mapStorageErr(err)
	}
	if a.UserID != senderID {
		return nil, nil, ErrForbidden
	}
	ev, err := newEvent(a.RoomID, senderID, domain.EventTypeAlias, strPtr(alias), aliasContent{Action: aliasActionDelete})
	if err != nil {
		return nil, nil, err
	}
	resp, err := okResponse(http.StatusOK, map[string]string{})
	return []*domain.Event{ev}, resp, err
}

// RepointAlias points an existing alias at a different room. Owner only.
type RepointAlias struct {
	Alias  string
	RoomID string
}

func (RepointAlias) kind() string { return "repoint_alias" }

func (r RepointAlias) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	alias, err := normalizeAlias(r.Alias)
	if err != nil {
		return nil, nil, err
	}
	a, err := repo.GetAlias(ctx, tx, alias)
	if err != nil {
		return nil, nil, mapStorageErr(err)
	}
	if a.UserID != senderID {
		return nil, nil, ErrForbidden
	}
	if _, err := repo.GetRoom(ctx, tx, r.RoomID); err != nil {
		return nil, nil, mapStorageErr(err)
	}

	var servers []string
	if err := json.Unmarshal([]byte(a.Servers), &servers); err != nil {
		servers = nil
	}
	ev, err := newEvent(r.RoomID, senderID, domain.EventTypeAlias, strPtr(alias), aliasContent{Action: aliasActionUpdate, Servers: servers})
	if err != nil {
		return nil, nil, err
	}
	resp, err := okResponse(http.StatusOK, map[string]string{"alias": alias, "room_id": r.RoomID})
	return []*domain.Event{ev}, resp, err
}

// PutAccountData stores a per-user setting blob, optionally scoped to a
// room. Last write wins.
type PutAccountData struct {
	RoomID  string
	Type    string
	Content json.RawMessage
}

func (PutAccountData) kind() string { return "put_account_data" }

func (r PutAccountData) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	if strings.TrimSpace(r.Type) == "" || len(r.Content) == 0 || !json.Valid(r.Content) {
		return nil, nil, ErrInvalid
	}
	if r.RoomID != "" {
		if _, err := repo.GetRoom(ctx, tx, r.RoomID); err != nil {
			return nil, nil, mapStorageErr(err)
		}
	}

	ev := &domain.Event{
		ID:        uuid.NewString(),
		RoomID:    r.RoomID,
		UserID:    senderID,
		Type:      domain.EventTypeAccountData,
		StateKey:  strPtr(r.Type),
		Content:   string(r.Content),
		CreatedAt: time.Now().UTC(),
	}
	resp, err := okResponse(http.StatusOK, map[string]string{})
	return []*domain.Event{ev}, resp, err
}

// SetRoomTag labels a room for the sender, with an optional ordering
// weight. The sender must have some relationship with the room.
type SetRoomTag struct {
	RoomID string
	Tag    string
	Order  *float64
}

func (SetRoomTag) kind() string { return "set_room_tag" }

func (r SetRoomTag) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	if strings.TrimSpace(r.Tag) == "" {
		return nil, nil, ErrInvalid
	}
	if _, err := repo.GetRoom(ctx, tx, r.RoomID); err != nil {
		return nil, nil, mapStorageErr(err)
	}
	if _, err := repo.GetMembership(ctx, tx, r.RoomID, senderID); err != nil {
		return nil, nil, ErrForbidden
	}
	ev, err := newEvent(r.RoomID, senderID, domain.EventTypeTag, strPtr(r.Tag), tagContent{Order: r.Order})
	if err != nil {
		return nil, nil, err
	}
	resp, err := okResponse(http.StatusOK, map[string]string{})
	return []*domain.Event{ev}, resp, err
}

// DeleteRoomTag removes the sender's tag from a room. Removing an absent
// tag succeeds; the ledger still records the intent.
type DeleteRoomTag struct {
	RoomID string
	Tag    string
}

func (DeleteRoomTag) kind() string { return "delete_room_tag" }

func (r DeleteRoomTag) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	if strings.TrimSpace(r.Tag) == "" {
		return nil, nil, ErrInvalid
	}
	if _, err := repo.GetRoom(ctx, tx, r.RoomID); err != nil {
		return nil, nil, mapStorageErr(err)
	}
	ev, err := newEvent(r.RoomID, senderID, domain.EventTypeTag, strPtr(r.Tag), tagContent{Deleted: true})
	if err != nil {
		return nil, nil, err
	}
	resp, err := okResponse(http.StatusOK, map[string]string{})
	return []*domain.Event{ev}, resp, err
}

// RedactEvent appends a redaction entry referencing an existing event. The
// referenced event itself is never rewritten. Allowed for the original
// sender and the room creator.
type RedactEvent struct {
	RoomID  string
	EventID string
	Reason  string
}

func (RedactEvent) kind() string { return "redact_event" }

func (r RedactEvent) apply(ctx context.Context, tx *gorm.DB, c *Coordinator, senderID string) ([]*domain.Event, *Response, error) {
	room, err := repo.GetRoom(ctx, tx, r.RoomID)
	if err != nil {
		return nil, nil, mapStorageErr(err)
	}
	target, err := repo.GetEvent(ctx, tx, r.RoomID, r.EventID)
	if err != nil {
		return nil, nil, mapStorageErr(err)
	}
	if senderID != target.UserID && senderID != room.Creator {
		return nil, nil, ErrForbidden
	}
	ev, err := newEvent(r.RoomID, senderID, domain.EventTypeRedaction, nil, redactionContent{Redacts: target.ID, Reason: r.Reason})
	if err != nil {
		return nil, nil, err
	}
	resp, err := okResponse(http.StatusOK, map[string]string{"event_id": ev.ID})
	return []*domain.Event{ev}, resp, err
}
