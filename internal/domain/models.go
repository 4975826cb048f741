// Package domain defines the core persistence models for the server: the
// append-only event ledger and the derived (projected) tables for rooms,
// memberships, and aliases. These types are mapped with GORM and are shared
// across the repository and service layers.
package domain

import "time"

// Event types recorded in the ledger. The names follow the Matrix
// client-server vocabulary so timelines stay readable in raw form.
const (
	EventTypeCreate      = "m.room.create"
	EventTypeJoinRules   = "m.room.join_rules"
	EventTypeMember      = "m.room.member"
	EventTypeAlias       = "m.room.alias"
	EventTypeMessage     = "m.room.message"
	EventTypeRedaction   = "m.room.redaction"
	EventTypeAccountData = "m.account_data"
	EventTypeTag         = "m.tag"
)

// Membership states a user can hold in a room. Closed set; anything else is
// rejected before it reaches the ledger.
const (
	MembershipInvite = "invite"
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// Join rules controlling who may enter a room.
const (
	JoinRulePublic = "public"
	JoinRuleInvite = "invite"
)

// Event is one immutable entry in the append-only ledger. Every accepted
// mutation becomes exactly one or more events; nothing else is durable
// history. Corrections are new events (e.g. redactions), never updates.
//
// Fields:
//   - ID: unique event identifier; server-generated unless the caller
//     supplied one. Duplicate IDs are rejected at insert time.
//   - Seq: global sequence number, strictly increasing across all rooms.
//     Assigned exactly once, inside the append transaction.
//   - RoomID: the room the event belongs to (empty for account-level data).
//   - UserID: the user who sent the event.
//   - Type: event type tag, e.g. m.room.member.
//   - StateKey: present only for state-carrying events (memberships, aliases,
//     settings); identifies which projected row the event targets.
//   - Content: JSON of the event's primary content.
//   - ExtraContent: optional extra key-value JSON mixed into the event.
type Event struct {
	ID           string    `json:"id"            gorm:"type:varchar(255);primaryKey"`
	Seq          int64     `json:"seq"           gorm:"not null;uniqueIndex:ux_events_seq;index:idx_events_room_seq,priority:2"`
	RoomID       string    `json:"room_id"       gorm:"type:varchar(255);not null;index:idx_events_room_seq,priority:1"`
	UserID       string    `json:"user_id"       gorm:"type:varchar(255);not null"`
	Type         string    `json:"type"          gorm:"type:varchar(128);not null;index"`
	StateKey     *string   `json:"state_key,omitempty" gorm:"type:varchar(255)"`
	Content      string    `json:"content"       gorm:"type:text;not null"`
	ExtraContent *string   `json:"extra_content,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"    gorm:"type:DATETIME NOT NULL"`
}

// TableName returns the database table name for Event.
func (Event) TableName() string { return "events" }

// Room is the projected record of a room's existence and join policy,
// derived from m.room.create and m.room.join_rules events.
type Room struct {
	ID        string    `json:"id"         gorm:"type:varchar(255);primaryKey"`
	Creator   string    `json:"creator"    gorm:"type:varchar(255);not null"`
	JoinRule  string    `json:"join_rule"  gorm:"type:varchar(32);not null;default:'public'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Room.
func (Room) TableName() string { return "rooms" }

// RoomMembership is the current relationship between a user and a room.
// Exactly one row exists per (room, user); each membership event with a
// higher sequence number supersedes the row in place. SourceSeq records the
// sequence of the event the row reflects so that replaying an older event
// can never overwrite a newer state.
//
// Fields:
//   - RoomID / UserID: composite primary key.
//   - Sender: the user who caused the current state (self-join, inviter,
//     banning moderator, ...).
//   - Membership: one of the Membership* constants.
//   - EventID: the ledger event the row was projected from.
//   - SourceSeq: global sequence of that event.
type RoomMembership struct {
	RoomID     string    `json:"room_id"    gorm:"type:varchar(255);primaryKey"`
	UserID     string    `json:"user_id"    gorm:"type:varchar(255);primaryKey"`
	Sender     string    `json:"sender"     gorm:"type:varchar(255);not null"`
	Membership string    `json:"membership" gorm:"type:varchar(32);not null;check:membership IN ('invite','join','leave','ban','knock')"`
	EventID    string    `json:"event_id"   gorm:"type:varchar(255);not null"`
	SourceSeq  int64     `json:"source_seq" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for RoomMembership.
func (RoomMembership) TableName() string { return "room_memberships" }

// RoomAlias maps a human-readable alias to a room. Aliases are globally
// unique and owned: only the user that created one may repoint or delete it.
//
// Servers holds the JSON-encoded list of homeserver domains that know about
// the alias (kept opaque here; resolution is a read-side concern).
type RoomAlias struct {
	Alias     string    `json:"alias"      gorm:"type:varchar(255);primaryKey"`
	RoomID    string    `json:"room_id"    gorm:"type:varchar(255);not null;index"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(255);not null"`
	Servers   string    `json:"servers"    gorm:"type:text;not null;default:'[]'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for RoomAlias.
func (RoomAlias) TableName() string { return "room_aliases" }
