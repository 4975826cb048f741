// Package domain defines the core persistence models for the server. This
// file holds the account-side models: registered users, their bearer access
// tokens, and per-user settings (account data and room tags).
package domain

import "time"

// User is a registered account. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           string    `json:"id"       gorm:"type:char(36);primaryKey"`
	Username     string    `json:"username" gorm:"type:varchar(255);not null;uniqueIndex:ux_users_username"`
	PasswordHash []byte    `json:"-"        gorm:"type:blob;not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// AccessToken is a bearer session credential. The Value column holds the
// signed token handed to the client; validity additionally requires that the
// signature verifies against the current server secret, so rotating the
// secret invalidates every outstanding row without touching the table.
//
// Revocation is a flag, not a deletion: revoked rows stay for audit.
type AccessToken struct {
	ID        string    `json:"id"      gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:char(36);not null;index"`
	Value     string    `json:"-"       gorm:"type:text;not null;uniqueIndex:ux_access_tokens_value,length:255"`
	Revoked   bool      `json:"revoked" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for AccessToken.
func (AccessToken) TableName() string { return "access_tokens" }

// AccountData is a projected per-user setting blob, optionally scoped to a
// room. Keyed by (user, room, type); an empty RoomID means account-global.
// Last write wins, in ledger order.
type AccountData struct {
	UserID    string    `json:"user_id" gorm:"type:varchar(255);primaryKey"`
	RoomID    string    `json:"room_id" gorm:"type:varchar(255);primaryKey;default:''"`
	Type      string    `json:"type"    gorm:"type:varchar(255);primaryKey"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for AccountData.
func (AccountData) TableName() string { return "account_data" }

// RoomTag is a projected user-assigned label on a room (favourites, low
// priority, ...), with an optional ordering weight. Keyed by
// (user, room, tag).
type RoomTag struct {
	UserID    string    `json:"user_id" gorm:"type:varchar(255);primaryKey"`
	RoomID    string    `json:"room_id" gorm:"type:varchar(255);primaryKey"`
	Tag       string    `json:"tag"     gorm:"type:varchar(255);primaryKey"`
	Order     *float64  `json:"order,omitempty" gorm:"column:tag_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for RoomTag.
func (RoomTag) TableName() string { return "room_tags" }
