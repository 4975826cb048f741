// Package domain defines the core persistence models for the server. This
// file holds the idempotency record used to make mutating calls safely
// retriable.
package domain

import "time"

// Idempotency is the recorded outcome of a previously processed mutating
// call, keyed by (path, token). The stored response is a frozen snapshot: a
// retry with the same key returns these exact bytes without re-executing any
// domain logic, even if the underlying state has since changed.
//
// Records are never updated. Expired rows are eligible for garbage
// collection; retention policy lives outside the core.
type Idempotency struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Path      string    `gorm:"type:varchar(512);not null;uniqueIndex:ux_idem_path_token,priority:1"`
	Token     string    `gorm:"type:varchar(512);not null;uniqueIndex:ux_idem_path_token,priority:2"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	Body      []byte    `gorm:"type:blob;not null"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
