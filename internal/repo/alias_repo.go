// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the projected room-alias table. The
// alias string is the primary key; the UNIQUE constraint is the load-bearing
// mechanism that rejects concurrent conflicting creations.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/domain"
)

// CreateAlias inserts a new alias row and returns ErrDuplicate when the
// alias is already taken.
func CreateAlias(ctx context.Context, tx *gorm.DB, alias *domain.RoomAlias) error {
	if err := tx.WithContext(ctx).Create(alias).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetAlias fetches an alias row, or ErrNotFound.
func GetAlias(ctx context.Context, db *gorm.DB, alias string) (*domain.RoomAlias, error) {
	var a domain.RoomAlias
	err := db.WithContext(ctx).First(&a, "alias = ?", alias).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// RepointAlias updates the room (and server list) an existing alias resolves
// to. Returns ErrNotFound when the alias does not exist.
func RepointAlias(ctx context.Context, tx *gorm.DB, alias, roomID, servers string) error {
	res := tx.WithContext(ctx).
		Model(&domain.RoomAlias{}).
		Where("alias = ?", alias).
		Updates(map[string]any{
			"room_id":    roomID,
			"servers":    servers,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAlias removes an alias row. Deleting an absent alias is a no-op so
// ledger replay stays total.
func DeleteAlias(ctx context.Context, tx *gorm.DB, alias string) error {
	return tx.WithContext(ctx).
		Where("alias = ?", alias).
		Delete(&domain.RoomAlias{}).Error
}

// ListRoomAliases returns every alias pointing at a room, ordered by alias.
func ListRoomAliases(ctx context.Context, db *gorm.DB, roomID string) ([]domain.RoomAlias, error) {
	var as []domain.RoomAlias
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("alias ASC").
		Find(&as).Error
	return as, err
}

// PurgeAliases deletes every alias row. Rebuild only.
func PurgeAliases(ctx context.Context, tx *gorm.DB) error {
	return tx.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.RoomAlias{}).Error
}
