// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the projected rooms table.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trellid/go-room-server/internal/domain"
)

// UpsertRoom inserts or replaces the projected room row.
func UpsertRoom(ctx context.Context, tx *gorm.DB, room *domain.Room) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(room).Error
}

// GetRoom fetches a room by ID, or ErrNotFound.
func GetRoom(ctx context.Context, db *gorm.DB, id string) (*domain.Room, error) {
	var room domain.Room
	err := db.WithContext(ctx).First(&room, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// SetRoomJoinRule updates the projected join rule for a room.
func SetRoomJoinRule(ctx context.Context, tx *gorm.DB, roomID, joinRule string) error {
	res := tx.WithContext(ctx).
		Model(&domain.Room{}).
		Where("id = ?", roomID).
		Update("join_rule", joinRule)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeRooms deletes every projected room row. Rebuild only.
func PurgeRooms(ctx context.Context, tx *gorm.DB) error {
	return tx.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.Room{}).Error
}
