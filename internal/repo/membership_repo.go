// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the projected room-membership table.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/domain"
)

// UpsertMembershipIfNewer writes the membership row for (room, user) if and
// only if the incoming row's SourceSeq is greater than the one already
// stored. Returns true when the row was written, false when the incoming
// state was stale (out-of-order re-application, e.g. during replay).
func UpsertMembershipIfNewer(ctx context.Context, tx *gorm.DB, m *domain.RoomMembership) (bool, error) {
	var existing domain.RoomMembership
	err := tx.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", m.RoomID, m.UserID).
		First(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := tx.WithContext(ctx).Create(m).Error; err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	if existing.SourceSeq >= m.SourceSeq {
		return false, nil
	}

	res := tx.WithContext(ctx).
		Model(&domain.RoomMembership{}).
		Where("room_id = ? AND user_id = ? AND source_seq < ?", m.RoomID, m.UserID, m.SourceSeq).
		Updates(map[string]any{
			"sender":     m.Sender,
			"membership": m.Membership,
			"event_id":   m.EventID,
			"source_seq": m.SourceSeq,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetMembership fetches the current membership row for (room, user), or
// ErrNotFound when the user has no recorded relationship with the room.
func GetMembership(ctx context.Context, db *gorm.DB, roomID, userID string) (*domain.RoomMembership, error) {
	var m domain.RoomMembership
	err := db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMemberships returns every membership row in a room with the given
// state (all states when membership is empty), ordered by user ID for
// deterministic output.
func ListMemberships(ctx context.Context, db *gorm.DB, roomID, membership string) ([]domain.RoomMembership, error) {
	q := db.WithContext(ctx).Where("room_id = ?", roomID)
	if membership != "" {
		q = q.Where("membership = ?", membership)
	}
	var ms []domain.RoomMembership
	err := q.Order("user_id ASC").Find(&ms).Error
	return ms, err
}

// PurgeMemberships deletes every projected membership row. Rebuild only.
func PurgeMemberships(ctx context.Context, tx *gorm.DB) error {
	return tx.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.RoomMembership{}).Error
}
