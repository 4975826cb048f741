// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only event ledger: sequence
// assignment, duplicate detection, and ordered reads.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/domain"
)

// maxEventPageSize caps how many ledger rows a single read returns.
const maxEventPageSize = 1000

// AppendEvent assigns the next global sequence number and inserts the event.
// It must be called inside a write transaction; SQLite serializes write
// transactions, which makes the MAX(seq)+1 allocation race-free and the
// resulting order linearizable across all rooms.
//
// Returns ErrDuplicate when an event with the same ID already exists. The
// event row is never updated or deleted afterwards.
func AppendEvent(ctx context.Context, tx *gorm.DB, ev *domain.Event) (*domain.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	var maxSeq int64
	if err := tx.WithContext(ctx).
		Model(&domain.Event{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error; err != nil {
		return nil, err
	}
	ev.Seq = maxSeq + 1

	if err := tx.WithContext(ctx).Create(ev).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return ev, nil
}

// GetEvent fetches a single event by room and ID, or ErrNotFound.
func GetEvent(ctx context.Context, db *gorm.DB, roomID, eventID string) (*domain.Event, error) {
	var ev domain.Event
	err := db.WithContext(ctx).
		Where("room_id = ? AND id = ?", roomID, eventID).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// EventsForRoom returns the room's events with seq > afterSeq, in ascending
// sequence order, up to limit rows.
func EventsForRoom(ctx context.Context, db *gorm.DB, roomID string, afterSeq int64, limit int) ([]domain.Event, error) {
	var evs []domain.Event
	err := db.WithContext(ctx).
		Where("room_id = ? AND seq > ?", roomID, afterSeq).
		Order("seq ASC").
		Limit(clampLimit(limit)).
		Find(&evs).Error
	return evs, err
}

// EventsForRoomAndType returns the room's events of one type in ascending
// sequence order. A non-nil stateKey restricts the read to events carrying
// that state key; this is how the projector reconstructs a single derived
// view.
func EventsForRoomAndType(ctx context.Context, db *gorm.DB, roomID, eventType string, stateKey *string) ([]domain.Event, error) {
	q := db.WithContext(ctx).
		Where("room_id = ? AND type = ?", roomID, eventType)
	if stateKey != nil {
		q = q.Where("state_key = ?", *stateKey)
	}
	var evs []domain.Event
	err := q.Order("seq ASC").Find(&evs).Error
	return evs, err
}

// EventsAfter returns up to limit events across all rooms with
// seq > afterSeq, ascending. Used to replay the full ledger in batches.
func EventsAfter(ctx context.Context, db *gorm.DB, afterSeq int64, limit int) ([]domain.Event, error) {
	var evs []domain.Event
	err := db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Limit(clampLimit(limit)).
		Find(&evs).Error
	return evs, err
}

// MaxSeq returns the highest sequence number in the ledger (0 when empty).
func MaxSeq(ctx context.Context, db *gorm.DB) (int64, error) {
	var maxSeq int64
	err := db.WithContext(ctx).
		Model(&domain.Event{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	return maxSeq, err
}

// clampLimit normalizes a caller-supplied page size.
func clampLimit(n int) int {
	if n <= 0 || n > maxEventPageSize {
		return maxEventPageSize
	}
	return n
}
