// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides user accounts and the projected
// per-user settings tables (account data and room tags).
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trellid/go-room-server/internal/domain"
)

// CreateUser inserts a new user row. Returns ErrDuplicate when the username
// is already taken.
func CreateUser(ctx context.Context, db *gorm.DB, username string, passwordHash []byte) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by ID, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername fetches a user by username, or ErrNotFound.
func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).First(&u, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertAccountData writes a per-user setting blob. Plain last-write-wins
// upsert keyed by (user, room, type); ledger order is the only ordering that
// matters here.
func UpsertAccountData(ctx context.Context, tx *gorm.DB, ad *domain.AccountData) error {
	ad.UpdatedAt = time.Now().UTC()
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(ad).Error
}

// GetAccountData fetches one setting blob, or ErrNotFound. RoomID is empty
// for account-global data.
func GetAccountData(ctx context.Context, db *gorm.DB, userID, roomID, dataType string) (*domain.AccountData, error) {
	var ad domain.AccountData
	err := db.WithContext(ctx).
		Where("user_id = ? AND room_id = ? AND type = ?", userID, roomID, dataType).
		First(&ad).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ad, nil
}

// ListAccountData returns every setting blob for a user within one scope
// (roomID empty for the account-global scope), ordered by type.
func ListAccountData(ctx context.Context, db *gorm.DB, userID, roomID string) ([]domain.AccountData, error) {
	var ads []domain.AccountData
	err := db.WithContext(ctx).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Order("type ASC").
		Find(&ads).Error
	return ads, err
}

// UpsertRoomTag writes a user's tag on a room, last write wins.
func UpsertRoomTag(ctx context.Context, tx *gorm.DB, tag *domain.RoomTag) error {
	tag.UpdatedAt = time.Now().UTC()
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = tag.UpdatedAt
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(tag).Error
}

// DeleteRoomTag removes a user's tag on a room. Absent rows are a no-op so
// ledger replay stays total.
func DeleteRoomTag(ctx context.Context, tx *gorm.DB, userID, roomID, tag string) error {
	return tx.WithContext(ctx).
		Where("user_id = ? AND room_id = ? AND tag = ?", userID, roomID, tag).
		Delete(&domain.RoomTag{}).Error
}

// ListRoomTags returns a user's tags on a room, ordered by tag.
func ListRoomTags(ctx context.Context, db *gorm.DB, userID, roomID string) ([]domain.RoomTag, error) {
	var tags []domain.RoomTag
	err := db.WithContext(ctx).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Order("tag ASC").
		Find(&tags).Error
	return tags, err
}

// PurgeAccountData deletes every projected account-data row. Rebuild only.
func PurgeAccountData(ctx context.Context, tx *gorm.DB) error {
	return tx.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.AccountData{}).Error
}

// PurgeRoomTags deletes every projected room-tag row. Rebuild only.
func PurgeRoomTags(ctx context.Context, tx *gorm.DB) error {
	return tx.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.RoomTag{}).Error
}
