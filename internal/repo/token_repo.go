// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the access-token table used by the
// credential store. Tokens are revoked by flag, never deleted.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/domain"
)

// InsertAccessToken persists a freshly issued token row.
func InsertAccessToken(ctx context.Context, db *gorm.DB, tok *domain.AccessToken) error {
	now := time.Now().UTC()
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = now
	}
	tok.UpdatedAt = now
	if err := db.WithContext(ctx).Create(tok).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// FindAccessToken fetches a token row by its value, or ErrNotFound. Revoked
// rows are returned as-is; deciding what a revoked row means is the credential
// store's job.
func FindAccessToken(ctx context.Context, db *gorm.DB, value string) (*domain.AccessToken, error) {
	var tok domain.AccessToken
	err := db.WithContext(ctx).First(&tok, "value = ?", value).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// RevokeAccessToken flags a token as revoked. Returns ErrNotFound when no
// such token exists; revoking an already revoked token succeeds.
func RevokeAccessToken(ctx context.Context, db *gorm.DB, value string) error {
	res := db.WithContext(ctx).
		Model(&domain.AccessToken{}).
		Where("value = ?", value).
		Updates(map[string]any{"revoked": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllAccessTokens flags every token of one user as revoked (account
// deactivation, logout-everywhere).
func RevokeAllAccessTokens(ctx context.Context, db *gorm.DB, userID string) error {
	return db.WithContext(ctx).
		Model(&domain.AccessToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]any{"revoked": true, "updated_at": time.Now().UTC()}).Error
}
