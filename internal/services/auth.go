// Package services implements the business logic of the server core. This
// file provides the credential store: registration, login, bearer-token
// issuance and validation, revocation, and signing-secret rotation.
//
// Tokens are HS256 JWTs signed with a server-wide secret and additionally
// persisted as rows carrying a revoked flag. A token validates only while it
// is not revoked and its signature verifies against the *current* secret, so
// rotating the secret invalidates every outstanding token atomically without
// rewriting a single row.
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/domain"
	"github.com/trellid/go-room-server/internal/observability"
	"github.com/trellid/go-room-server/internal/repo"
)

// AuthService is the credential store. The signing secret is injected at
// construction and guarded by a read-write lock; validation takes the read
// side, rotation the write side.
type AuthService struct {
	db  *gorm.DB
	log zerolog.Logger

	mu     sync.RWMutex
	secret []byte

	tokenTTL time.Duration

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
	loginRPS rate.Limit
	burst    int
}

// NewAuthService constructs the credential store.
func NewAuthService(db *gorm.DB, secret []byte, tokenTTL time.Duration, loginRPS float64, loginBurst int, log zerolog.Logger) *AuthService {
	return &AuthService{
		db:       db,
		log:      log,
		secret:   append([]byte(nil), secret...),
		tokenTTL: tokenTTL,
		limiters: make(map[string]*rate.Limiter),
		loginRPS: rate.Limit(loginRPS),
		burst:    loginBurst,
	}
}

// currentSecret returns the signing secret in effect right now.
func (s *AuthService) currentSecret() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret
}

// RotateSecret swaps the signing secret. Every token issued under the old
// secret stops validating immediately; no token rows are rewritten.
func (s *AuthService) RotateSecret(newSecret []byte) error {
	if len(newSecret) == 0 {
		return ErrInvalid
	}
	s.mu.Lock()
	s.secret = append([]byte(nil), newSecret...)
	s.mu.Unlock()
	s.log.Info().Msg("signing secret rotated; all outstanding tokens invalidated")
	return nil
}

// Register creates a new account with a bcrypt password hash and issues the
// first session token. Duplicate usernames fail with ErrConflict.
func (s *AuthService) Register(ctx context.Context, username, password string) (*domain.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.ContainsAny(username, " \t\n") || password == "" {
		return nil, "", ErrInvalid
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	u, err := repo.CreateUser(ctx, s.db, username, hash)
	if err != nil {
		return nil, "", mapStorageErr(err)
	}
	token, err := s.Issue(ctx, u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Login authenticates a username/password pair and issues a fresh token.
// Attempts are rate limited per username; failures never reveal whether the
// username exists.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.User, string, error) {
	if !s.limiterFor(username).Allow() {
		return nil, "", ErrUnavailable
	}
	u, err := repo.GetUserByUsername(ctx, s.db, username)
	if err != nil {
		// hide existence of the user on unknown username
		return nil, "", ErrUnauthenticated
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return nil, "", ErrUnauthenticated
	}
	token, err := s.Issue(ctx, u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Issue creates a signed bearer token for the user and persists its row.
func (s *AuthService) Issue(ctx context.Context, userID string) (string, error) {
	now := time.Now().UTC()
	rowID := uuid.NewString()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        rowID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.currentSecret())
	if err != nil {
		return "", err
	}
	tok := &domain.AccessToken{ID: rowID, UserID: userID, Value: signed}
	if err := repo.InsertAccessToken(ctx, s.db, tok); err != nil {
		return "", mapStorageErr(err)
	}
	return signed, nil
}

// Validate checks a bearer token and returns the owning user ID. It fails
// with ErrUnauthenticated when the token is malformed, expired, signed with
// a stale secret, unknown, or revoked.
func (s *AuthService) Validate(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		observability.AuthFailures.Inc()
		return "", ErrUnauthenticated
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.currentSecret(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		observability.AuthFailures.Inc()
		return "", ErrUnauthenticated
	}

	row, err := repo.FindAccessToken(ctx, s.db, token)
	if err != nil || row.Revoked || row.UserID != claims.Subject {
		observability.AuthFailures.Inc()
		return "", ErrUnauthenticated
	}
	return row.UserID, nil
}

// Revoke flags a token as revoked. In-flight and future validations of the
// token fail from this point on; history is untouched.
func (s *AuthService) Revoke(ctx context.Context, token string) error {
	return mapStorageErr(repo.RevokeAccessToken(ctx, s.db, token))
}

// RevokeAll flags every outstanding token of one user as revoked (logout
// everywhere, account deactivation).
func (s *AuthService) RevokeAll(ctx context.Context, userID string) error {
	return mapStorageErr(repo.RevokeAllAccessTokens(ctx, s.db, userID))
}

// limiterFor returns the per-username login limiter, creating it on first
// use.
func (s *AuthService) limiterFor(username string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	lim, ok := s.limiters[username]
	if !ok {
		lim = rate.NewLimiter(s.loginRPS, s.burst)
		s.limiters[username] = lim
	}
	return lim
}
