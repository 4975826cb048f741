package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newAuth(t *testing.T, loginRPS float64, loginBurst int) *AuthService {
	t.Helper()
	return NewAuthService(newCoreDB(t), []byte("initial-secret"), time.Hour, loginRPS, loginBurst, zerolog.Nop())
}

func TestRegisterAndValidate(t *testing.T) {
	s := newAuth(t, 100, 100)
	ctx := context.Background()

	u, token, err := s.Register(ctx, "alice", "pw1234")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	userID, err := s.Validate(ctx, token)
	if err != nil || userID != u.ID {
		t.Fatalf("validate = %q, %v; want %q, nil", userID, err, u.ID)
	}
}

func TestRegister_Invalid(t *testing.T) {
	s := newAuth(t, 100, 100)
	ctx := context.Background()

	cases := []struct{ username, password string }{
		{"", "pw"},
		{"has space", "pw"},
		{"alice", ""},
	}
	for _, c := range cases {
		if _, _, err := s.Register(ctx, c.username, c.password); !errors.Is(err, ErrInvalid) {
			t.Fatalf("register(%q, %q) err = %v, want ErrInvalid", c.username, c.password, err)
		}
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	s := newAuth(t, 100, 100)
	ctx := context.Background()

	if _, _, err := s.Register(ctx, "alice", "pw1234"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := s.Register(ctx, "alice", "other"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate register err = %v, want ErrConflict", err)
	}
}

func TestLogin(t *testing.T) {
	s := newAuth(t, 100, 100)
	ctx := context.Background()

	u, _, err := s.Register(ctx, "alice", "pw1234")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got, token, err := s.Login(ctx, "alice", "pw1234")
	if err != nil || got.ID != u.ID {
		t.Fatalf("login: %+v, %v", got, err)
	}
	if uid, err := s.Validate(ctx, token); err != nil || uid != u.ID {
		t.Fatalf("validate login token: %q, %v", uid, err)
	}

	if _, _, err := s.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("wrong password err = %v, want ErrUnauthenticated", err)
	}
	// Unknown usernames are indistinguishable from wrong passwords.
	if _, _, err := s.Login(ctx, "nobody", "pw1234"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("unknown user err = %v, want ErrUnauthenticated", err)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	s := newAuth(t, 0, 2) // two attempts, no refill
	ctx := context.Background()

	if _, _, err := s.Register(ctx, "alice", "pw1234"); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, _, err := s.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("attempt %d err = %v, want ErrUnauthenticated", i, err)
		}
	}
	if _, _, err := s.Login(ctx, "alice", "pw1234"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("rate-limited err = %v, want ErrUnavailable", err)
	}
	// Other usernames have their own bucket.
	if _, _, err := s.Login(ctx, "bob", "pw"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("other user err = %v, want ErrUnauthenticated", err)
	}
}

func TestValidate_Garbage(t *testing.T) {
	s := newAuth(t, 100, 100)
	ctx := context.Background()

	for _, tok := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := s.Validate(ctx, tok); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("Validate(%q) err = %v, want ErrUnauthenticated", tok, err)
		}
	}
}

func TestRevoke_InvalidatesToken(t *testing.T) {
	s := newAuth(t, 100, 100)
	ctx := context.Background()

	u, token, err := s.Register(ctx, "alice", "pw1234")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Validate(ctx, token); err != nil {
		t.Fatalf("validate before revoke: %v", err)
	}

	if err := s.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Validate(ctx, token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("validate after revoke err = %v, want ErrUnauthenticated", err)
	}

	// A fresh token still works; revocation is per token.
	fresh, err := s.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.Validate(ctx, fresh); err != nil {
		t.Fatalf("validate fresh token: %v", err)
	}
}

func TestRevokeAll(t *testing.T) {
	s := newAuth(t, 100, 100)
	ctx := context.Background()

	u, t1, err := s.Register(ctx, "alice", "pw1234")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t2, err := s.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := s.RevokeAll(ctx, u.ID); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	for _, tok := range []string{t1, t2} {
		if _, err := s.Validate(ctx, tok); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("token survived revoke-all: %v", err)
		}
	}
}

func TestRotateSecret_InvalidatesOldTokens(t *testing.T) {
	s := newAuth(t, 100, 100)
	ctx := context.Background()

	u, old, err := s.Register(ctx, "alice", "pw1234")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Validate(ctx, old); err != nil {
		t.Fatalf("validate before rotation: %v", err)
	}

	if err := s.RotateSecret([]byte("brand-new-secret")); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := s.Validate(ctx, old); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("old token after rotation err = %v, want ErrUnauthenticated", err)
	}

	// Tokens issued under the new secret validate.
	fresh, err := s.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if uid, err := s.Validate(ctx, fresh); err != nil || uid != u.ID {
		t.Fatalf("fresh token after rotation: %q, %v", uid, err)
	}

	if err := s.RotateSecret(nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty secret err = %v, want ErrInvalid", err)
	}
}
