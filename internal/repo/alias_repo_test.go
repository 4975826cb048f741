package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/trellid/go-room-server/internal/domain"
)

func aliasRow(alias, roomID, userID string) *domain.RoomAlias {
	return &domain.RoomAlias{Alias: alias, RoomID: roomID, UserID: userID, Servers: `["test"]`}
}

func TestCreateAlias_UniquenessIsLoadBearing(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if err := CreateAlias(ctx, db, aliasRow("#general:test", "!r1", "@a")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := CreateAlias(ctx, db, aliasRow("#general:test", "!r2", "@b"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate create err = %v, want ErrDuplicate", err)
	}

	// The original row is untouched.
	a, err := GetAlias(ctx, db, "#general:test")
	if err != nil || a.RoomID != "!r1" || a.UserID != "@a" {
		t.Fatalf("alias row = %+v, %v; want !r1 owned by @a", a, err)
	}
}

func TestGetAlias_NotFound(t *testing.T) {
	db := newRepoDB(t)
	if _, err := GetAlias(context.Background(), db, "#missing:test"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRepointAlias(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if err := CreateAlias(ctx, db, aliasRow("#general:test", "!r1", "@a")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := RepointAlias(ctx, db, "#general:test", "!r2", `["test","other"]`); err != nil {
		t.Fatalf("repoint: %v", err)
	}
	a, _ := GetAlias(ctx, db, "#general:test")
	if a.RoomID != "!r2" || a.Servers != `["test","other"]` {
		t.Fatalf("row after repoint = %+v", a)
	}

	if err := RepointAlias(ctx, db, "#missing:test", "!r2", "[]"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("repoint missing err = %v, want ErrNotFound", err)
	}
}

func TestDeleteAlias_IdempotentForReplay(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if err := CreateAlias(ctx, db, aliasRow("#general:test", "!r1", "@a")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := DeleteAlias(ctx, db, "#general:test"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetAlias(ctx, db, "#general:test"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("row survived delete: %v", err)
	}
	// Deleting again (replay) is a no-op, not an error.
	if err := DeleteAlias(ctx, db, "#general:test"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestListRoomAliases(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	for _, a := range []string{"#b:test", "#a:test", "#c:test"} {
		if err := CreateAlias(ctx, db, aliasRow(a, "!r1", "@a")); err != nil {
			t.Fatalf("create %s: %v", a, err)
		}
	}
	if err := CreateAlias(ctx, db, aliasRow("#other:test", "!r2", "@a")); err != nil {
		t.Fatalf("create: %v", err)
	}

	as, err := ListRoomAliases(ctx, db, "!r1")
	if err != nil || len(as) != 3 {
		t.Fatalf("got %d aliases, %v; want 3, nil", len(as), err)
	}
	if as[0].Alias != "#a:test" || as[2].Alias != "#c:test" {
		t.Fatalf("aliases not ordered: %+v", as)
	}
}
