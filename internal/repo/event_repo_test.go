package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"

	"github.com/trellid/go-room-server/internal/domain"
)

func appendInTx(t *testing.T, db *gorm.DB, ev *domain.Event) *domain.Event {
	t.Helper()
	var out *domain.Event
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = AppendEvent(context.Background(), tx, ev)
		return err
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	return out
}

func msgEvent(roomID, userID, body string) *domain.Event {
	return &domain.Event{
		RoomID:  roomID,
		UserID:  userID,
		Type:    domain.EventTypeMessage,
		Content: fmt.Sprintf(`{"body":%q}`, body),
	}
}

func TestAppendEvent_AssignsStrictlyIncreasingSeq(t *testing.T) {
	db := newRepoDB(t)

	var prev int64
	for i := 0; i < 5; i++ {
		ev := appendInTx(t, db, msgEvent("!r:test", "@a:test", fmt.Sprintf("m%d", i)))
		if ev.Seq != prev+1 {
			t.Fatalf("seq %d after %d, want %d", ev.Seq, prev, prev+1)
		}
		if ev.ID == "" {
			t.Fatalf("expected generated event ID")
		}
		prev = ev.Seq
	}

	maxSeq, err := MaxSeq(context.Background(), db)
	if err != nil || maxSeq != 5 {
		t.Fatalf("MaxSeq = %d, %v; want 5, nil", maxSeq, err)
	}
}

func TestAppendEvent_DuplicateID_Conflict(t *testing.T) {
	db := newRepoDB(t)

	ev := msgEvent("!r:test", "@a:test", "hi")
	ev.ID = "$dup"
	appendInTx(t, db, ev)

	dup := msgEvent("!r:test", "@a:test", "hi again")
	dup.ID = "$dup"
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := AppendEvent(context.Background(), tx, dup)
		return err
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	// The failed transaction must not have consumed state: next append is seq 2.
	next := appendInTx(t, db, msgEvent("!r:test", "@a:test", "next"))
	if next.Seq != 2 {
		t.Fatalf("seq after rollback = %d, want 2", next.Seq)
	}
}

func TestEventsForRoom_OrderAndRange(t *testing.T) {
	db := newRepoDB(t)

	for i := 0; i < 4; i++ {
		appendInTx(t, db, msgEvent("!r1:test", "@a:test", fmt.Sprintf("r1-%d", i)))
		appendInTx(t, db, msgEvent("!r2:test", "@a:test", fmt.Sprintf("r2-%d", i)))
	}

	evs, err := EventsForRoom(context.Background(), db, "!r1:test", 0, 0)
	if err != nil {
		t.Fatalf("EventsForRoom: %v", err)
	}
	if len(evs) != 4 {
		t.Fatalf("got %d events, want 4", len(evs))
	}
	for i := 1; i < len(evs); i++ {
		if evs[i].Seq <= evs[i-1].Seq {
			t.Fatalf("events not in ascending seq order: %d then %d", evs[i-1].Seq, evs[i].Seq)
		}
		if evs[i].RoomID != "!r1:test" {
			t.Fatalf("wrong room in result: %q", evs[i].RoomID)
		}
	}

	// Range: everything after the second r1 event.
	tail, err := EventsForRoom(context.Background(), db, "!r1:test", evs[1].Seq, 0)
	if err != nil || len(tail) != 2 {
		t.Fatalf("tail = %d events, %v; want 2, nil", len(tail), err)
	}

	// Limit clamps.
	one, err := EventsForRoom(context.Background(), db, "!r1:test", 0, 1)
	if err != nil || len(one) != 1 || one[0].Seq != evs[0].Seq {
		t.Fatalf("limited read wrong: %v %v", one, err)
	}
}

func TestEventsForRoomAndType_StateKeyFilter(t *testing.T) {
	db := newRepoDB(t)

	alice, bob := "@alice:test", "@bob:test"
	for _, u := range []string{alice, bob} {
		u := u
		appendInTx(t, db, &domain.Event{
			RoomID:   "!r:test",
			UserID:   u,
			Type:     domain.EventTypeMember,
			StateKey: &u,
			Content:  `{"membership":"join"}`,
		})
	}
	appendInTx(t, db, msgEvent("!r:test", alice, "hi"))

	all, err := EventsForRoomAndType(context.Background(), db, "!r:test", domain.EventTypeMember, nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("member events = %d, %v; want 2, nil", len(all), err)
	}

	only, err := EventsForRoomAndType(context.Background(), db, "!r:test", domain.EventTypeMember, &bob)
	if err != nil || len(only) != 1 || *only[0].StateKey != bob {
		t.Fatalf("state-key filtered read wrong: %+v, %v", only, err)
	}
}

func TestGetEvent(t *testing.T) {
	db := newRepoDB(t)
	ev := appendInTx(t, db, msgEvent("!r:test", "@a:test", "hi"))

	got, err := GetEvent(context.Background(), db, "!r:test", ev.ID)
	if err != nil || got.Seq != ev.Seq {
		t.Fatalf("GetEvent = %+v, %v", got, err)
	}
	if _, err := GetEvent(context.Background(), db, "!r:test", "$missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := GetEvent(context.Background(), db, "!other:test", ev.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong-room lookup: err = %v, want ErrNotFound", err)
	}
}

func TestEventsAfter_Batches(t *testing.T) {
	db := newRepoDB(t)
	for i := 0; i < 7; i++ {
		appendInTx(t, db, msgEvent("!r:test", "@a:test", fmt.Sprintf("m%d", i)))
	}

	var seen []int64
	var after int64
	for {
		batch, err := EventsAfter(context.Background(), db, after, 3)
		if err != nil {
			t.Fatalf("EventsAfter: %v", err)
		}
		for _, ev := range batch {
			seen = append(seen, ev.Seq)
		}
		if len(batch) < 3 {
			break
		}
		after = batch[len(batch)-1].Seq
	}
	if len(seen) != 7 {
		t.Fatalf("replayed %d events, want 7", len(seen))
	}
	for i, seq := range seen {
		if seq != int64(i+1) {
			t.Fatalf("replay order broken at %d: seq %d", i, seq)
		}
	}
}
