package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := db.StartSession(ctx, "morning survey, eastbound lane")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if s.ID == "" {
		t.Fatal("Expected a session ID")
	}
	if s.EndedAt != nil {
		t.Errorf("Expected open session, got ended at %v", s.EndedAt)
	}

	// Record two defects under this session
	for i := int64(1); i <= 2; i++ {
		rec := testRecord(i)
		rec.SessionID = s.ID
		if _, err := db.InsertDefect(ctx, rec); err != nil {
			t.Fatalf("InsertDefect failed: %v", err)
		}
	}

	if err := db.EndSession(ctx, s.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	got, err := db.SessionByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("SessionByID failed: %v", err)
	}
	if got.EndedAt == nil {
		t.Error("Expected session to be ended")
	}
	if got.DefectCount != 2 {
		t.Errorf("Expected defect count 2, got %d", got.DefectCount)
	}
	if got.Notes != "morning survey, eastbound lane" {
		t.Errorf("Unexpected notes: %q", got.Notes)
	}
}

func TestEndSessionNotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.EndSession(context.Background(), "no-such-session")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionByIDNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.SessionByID(context.Background(), "no-such-session")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRecentSessions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.StartSession(ctx, "first")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	// Sessions are stamped with wall-clock time, so space them out
	// enough for the order to be unambiguous.
	time.Sleep(20 * time.Millisecond)
	second, err := db.StartSession(ctx, "second")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	got, err := db.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(got))
	}
	if got[0].ID != second.ID || got[1].ID != first.ID {
		t.Errorf("Expected newest first [%s %s], got [%s %s]",
			second.ID, first.ID, got[0].ID, got[1].ID)
	}
}
