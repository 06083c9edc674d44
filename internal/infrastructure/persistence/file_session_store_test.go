package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/architect-cli/architect/internal/domain/entity"
)

func newTestSession(id string) *entity.Session {
	return &entity.Session{
		SessionID: id,
		Task:      "add login page",
		Agent:     "builder",
		Model:     "test-model",
		Status:    entity.RunStatusRunning,
		StartedAt: time.Now(),
	}
}

func TestFileSessionStore_SaveAndFindByID(t *testing.T) {
	store, err := NewFileSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session := newTestSession("20260730-120000-abcd")
	if err := store.Save(context.Background(), session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := store.FindByID(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Task != session.Task || loaded.Agent != session.Agent {
		t.Errorf("loaded session doesn't match saved session: %+v", loaded)
	}
}

func TestFileSessionStore_FindByIDMissingReturnsNotFound(t *testing.T) {
	store, err := NewFileSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.FindByID(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestFileSessionStore_TruncatesMessagesOverFifty(t *testing.T) {
	store, err := NewFileSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session := newTestSession("s1")
	for i := 0; i < 60; i++ {
		session.Messages = append(session.Messages, entity.ConversationMessage{Role: "user", Content: "msg"})
	}
	if err := store.Save(context.Background(), session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := store.FindByID(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded.Messages) != 30 {
		t.Errorf("expected messages truncated to 30, got %d", len(loaded.Messages))
	}
}

func TestFileSessionStore_ListReturnsMostRecentFirst(t *testing.T) {
	store, err := NewFileSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s1 := newTestSession("a-first")
	s2 := newTestSession("b-second")
	if err := store.Save(context.Background(), s1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Save(context.Background(), s2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sessions, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "b-second" {
		t.Errorf("expected b-second first, got %s", sessions[0].SessionID)
	}
}

func TestFileSessionStore_Delete(t *testing.T) {
	store, err := NewFileSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	session := newTestSession("to-delete")
	if err := store.Save(context.Background(), session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(context.Background(), "to-delete"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.FindByID(context.Background(), "to-delete"); err == nil {
		t.Fatal("expected session to be gone after delete")
	}
}

func TestNewSessionID_MatchesStampFormat(t *testing.T) {
	id := NewSessionID(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))
	if len(id) != len("20260730-120000")+5 {
		t.Errorf("unexpected session id format: %q", id)
	}
}
