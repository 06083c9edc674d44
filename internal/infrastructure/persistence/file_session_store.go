package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/architect-cli/architect/internal/domain/entity"
	"github.com/architect-cli/architect/pkg/errors"
)

// SessionRepository persists one JSON document per session under
// <workspace>/.architect/sessions/.
type SessionRepository interface {
	Save(ctx context.Context, session *entity.Session) error
	FindByID(ctx context.Context, sessionID string) (*entity.Session, error)
	List(ctx context.Context) ([]*entity.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// FileSessionStore is the disk-JSON SessionRepository implementation.
// One file per session, named <session_id>.json, rewritten in full on
// every Save (sessions are small; no need for append-only log semantics).
type FileSessionStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileSessionStore creates a store rooted at <workspace>/.architect/sessions.
func NewFileSessionStore(workspaceRoot string) (*FileSessionStore, error) {
	dir := filepath.Join(workspaceRoot, ".architect", "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session store: failed to create sessions dir: %w", err)
	}
	return &FileSessionStore{dir: dir}, nil
}

// NewSessionID stamps a session id as YYYYMMDD-HHMMSS plus a short random
// suffix, so two sessions started in the same second still don't collide.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("%s-%04x", now.Format("20060102-150405"), rand.Intn(0x10000))
}

// Save rewrites the session's JSON document in full, truncating the
// retained message history to the last 30 once it exceeds 50 — recent
// conversation turns matter for resume; the full history lives in the
// provider's own context, not in this file.
func (s *FileSessionStore) Save(ctx context.Context, session *entity.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.TruncateMessages()
	session.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("session store: marshal failed: %w", err)
	}

	path := s.pathFor(session.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session store: write failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session store: rename failed: %w", err)
	}
	return nil
}

// FindByID loads one session document.
func (s *FileSessionStore) FindByID(ctx context.Context, sessionID string) (*entity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.pathFor(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("session not found: " + sessionID)
		}
		return nil, fmt.Errorf("session store: read failed: %w", err)
	}

	var session entity.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("session store: corrupt session document %s: %w", sessionID, err)
	}
	return &session, nil
}

// List returns every session in the store in reverse order of file name
// (session ID), so the most recently created time-stamped ID comes first.
func (s *FileSessionStore) List(ctx context.Context) ([]*entity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("session store: list failed: %w", err)
	}

	var sessions []*entity.Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var session entity.Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}

	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	return sessions, nil
}

// Delete removes a session document. Not an error if it's already gone.
func (s *FileSessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session store: delete failed: %w", err)
	}
	return nil
}

func (s *FileSessionStore) pathFor(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}
