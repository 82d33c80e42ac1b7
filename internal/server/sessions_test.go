package server

import (
	"errors"
	"testing"
	"time"

	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
)

func TestSessionManager(t *testing.T) {
	cfg := config.SessionConfig{IdleTTL: time.Hour, MaxSessions: 8}
	m := NewSessionManager(cfg, logger.NewNop())

	t.Run("CreateAndGet", func(t *testing.T) {
		created := m.Create("document", "a.txt", nil)
		if created.ID == "" {
			t.Fatal("Session has no id")
		}

		got, err := m.Get(created.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Filename != "a.txt" {
			t.Errorf("Filename = %q", got.Filename)
		}
		if got.Store.Document() != "document" {
			t.Errorf("Document = %q", got.Store.Document())
		}
	})

	t.Run("UnknownID", func(t *testing.T) {
		if _, err := m.Get("missing"); !errors.Is(err, entity.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := m.Create("doc", "b.txt", nil)
		m.Delete(s.ID)
		if _, err := m.Get(s.ID); !errors.Is(err, entity.ErrNotFound) {
			t.Error("Deleted session still retrievable")
		}
	})
}

func TestSessionEviction(t *testing.T) {
	m := NewSessionManager(config.SessionConfig{IdleTTL: time.Hour, MaxSessions: 2}, logger.NewNop())

	first := m.Create("doc1", "1.txt", nil)
	second := m.Create("doc2", "2.txt", nil)

	// Touch the first so the second becomes the eviction candidate.
	if _, err := m.Get(first.ID); err != nil {
		t.Fatal(err)
	}

	third := m.Create("doc3", "3.txt", nil)
	if m.Count() != 2 {
		t.Fatalf("Count = %d, want 2", m.Count())
	}
	if _, err := m.Get(second.ID); !errors.Is(err, entity.ErrNotFound) {
		t.Error("Least recently used session was not evicted")
	}
	for _, s := range []*Session{first, third} {
		if _, err := m.Get(s.ID); err != nil {
			t.Errorf("Session %s should have survived: %v", s.Filename, err)
		}
	}
}

func TestSessionSweep(t *testing.T) {
	m := NewSessionManager(config.SessionConfig{IdleTTL: 10 * time.Millisecond}, logger.NewNop())

	stale := m.Create("doc", "stale.txt", nil)
	time.Sleep(20 * time.Millisecond)
	fresh := m.Create("doc", "fresh.txt", nil)

	m.sweep()

	if _, err := m.Get(stale.ID); !errors.Is(err, entity.ErrNotFound) {
		t.Error("Idle session survived the sweep")
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Errorf("Fresh session swept: %v", err)
	}
}
