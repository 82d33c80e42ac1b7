package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"github.com/fbellamy/anonymiseur/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session binds one processed document to its mutable entity store. The
// entity set lives exactly as long as the session: uploading a new
// document starts a fresh session and nothing carries over.
type Session struct {
	ID        string
	Filename  string
	Store     *store.EntityStore
	CreatedAt time.Time

	lastUsed time.Time
}

// SessionManager is the in-memory session registry. Sessions expire after
// an idle TTL and the registry is capped; the oldest idle session is
// evicted when the cap is hit.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	config   config.SessionConfig
	logger   *logger.Logger
}

// NewSessionManager creates a session registry.
func NewSessionManager(cfg config.SessionConfig, log *logger.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		config:   cfg,
		logger:   log,
	}
}

// Create registers a new session seeded with reconciled entities.
func (m *SessionManager) Create(document, filename string, entities []entity.Entity) *Session {
	session := &Session{
		ID:        uuid.New().String(),
		Filename:  filename,
		Store:     store.New(document, entities, m.logger),
		CreatedAt: time.Now(),
		lastUsed:  time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.evictOldestLocked()
	}
	m.sessions[session.ID] = session

	m.logger.Debug("Session created",
		zap.String("session_id", session.ID),
		zap.Int("entities", len(entities)),
	)
	return session
}

// Get returns the session and refreshes its idle timer.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, entity.ErrNotFound)
	}
	session.lastUsed = time.Now()
	return session, nil
}

// Delete removes a session.
func (m *SessionManager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run sweeps expired sessions until the context is cancelled.
func (m *SessionManager) Run(ctx context.Context) {
	interval := m.config.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *SessionManager) sweep() {
	cutoff := time.Now().Add(-m.config.IdleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, session := range m.sessions {
		if session.lastUsed.Before(cutoff) {
			delete(m.sessions, id)
			m.logger.Debug("Session expired", zap.String("session_id", id))
		}
	}
}

// evictOldestLocked removes the least recently used session. Caller holds
// the lock.
func (m *SessionManager) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, session := range m.sessions {
		if oldestID == "" || session.lastUsed.Before(oldest) {
			oldestID = id
			oldest = session.lastUsed
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
		m.logger.Warn("Session evicted, registry full", zap.String("session_id", oldestID))
	}
}
