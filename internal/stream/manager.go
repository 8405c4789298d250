// Package stream tracks the demux sessions currently running, keyed by
// stream key, so their counters can be reported while they run.
package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/klvts/internal/pipeline"
)

// Session is a running pipeline registered under a stream key.
type Session struct {
	Key       string
	StartedAt time.Time
	Pipeline  *pipeline.Pipeline
	done      chan struct{}
}

// Done is closed when the session is removed or replaced.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Manager manages the lifecycle of active sessions.
type Manager struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a new session manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "stream-manager"),
		sessions: make(map[string]*Session),
	}
}

// Create registers p under key. A session already holding the key is
// replaced and its Done channel closed.
func (m *Manager) Create(key string, p *pipeline.Pipeline) *Session {
	s := &Session{
		Key:       key,
		StartedAt: time.Now(),
		Pipeline:  p,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.sessions[key]
	m.sessions[key] = s
	m.mu.Unlock()

	if prev != nil {
		close(prev.done)
		m.log.Warn("session replaced", "key", key)
	} else {
		m.log.Info("session created", "key", key)
	}
	return s
}

// Remove removes s. It is a no-op if s was already replaced.
func (m *Manager) Remove(s *Session) {
	m.mu.Lock()
	cur, ok := m.sessions[s.Key]
	ok = ok && cur == s
	if ok {
		delete(m.sessions, s.Key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("session removed", "key", s.Key)
	}
}

// Get returns the session registered under key.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// List returns all active sessions ordered by key.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Key < sessions[j].Key })
	return sessions
}

// Snapshots returns the counters of every active session, ordered by key.
func (m *Manager) Snapshots() []pipeline.Snapshot {
	sessions := m.List()
	out := make([]pipeline.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Pipeline.Snapshot())
	}
	return out
}
