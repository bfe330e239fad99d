package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Manager tracks all live sessions and coordinates graceful shutdown.
// All methods are safe for concurrent use.
type Manager struct {
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		log:      logger,
		sessions: make(map[string]*Session),
	}
}

// Add registers a session and removes it automatically when it ends. It
// fails once Shutdown has begun.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("call: manager is shutting down")
	}
	if _, ok := m.sessions[s.ID()]; ok {
		return fmt.Errorf("call: session %s already registered", s.ID())
	}
	m.sessions[s.ID()] = s
	go func() {
		<-s.Ended()
		m.remove(s.ID())
	}()
	return nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshots returns a view of every live session.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Shutdown ends every live session and waits for them to finish, bounded by
// ctx. New sessions are refused from the moment Shutdown is called.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	if len(sessions) == 0 {
		return nil
	}
	m.log.Info("shutting down sessions", "count", len(sessions))

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			s.End(EndReasonShutdown)
			select {
			case <-s.Ended():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("call: session %s did not end in time: %w", s.ID(), ctx.Err())
			}
		})
	}
	return g.Wait()
}
