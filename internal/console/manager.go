package console

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrSessionNotFound = errors.New("session not found")

type ManagerOptions struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// Manager owns the live sessions and evicts idle ones.
type Manager struct {
	log      zerolog.Logger
	deps     Deps
	idleTTL  time.Duration
	interval time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(log zerolog.Logger, deps Deps, opts ManagerOptions) *Manager {
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		log:      log.With().Str("component", "console").Logger(),
		deps:     deps,
		idleTTL:  ttl,
		interval: interval,
		now:      now,
		sessions: map[string]*Session{},
	}
}

// Create builds and primes a new session.
func (m *Manager) Create(ctx context.Context) (*Session, View, error) {
	s, err := newSession(uuid.NewString(), m.log, m.deps)
	if err != nil {
		return nil, View{}, err
	}
	view, err := s.Prime(ctx)
	if err != nil {
		s.close()
		return nil, View{}, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.deps.Metrics.SetActiveSessions(n)
	m.log.Info().Str("session", s.ID).Msg("session created")
	return s, view, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch()
	return s, nil
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.close()
	m.deps.Metrics.SetActiveSessions(n)
	m.log.Info().Str("session", id).Msg("session closed")
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run evicts idle sessions until ctx is done, then closes the rest.
func (m *Manager) Run(ctx context.Context) {
	if m == nil {
		return
	}
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-timer.C:
		}
		if n := m.Sweep(); n > 0 {
			m.log.Info().Int("evicted", n).Msg("idle sessions evicted")
		}
		timer.Reset(m.interval)
	}
}

// Sweep closes sessions idle for longer than the TTL. Sessions with an
// attached stream are skipped.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if !s.Watched() && s.LastSeen().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range idle {
		s.close()
	}
	if len(idle) > 0 {
		m.deps.Metrics.SetActiveSessions(n)
	}
	return len(idle)
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	m.deps.Metrics.SetActiveSessions(0)
}
