package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/therisingtsun/fruit-match/internal/protocol"
	"github.com/therisingtsun/fruit-match/internal/storage"
)

// Manager is the session registry: the only authority over the code ->
// session mapping. Each session serializes its own mutations; the
// manager's lock only guards the map.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    *storage.Store
	revealer *Revealer
}

// NewManager creates a registry. The clock drives the reveal/conceal
// choreography; pass a fake clock in tests.
func NewManager(store *storage.Store, clock clockwork.Clock) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		store:    store,
	}
	m.revealer = newRevealer(clock, m.Get)
	return m
}

// Create registers a new session hosted by hostID and subscribes the
// host's connection to its room.
func (m *Manager) Create(hostID string, send chan []byte) *Session {
	code := newCode()
	s := newSession(code, hostID, send)
	m.mu.Lock()
	m.sessions[code] = s
	m.mu.Unlock()
	log.Info().Str("session", code).Str("conn", hostID).Msg("session hosted")
	return s
}

// Get returns a session by code.
func (m *Manager) Get(code string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[code]
	return s, ok
}

// Join adds a connection to an existing session.
func (m *Manager) Join(code, connID string, send chan []byte) (*Session, error) {
	s, ok := m.Get(code)
	if !ok {
		return nil, ErrNotFound
	}
	if err := s.AddPlayer(connID, send); err != nil {
		return nil, err
	}
	log.Info().Str("session", code).Str("conn", connID).Msg("player joined")
	return s, nil
}

// List returns lobby snapshots for every live session.
func (m *Manager) List() []protocol.GameData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.GameData, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Disconnect processes a connection's departure from every session it
// belongs to. Emptied sessions are destroyed and their pending reveal
// tasks cancelled. Returns the surviving rooms' departure records so the
// router can announce them.
func (m *Manager) Disconnect(connID string) []Departure {
	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	var out []Departure
	for _, s := range candidates {
		dep, ok := s.RemovePlayer(connID)
		if !ok {
			continue
		}
		if dep.Empty {
			m.remove(dep.Code)
			log.Info().Str("session", dep.Code).Msg("session destroyed, last member left")
			continue
		}
		if dep.HostChanged {
			log.Info().Str("session", dep.Code).Str("host", dep.NewHost).Msg("host migrated")
		}
		out = append(out, dep)
	}
	return out
}

func (m *Manager) remove(code string) {
	m.mu.Lock()
	delete(m.sessions, code)
	m.mu.Unlock()
	m.revealer.Cancel(code)
}

// ScheduleReveal queues the two-phase reveal/conceal cycle for a session
// state epoch. Zero delay is the continuing-match path.
func (m *Manager) ScheduleReveal(code string, epoch uint64, delay time.Duration) {
	m.revealer.Schedule(code, epoch, delay)
}

// CancelReveal drops any pending reveal task, used when a session's
// state is reset out of band.
func (m *Manager) CancelReveal(code string) {
	m.revealer.Cancel(code)
}

// RecordResult archives a finished game's leaderboard.
func (m *Manager) RecordResult(code string, leaderboard []protocol.ScoreEntry) {
	if err := m.store.SaveResult(code, leaderboard); err != nil {
		log.Error().Err(err).Str("session", code).Msg("archive result")
	}
}

// Results returns the most recent archived leaderboards.
func (m *Manager) Results(limit int) ([]storage.ResultRow, error) {
	rows, err := m.store.RecentResults(limit)
	if err != nil {
		return nil, fmt.Errorf("recent results: %w", err)
	}
	return rows, nil
}

// newCode generates an unguessable session identifier in the uppercased
// UUID format clients expect.
func newCode() string {
	return strings.ToUpper(uuid.NewString())
}
