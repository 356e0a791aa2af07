package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/therisingtsun/fruit-match/internal/board"
	"github.com/therisingtsun/fruit-match/internal/game"
	"github.com/therisingtsun/fruit-match/internal/protocol"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrAlreadyStarted = errors.New("session has already started")
	ErrFull           = errors.New("session is full")
	ErrAlreadyMember  = errors.New("already a member of this session")
)

// Session is one lobby-to-endgame lifecycle: the lobby record (host,
// members in join order, scores, running flag), the board state once
// prepared, and the room of subscribed connections. All mutation goes
// through its mutex, so two raced turn commands can never both pass the
// holder check.
type Session struct {
	mu      sync.Mutex
	code    string
	host    string
	members []string // join order = turn order
	scores  map[string]int
	running bool
	state   *game.State
	epoch   uint64 // bumped whenever state is replaced or dropped
	subs    map[string]chan []byte
}

func newSession(code, hostID string, send chan []byte) *Session {
	return &Session{
		code:    code,
		host:    hostID,
		members: []string{hostID},
		scores:  map[string]int{hostID: 0},
		subs:    map[string]chan []byte{hostID: send},
	}
}

// Code returns the session identifier.
func (s *Session) Code() string { return s.code }

// AddPlayer appends a member and subscribes its connection to the room.
func (s *Session) AddPlayer(connID string, send chan []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}
	if len(s.members) >= board.MaxPlayers {
		return ErrFull
	}
	for _, m := range s.members {
		if m == connID {
			return ErrAlreadyMember
		}
	}
	s.members = append(s.members, connID)
	s.scores[connID] = 0
	s.subs[connID] = send
	return nil
}

// Departure describes the aftermath of removing a member.
type Departure struct {
	Code        string
	Member      string
	Empty       bool
	HostChanged bool
	NewHost     string
	Snapshot    protocol.GameData
}

// RemovePlayer drops a member, migrating the host to the earliest
// remaining member when needed. If the departing member held the turn,
// the turn passes to the next member in pre-removal order and their
// pending flips are discarded. The send channel is not closed here; it
// belongs to the connection.
func (s *Session) RemovePlayer(connID string) (Departure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, m := range s.members {
		if m == connID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Departure{}, false
	}

	if s.state != nil && s.state.Holder == connID {
		s.state.Holder = game.NextHolder(s.members, connID)
		// The next holder starts with a clean buffer, not the departing
		// player's half-flipped pair.
		s.state.ClearRequested()
	}

	s.members = append(s.members[:idx], s.members[idx+1:]...)
	delete(s.scores, connID)
	delete(s.subs, connID)

	dep := Departure{Code: s.code, Member: connID}
	if len(s.members) == 0 {
		dep.Empty = true
		return dep, true
	}
	if s.host == connID {
		s.host = s.members[0]
		dep.HostChanged = true
		dep.NewHost = s.host
	}
	dep.Snapshot = s.snapshotLocked()
	return dep, true
}

// Prepare builds a fresh shuffled board for the current member count.
// Only the host may prepare; any prior state is superseded and pending
// reveal tasks for it go stale.
func (s *Session) Prepare(requesterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requesterID != s.host {
		return false
	}
	s.state = game.NewState(s.members)
	s.epoch++
	return true
}

// Ready acknowledges a client's readiness. The first acknowledgement
// flips the session to running. Returns the turn payload for that client.
func (s *Session) Ready(connID string) (protocol.GameTurn, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return protocol.GameTurn{}, false, false
	}
	first := false
	if !s.running {
		s.running = true
		first = true
	}
	gt := protocol.GameTurn{
		Turn:        s.state.Holder,
		Size:        s.state.Size,
		SolvedState: s.state.SolvedView(),
	}
	return gt, first, true
}

// TurnResult is the outcome of a request-point or commit-turn command.
type TurnResult struct {
	Accepted bool       // a flip was recorded
	Point    game.Point // the accepted flip
	Value    int        // face value at the accepted flip

	Committed   bool // a pair was decided this call
	Outcome     game.Outcome
	Scorer      string
	Snapshot    protocol.GameData
	Leaderboard []protocol.ScoreEntry // non-nil only on a win
	Epoch       uint64                // state epoch for reveal scheduling
}

// RequestPoint validates and records a flip for connID, committing the
// turn in the same critical section once the second flip lands.
func (s *Session) RequestPoint(connID string, p game.Point) TurnResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return TurnResult{}
	}
	value, ok := s.state.RequestPoint(connID, p)
	if !ok {
		return TurnResult{}
	}
	res := TurnResult{Accepted: true, Point: p, Value: value}
	if p1, p2, full := s.state.PendingPair(); full {
		commit := s.commitLocked(connID, p1, p2)
		commit.Accepted = true
		commit.Point = p
		commit.Value = value
		res = commit
	}
	return res
}

// CommitTurn is the explicit two-point variant of the same validation
// path, guarding stale or raced calls by re-checking the holder.
func (s *Session) CommitTurn(connID string, p1, p2 game.Point) TurnResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return TurnResult{}
	}
	return s.commitLocked(connID, p1, p2)
}

func (s *Session) commitLocked(connID string, p1, p2 game.Point) TurnResult {
	outcome := s.state.Commit(connID, s.members, p1, p2)
	if outcome == game.OutcomeIgnored {
		return TurnResult{}
	}
	res := TurnResult{Committed: true, Outcome: outcome, Epoch: s.epoch}
	if outcome == game.OutcomeMatch || outcome == game.OutcomeWin {
		s.scores[connID]++
		res.Scorer = connID
	}
	if outcome == game.OutcomeWin {
		s.running = false
		res.Leaderboard = s.leaderboardLocked()
	}
	res.Snapshot = s.snapshotLocked()
	return res
}

// Restart fully resets an existing session back to the lobby: scores
// zeroed, running cleared, state dropped. Any member may request it.
func (s *Session) Restart(connID string) (protocol.GameData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	member := false
	for _, m := range s.members {
		if m == connID {
			member = true
			break
		}
	}
	if !member {
		return protocol.GameData{}, false
	}
	for id := range s.scores {
		s.scores[id] = 0
	}
	s.running = false
	s.state = nil
	s.epoch++
	return s.snapshotLocked(), true
}

// RevealSnapshot returns the solved-state view for the pre-conceal cue,
// or false if the state was torn down or superseded since scheduling.
func (s *Session) RevealSnapshot(epoch uint64) ([]int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil || s.epoch != epoch {
		return nil, false
	}
	return s.state.SolvedView(), true
}

// ConcealSnapshot clears the flip buffer and returns the authoritative
// solved-state view, with the same staleness guard as RevealSnapshot.
func (s *Session) ConcealSnapshot(epoch uint64) ([]int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil || s.epoch != epoch {
		return nil, false
	}
	s.state.ClearRequested()
	return s.state.SolvedView(), true
}

// Snapshot returns the lobby record as sent to clients.
func (s *Session) Snapshot() protocol.GameData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() protocol.GameData {
	members := make([]string, len(s.members))
	copy(members, s.members)
	scores := make(map[string]int, len(s.scores))
	for id, score := range s.scores {
		scores[id] = score
	}
	return protocol.GameData{
		ID:      s.code,
		Host:    s.host,
		Members: members,
		Scores:  scores,
		Running: s.running,
	}
}

// leaderboardLocked ranks members by score descending; equal scores keep
// join order (stable sort).
func (s *Session) leaderboardLocked() []protocol.ScoreEntry {
	entries := make([]protocol.ScoreEntry, 0, len(s.members))
	for _, id := range s.members {
		entries = append(entries, protocol.ScoreEntry{ID: id, Score: s.scores[id]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	return entries
}

// Broadcast sends a frame to every subscribed connection. Slow consumers
// drop frames rather than block the turn engine.
func (s *Session) Broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

// Send delivers a frame to a single subscribed connection.
func (s *Session) Send(connID string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.subs[connID]
	if !ok {
		return false
	}
	select {
	case ch <- data:
	default:
	}
	return true
}

// HasMember reports whether connID belongs to the session.
func (s *Session) HasMember(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m == connID {
			return true
		}
	}
	return false
}
