package game

import (
	"github.com/therisingtsun/fruit-match/internal/board"
)

// Point is a board coordinate as sent by clients.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Size is the board dimensions in cells.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Hidden marks an unrevealed cell in the solved-state view.
const Hidden = -1

// Outcome classifies a committed pair of flips.
type Outcome int

const (
	// OutcomeIgnored means the commit failed validation and nothing changed.
	OutcomeIgnored Outcome = iota
	// OutcomeMismatch rotates the turn to the next member.
	OutcomeMismatch
	// OutcomeMatch keeps the turn with the same player.
	OutcomeMatch
	// OutcomeWin is a match that solved the final pair.
	OutcomeWin
)

// State is the per-session board and turn data. It holds no lock of its
// own; the owning session serializes access.
type State struct {
	Board       []int
	Size        Size
	Holder      string // connection id of the current turn holder
	Requested   []Point
	Solved      map[int]bool
	SolvedState []int
}

// NewState builds a fresh shuffled board sized for the member count, with
// the turn on the first member.
func NewState(members []string) *State {
	w, h := board.SizeFor(len(members))
	deck := board.NewDeck(w * h / 2)
	solvedState := make([]int, len(deck))
	for i := range solvedState {
		solvedState[i] = Hidden
	}
	return &State{
		Board:       deck,
		Size:        Size{Width: w, Height: h},
		Holder:      members[0],
		Requested:   []Point{},
		Solved:      make(map[int]bool),
		SolvedState: solvedState,
	}
}

// Pairs is the total number of pairs on the board.
func (s *State) Pairs() int { return len(s.Board) / 2 }

func (s *State) index(p Point) int { return p.Y*s.Size.Width + p.X }

func (s *State) inBounds(p Point) bool {
	return p.X >= 0 && p.X < s.Size.Width && p.Y >= 0 && p.Y < s.Size.Height
}

// RequestPoint records a flip request from connID. It returns the face
// value at the point and whether the request was accepted. Requests from
// a non-holder, out-of-bounds points, already-revealed cells, duplicate
// clicks on a pending cell, and third points in a turn are all ignored.
func (s *State) RequestPoint(connID string, p Point) (int, bool) {
	if connID != s.Holder || !s.inBounds(p) || len(s.Requested) >= 2 {
		return 0, false
	}
	idx := s.index(p)
	if s.SolvedState[idx] >= 0 {
		return 0, false
	}
	for _, prev := range s.Requested {
		if prev == p {
			return 0, false
		}
	}
	s.Requested = append(s.Requested, p)
	return s.Board[idx], true
}

// PendingPair returns the two requested points once the buffer is full.
func (s *State) PendingPair() (Point, Point, bool) {
	if len(s.Requested) != 2 {
		return Point{}, Point{}, false
	}
	return s.Requested[0], s.Requested[1], true
}

// Commit decides a turn. connID must still be the holder (guards stale or
// raced calls). On a match the holder keeps the turn and both cells become
// permanently revealed; on a mismatch the turn rotates to the next member.
func (s *State) Commit(connID string, members []string, p1, p2 Point) Outcome {
	if connID != s.Holder || !s.inBounds(p1) || !s.inBounds(p2) || p1 == p2 {
		return OutcomeIgnored
	}
	i1, i2 := s.index(p1), s.index(p2)
	v1, v2 := s.Board[i1], s.Board[i2]

	if v1 == v2 && !s.Solved[v1] {
		s.Solved[v1] = true
		s.SolvedState[i1] = v1
		s.SolvedState[i2] = v2
		if len(s.Solved) == s.Pairs() {
			return OutcomeWin
		}
		return OutcomeMatch
	}

	s.Holder = NextHolder(members, s.Holder)
	return OutcomeMismatch
}

// ClearRequested empties the flip buffer so a new pair can begin.
func (s *State) ClearRequested() { s.Requested = s.Requested[:0] }

// SolvedView returns a copy of the client-facing board view. Unmatched
// cells are always Hidden here; live flips travel separately.
func (s *State) SolvedView() []int {
	view := make([]int, len(s.SolvedState))
	copy(view, s.SolvedState)
	return view
}

// NextHolder returns the member after current in turn order, wrapping at
// the end. If current is not in members the turn falls to the first member.
func NextHolder(members []string, current string) string {
	if len(members) == 0 {
		return ""
	}
	for i, m := range members {
		if m == current {
			return members[(i+1)%len(members)]
		}
	}
	return members[0]
}
