// Package protocol defines the JSON wire format spoken over each
// websocket connection: a typed envelope with a raw payload, plus the
// payload shapes for every client command and server event.
package protocol

import (
	"encoding/json"

	"github.com/therisingtsun/fruit-match/internal/game"
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server command types.
const (
	CmdHostGame       = "host-game"
	CmdJoinGame       = "join-game"
	CmdPrepareGame    = "prepare-game"
	CmdClientReady    = "client-ready"
	CmdRequestPoint   = "request-point"
	CmdCommitTurn     = "commit-turn"
	CmdRequestRestart = "request-restart"
)

// Server -> client event types.
const (
	EvtWelcome       = "welcome"
	EvtNotif         = "notif"
	EvtGameData      = "game-data"
	EvtGameReady     = "game-ready"
	EvtGameTurn      = "game-turn"
	EvtPointResponse = "point-response"
	EvtEndingTurn    = "ending-turn"
	EvtEndTurn       = "end-turn"
	EvtGameEnd       = "game-end"
	EvtGameRestart   = "game-restart"
)

// Variant is the notification styling hint.
type Variant string

const (
	VariantDefault Variant = "default"
	VariantError   Variant = "error"
	VariantInfo    Variant = "info"
	VariantSuccess Variant = "success"
	VariantWarning Variant = "warning"
)

// SessionRef identifies the session a command targets.
type SessionRef struct {
	Code string `json:"code"`
}

// PointRequest asks to flip one cell.
type PointRequest struct {
	Code  string     `json:"code"`
	Point game.Point `json:"point"`
}

// CommitRequest is the explicit two-point variant of a turn.
type CommitRequest struct {
	Code   string       `json:"code"`
	Points []game.Point `json:"points"`
}

// Welcome tells a connection its assigned identifier.
type Welcome struct {
	ID string `json:"id"`
}

// Notif is a styled user-facing notice.
type Notif struct {
	Variant Variant `json:"variant"`
	Message string  `json:"message"`
}

// GameData is the lobby snapshot broadcast on membership and score changes.
type GameData struct {
	ID      string         `json:"id"`
	Host    string         `json:"host"`
	Members []string       `json:"members"`
	Scores  map[string]int `json:"scores"`
	Running bool           `json:"running"`
}

// GameTurn is sent to a single connection on readiness: whose turn it is
// and the board as that client may see it.
type GameTurn struct {
	Turn        string    `json:"turn"`
	Size        game.Size `json:"size"`
	SolvedState []int     `json:"solvedState"`
}

// PointResponse reveals the face value at a flipped cell to the room.
type PointResponse struct {
	Point game.Point `json:"point"`
	Value int        `json:"value"`
}

// TurnState carries the authoritative solved-state during the reveal and
// conceal phases.
type TurnState struct {
	SolvedState []int `json:"solvedState"`
}

// ScoreEntry is one leaderboard row.
type ScoreEntry struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

// GameEnd announces the final ranking.
type GameEnd struct {
	Leaderboard []ScoreEntry `json:"leaderboard"`
}

// Encode marshals a typed payload into an envelope frame. Marshal errors
// cannot occur for the payload types above, so the frame is returned as is.
func Encode(msgType string, payload any) []byte {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	data, _ := json.Marshal(Message{Type: msgType, Payload: raw})
	return data
}
