package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/therisingtsun/fruit-match/internal/game"
	"github.com/therisingtsun/fruit-match/internal/protocol"
	"github.com/therisingtsun/fruit-match/internal/session"
)

// handleWebSocket owns one client connection: assigns its opaque id,
// pumps outbound frames from the send channel, and dispatches inbound
// commands until the socket closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin for dev
	})
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	connID := uuid.NewString()
	send := make(chan []byte, 64)

	// Writer goroutine: frames queued by broadcasts and replies.
	go func() {
		for data := range send {
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}()

	send <- protocol.Encode(protocol.EvtWelcome, protocol.Welcome{ID: connID})
	log.Debug().Str("conn", connID).Msg("connection open")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			sendTo(send, protocol.EvtNotif, protocol.Notif{
				Variant: protocol.VariantError,
				Message: "invalid message",
			})
			continue
		}
		s.dispatch(connID, send, msg)
	}

	// Implicit disconnect: leave every room, announce to survivors.
	for _, dep := range s.manager.Disconnect(connID) {
		sess, ok := s.manager.Get(dep.Code)
		if !ok {
			continue
		}
		if dep.HostChanged {
			s.notify(sess, protocol.VariantWarning,
				fmt.Sprintf("Host %s has left the game! %s is now the host!", dep.Member, dep.NewHost))
		} else {
			s.notify(sess, protocol.VariantWarning,
				fmt.Sprintf("Player %s has left the game!", dep.Member))
		}
		sess.Broadcast(protocol.Encode(protocol.EvtGameData, dep.Snapshot))
	}
	close(send)
	log.Debug().Str("conn", connID).Msg("connection closed")
}

func (s *Server) dispatch(connID string, send chan []byte, msg protocol.Message) {
	log.Debug().Str("conn", connID).Str("type", msg.Type).Msg("command")
	switch msg.Type {
	case protocol.CmdHostGame:
		s.hostGame(connID, send)
	case protocol.CmdJoinGame:
		var ref protocol.SessionRef
		if json.Unmarshal(msg.Payload, &ref) == nil {
			s.joinGame(connID, send, ref.Code)
		}
	case protocol.CmdPrepareGame:
		var ref protocol.SessionRef
		if json.Unmarshal(msg.Payload, &ref) == nil {
			s.prepareGame(connID, ref.Code)
		}
	case protocol.CmdClientReady:
		var ref protocol.SessionRef
		if json.Unmarshal(msg.Payload, &ref) == nil {
			s.clientReady(connID, ref.Code)
		}
	case protocol.CmdRequestPoint:
		var req protocol.PointRequest
		if json.Unmarshal(msg.Payload, &req) == nil {
			s.requestPoint(connID, req)
		}
	case protocol.CmdCommitTurn:
		var req protocol.CommitRequest
		if json.Unmarshal(msg.Payload, &req) == nil && len(req.Points) == 2 {
			s.commitTurn(connID, req)
		}
	case protocol.CmdRequestRestart:
		var ref protocol.SessionRef
		if json.Unmarshal(msg.Payload, &ref) == nil {
			s.requestRestart(connID, ref.Code)
		}
	default:
		sendTo(send, protocol.EvtNotif, protocol.Notif{
			Variant: protocol.VariantError,
			Message: "unknown command: " + msg.Type,
		})
	}
}

func (s *Server) hostGame(connID string, send chan []byte) {
	sess := s.manager.Create(connID, send)
	s.notify(sess, protocol.VariantSuccess, fmt.Sprintf("%s has hosted a game!", connID))
	sess.Broadcast(protocol.Encode(protocol.EvtGameData, sess.Snapshot()))
}

func (s *Server) joinGame(connID string, send chan []byte, code string) {
	sess, err := s.manager.Join(code, connID, send)
	if err != nil {
		sendTo(send, protocol.EvtNotif, joinErrorNotif(code, err))
		return
	}
	snap := sess.Snapshot()
	s.notify(sess, protocol.VariantSuccess,
		fmt.Sprintf("Player #%d (%s) has joined the game!", len(snap.Members), connID))
	sess.Broadcast(protocol.Encode(protocol.EvtGameData, snap))
}

// joinErrorNotif maps lobby-entry failures to the targeted notification
// the requesting connection sees. These are the only reported errors;
// in-game violations are silently ignored.
func joinErrorNotif(code string, err error) protocol.Notif {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return protocol.Notif{Variant: protocol.VariantError, Message: fmt.Sprintf("Could not find Game %s!", code)}
	case errors.Is(err, session.ErrAlreadyStarted):
		return protocol.Notif{Variant: protocol.VariantError, Message: fmt.Sprintf("Game %s has already started!", code)}
	case errors.Is(err, session.ErrFull):
		return protocol.Notif{Variant: protocol.VariantWarning, Message: fmt.Sprintf("Game %s is full! Host a new Game or join another one.", code)}
	default:
		return protocol.Notif{Variant: protocol.VariantError, Message: fmt.Sprintf("You're already in Game %s!", code)}
	}
}

func (s *Server) prepareGame(connID, code string) {
	sess, ok := s.manager.Get(code)
	if !ok || !sess.Prepare(connID) {
		return
	}
	s.notify(sess, protocol.VariantInfo, "Starting game…")
	sess.Broadcast(protocol.Encode(protocol.EvtGameReady, nil))
}

func (s *Server) clientReady(connID, code string) {
	sess, ok := s.manager.Get(code)
	if !ok {
		return
	}
	gt, first, ok := sess.Ready(connID)
	if !ok {
		return
	}
	if first {
		sess.Send(connID, protocol.Encode(protocol.EvtNotif, protocol.Notif{
			Variant: protocol.VariantSuccess,
			Message: "Game has started!",
		}))
	}
	sess.Send(connID, protocol.Encode(protocol.EvtGameTurn, gt))
}

func (s *Server) requestPoint(connID string, req protocol.PointRequest) {
	sess, ok := s.manager.Get(req.Code)
	if !ok {
		return
	}
	res := sess.RequestPoint(connID, req.Point)
	if !res.Accepted {
		log.Debug().Str("session", req.Code).Str("conn", connID).
			Interface("point", req.Point).Msg("point request ignored")
		return
	}
	sess.Broadcast(protocol.Encode(protocol.EvtPointResponse, protocol.PointResponse{
		Point: res.Point,
		Value: res.Value,
	}))
	if res.Committed {
		s.finishTurn(sess, res)
	}
}

func (s *Server) commitTurn(connID string, req protocol.CommitRequest) {
	sess, ok := s.manager.Get(req.Code)
	if !ok {
		return
	}
	res := sess.CommitTurn(connID, req.Points[0], req.Points[1])
	if res.Committed {
		s.finishTurn(sess, res)
	}
}

// finishTurn broadcasts the decision and schedules the delayed phases.
// The Game snapshot always goes out before any reveal task is queued.
func (s *Server) finishTurn(sess *session.Session, res session.TurnResult) {
	code := sess.Code()
	switch res.Outcome {
	case game.OutcomeMatch:
		s.notify(sess, protocol.VariantSuccess, fmt.Sprintf("Player %s scored!", res.Scorer))
		sess.Broadcast(protocol.Encode(protocol.EvtGameData, res.Snapshot))
		// Matched cards stay up; zero delay, but the buffer still clears
		// through phase B so the next pair can begin.
		s.manager.ScheduleReveal(code, res.Epoch, 0)
	case game.OutcomeWin:
		s.notify(sess, protocol.VariantSuccess, fmt.Sprintf("Player %s scored!", res.Scorer))
		s.notify(sess, protocol.VariantInfo, "Game has ended!")
		sess.Broadcast(protocol.Encode(protocol.EvtGameEnd, protocol.GameEnd{Leaderboard: res.Leaderboard}))
		sess.Broadcast(protocol.Encode(protocol.EvtGameData, res.Snapshot))
		s.manager.RecordResult(code, res.Leaderboard)
	case game.OutcomeMismatch:
		sess.Broadcast(protocol.Encode(protocol.EvtGameData, res.Snapshot))
		s.manager.ScheduleReveal(code, res.Epoch, session.RevealDelay)
	}
}

func (s *Server) requestRestart(connID, code string) {
	sess, ok := s.manager.Get(code)
	if !ok {
		return
	}
	snap, ok := sess.Restart(connID)
	if !ok {
		return
	}
	s.manager.CancelReveal(code)
	sess.Broadcast(protocol.Encode(protocol.EvtGameRestart, nil))
	sess.Broadcast(protocol.Encode(protocol.EvtGameData, snap))
	log.Info().Str("session", code).Str("conn", connID).Msg("session restarted")
}

func (s *Server) notify(sess *session.Session, variant protocol.Variant, message string) {
	sess.Broadcast(protocol.Encode(protocol.EvtNotif, protocol.Notif{
		Variant: variant,
		Message: message,
	}))
}

func sendTo(send chan []byte, msgType string, payload any) {
	select {
	case send <- protocol.Encode(msgType, payload):
	default:
	}
}
