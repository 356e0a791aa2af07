package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"nhooyr.io/websocket"

	"github.com/therisingtsun/fruit-match/internal/protocol"
	"github.com/therisingtsun/fruit-match/internal/session"
	"github.com/therisingtsun/fruit-match/internal/storage"
)

// --- Test environment ---

type testEnv struct {
	ts    *httptest.Server
	mgr   *session.Manager
	clock *clockwork.FakeClock
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fc := clockwork.NewFakeClock()
	mgr := session.NewManager(store, fc)
	ts := httptest.NewServer(New(mgr))
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, mgr: mgr, clock: fc}
}

// startAdvancer pumps the fake clock in the background so reveal/conceal
// cycles complete while a test reads frames in order.
func (env *testEnv) startAdvancer(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				env.clock.Advance(session.RevealDelay)
			}
		}
	}()
}

// --- Context helpers ---

func timeoutCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
}

// wsConnect dials the command socket and consumes the welcome frame,
// returning the connection and its server-assigned id.
func wsConnect(t *testing.T, env *testEnv) (*websocket.Conn, string) {
	t.Helper()
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(env.ts), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	msg := readMsg(ctx, t, conn)
	if msg.Type != protocol.EvtWelcome {
		t.Fatalf("expected welcome, got %q", msg.Type)
	}
	welcome := decodePayload[protocol.Welcome](t, msg)
	if welcome.ID == "" {
		t.Fatal("expected a connection id")
	}
	return conn, welcome.ID
}

// sendCmd marshals and sends a command envelope.
func sendCmd(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = data
	}
	frame, err := json.Marshal(protocol.Message{Type: msgType, Payload: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

// readMsg reads and unmarshals a single frame.
func readMsg(ctx context.Context, t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return msg
}

// readUntil reads frames, discarding others, until one of the wanted type
// arrives.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string) protocol.Message {
	t.Helper()
	for i := 0; i < 50; i++ {
		msg := readMsg(ctx, t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %q frame within 50 reads", msgType)
	return protocol.Message{}
}

func decodePayload[T any](t *testing.T, msg protocol.Message) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		t.Fatalf("unmarshal %q payload: %v", msg.Type, err)
	}
	return v
}

// --- Flow helpers ---

// hostGame hosts a session over the socket and returns its code.
func hostGame(ctx context.Context, t *testing.T, conn *websocket.Conn) protocol.GameData {
	t.Helper()
	sendCmd(ctx, t, conn, protocol.CmdHostGame, nil)
	msg := readUntil(ctx, t, conn, protocol.EvtGameData)
	return decodePayload[protocol.GameData](t, msg)
}

// joinGame joins an existing session and returns the broadcast snapshot.
func joinGame(ctx context.Context, t *testing.T, conn *websocket.Conn, code string) protocol.GameData {
	t.Helper()
	sendCmd(ctx, t, conn, protocol.CmdJoinGame, protocol.SessionRef{Code: code})
	msg := readUntil(ctx, t, conn, protocol.EvtGameData)
	return decodePayload[protocol.GameData](t, msg)
}
