package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/therisingtsun/fruit-match/internal/protocol"
	"github.com/therisingtsun/fruit-match/internal/storage"
)

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	env := setupTestEnv(t)
	if code := getJSON(t, env.ts.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestListSessions(t *testing.T) {
	env := setupTestEnv(t)

	var sessions []protocol.GameData
	if code := getJSON(t, env.ts.URL+"/api/sessions", &sessions); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}

	sess := env.mgr.Create("host-1", make(chan []byte, 1))
	if code := getJSON(t, env.ts.URL+"/api/sessions", &sessions); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
	if sessions[0].ID != sess.Code() {
		t.Errorf("expected code %s, got %s", sess.Code(), sessions[0].ID)
	}
	if sessions[0].Host != "host-1" {
		t.Errorf("expected host host-1, got %s", sessions[0].Host)
	}
}

func TestGetSession(t *testing.T) {
	env := setupTestEnv(t)
	sess := env.mgr.Create("host-1", make(chan []byte, 1))

	var snap protocol.GameData
	if code := getJSON(t, env.ts.URL+"/api/sessions/"+sess.Code(), &snap); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if snap.Host != "host-1" || snap.Running {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	if code := getJSON(t, env.ts.URL+"/api/sessions/NOPE", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestResultsRejectsBadLimit(t *testing.T) {
	env := setupTestEnv(t)
	for _, raw := range []string{"0", "-1", "abc"} {
		if code := getJSON(t, env.ts.URL+"/api/results?limit="+raw, nil); code != http.StatusBadRequest {
			t.Errorf("limit %q: expected 400, got %d", raw, code)
		}
	}
}

func TestResultsListsArchivedGames(t *testing.T) {
	env := setupTestEnv(t)
	env.mgr.RecordResult("AAAA", []protocol.ScoreEntry{{ID: "p1", Score: 8}})

	var rows []storage.ResultRow
	if code := getJSON(t, env.ts.URL+"/api/results", &rows); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if rows[0].SessionCode != "AAAA" {
		t.Errorf("expected session AAAA, got %s", rows[0].SessionCode)
	}
	if len(rows[0].Leaderboard) != 1 || rows[0].Leaderboard[0].Score != 8 {
		t.Errorf("unexpected leaderboard: %+v", rows[0].Leaderboard)
	}
}
