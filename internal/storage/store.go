package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/therisingtsun/fruit-match/internal/protocol"
)

// ResultRow is one archived finished game.
type ResultRow struct {
	ID          int64                 `json:"id"`
	SessionCode string                `json:"sessionCode"`
	Leaderboard []protocol.ScoreEntry `json:"leaderboard"`
	FinishedAt  time.Time             `json:"finishedAt"`
}

// Store is the SQLite archive of finished-game leaderboards. Live
// session state never touches it; it is history only.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			session_code     TEXT NOT NULL,
			leaderboard_json TEXT NOT NULL,
			finished_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// SaveResult archives the final leaderboard of a session.
func (s *Store) SaveResult(sessionCode string, leaderboard []protocol.ScoreEntry) error {
	data, err := json.Marshal(leaderboard)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT INTO results (session_code, leaderboard_json) VALUES (?, ?)",
		sessionCode, string(data),
	)
	return err
}

// RecentResults returns the newest archived games first.
func (s *Store) RecentResults(limit int) ([]ResultRow, error) {
	rows, err := s.db.Query(
		"SELECT id, session_code, leaderboard_json, finished_at FROM results ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []ResultRow
	for rows.Next() {
		var rr ResultRow
		var lb string
		if err := rows.Scan(&rr.ID, &rr.SessionCode, &lb, &rr.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(lb), &rr.Leaderboard); err != nil {
			return nil, fmt.Errorf("unmarshal leaderboard: %w", err)
		}
		result = append(result, rr)
	}
	return result, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
