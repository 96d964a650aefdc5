// Package server records room transcripts in SQLite. The store is a
// convenience outside the concurrency core: the Directory never depends on
// it, and store failures never affect room state or message delivery.
package server

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room       TEXT NOT NULL,
	sender     TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room, id);
`

// HistoryStore persists delivered room messages and exports per-room
// transcripts. Use ":memory:" as the DSN in tests.
type HistoryStore struct {
	db *sql.DB
}

// OpenHistory opens (and if necessary initializes) the transcript database.
func OpenHistory(dsn string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Close releases the underlying database handle.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// Record appends one delivered message to the room's transcript.
func (h *HistoryStore) Record(room, sender, content string) error {
	_, err := h.db.Exec(
		`INSERT INTO messages (room, sender, content, created_at) VALUES ($1, $2, $3, $4)`,
		room, sender, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// Transcript returns the room's messages in delivery order, formatted as
// "sender: content" lines.
func (h *HistoryStore) Transcript(room string) ([]string, error) {
	rows, err := h.db.Query(
		`SELECT sender, content FROM messages WHERE room = $1 ORDER BY id`,
		room,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var sender, content string
		if err := rows.Scan(&sender, &content); err != nil {
			return nil, fmt.Errorf("scanning transcript row: %w", err)
		}
		lines = append(lines, sender+": "+content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	return lines, nil
}

// ExportTranscript writes the room's transcript to "<room>.txt" under dir
// and returns the written path. The file starts with the room name as a
// header line, matching the save-dialog format clients expect.
func (h *HistoryStore) ExportTranscript(room, dir string) (string, error) {
	lines, err := h.Transcript(room)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, room+".txt")
	var sb strings.Builder
	sb.WriteString(room + ":\n")
	for _, line := range lines {
		sb.WriteString(line + "\n")
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing transcript file: %w", err)
	}
	return path, nil
}
