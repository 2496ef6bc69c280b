package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed audit store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		entry_id      TEXT PRIMARY KEY,
		timestamp     DATETIME NOT NULL,
		event_type    TEXT NOT NULL,
		agent_id      TEXT,
		user_id       TEXT,
		data          TEXT,
		sequence      INTEGER NOT NULL UNIQUE,
		previous_hash TEXT NOT NULL,
		content_hash  TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_entries(agent_id);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_entries(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(e *Entry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal entry data: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO audit_entries (entry_id, timestamp, event_type, agent_id, user_id,
		data, sequence, previous_hash, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.Timestamp, string(e.EventType), nullStr(e.AgentID), nullStr(e.UserID),
		string(data), int64(e.Sequence), e.PreviousHash, e.ContentHash,
	)
	return err
}

func (s *SQLiteStore) Get(entryID string) (*Entry, error) {
	row := s.db.QueryRow(`SELECT entry_id, timestamp, event_type, agent_id, user_id, data, sequence, previous_hash, content_hash
		FROM audit_entries WHERE entry_id = ?`, entryID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) List(filter Filter) ([]*Entry, int, error) {
	where, args := buildWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT entry_id, timestamp, event_type, agent_id, user_id, data, sequence, previous_hash, content_hash
		FROM audit_entries` + where + " ORDER BY sequence DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, count, rows.Err()
}

func (s *SQLiteStore) Ordered() ([]*Entry, error) {
	rows, err := s.db.Query(`SELECT entry_id, timestamp, event_type, agent_id, user_id, data, sequence, previous_hash, content_hash
		FROM audit_entries ORDER BY sequence ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Tip() (*Entry, error) {
	row := s.db.QueryRow(`SELECT entry_id, timestamp, event_type, agent_id, user_id, data, sequence, previous_hash, content_hash
		FROM audit_entries ORDER BY sequence DESC LIMIT 1`)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) Summary() (*Summary, error) {
	sum := &Summary{
		ByEventType: make(map[string]int64),
		ByAgent:     make(map[string]int64),
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_entries").Scan(&sum.TotalEntries); err != nil {
		return nil, err
	}

	rows, err := s.db.Query("SELECT event_type, COUNT(*) FROM audit_entries GROUP BY event_type")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var et string
		var n int64
		if err := rows.Scan(&et, &n); err != nil {
			rows.Close()
			return nil, err
		}
		sum.ByEventType[et] = n
	}
	rows.Close()

	rows, err = s.db.Query("SELECT agent_id, COUNT(*) FROM audit_entries WHERE agent_id IS NOT NULL GROUP BY agent_id")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var agent string
		var n int64
		if err := rows.Scan(&agent, &n); err != nil {
			rows.Close()
			return nil, err
		}
		sum.ByAgent[agent] = n
	}
	rows.Close()

	tip, err := s.Tip()
	if err != nil {
		return nil, err
	}
	if tip != nil {
		sum.CurrentSequence = tip.Sequence
		sum.LastEntry = tip
	}
	return sum, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	e := &Entry{}
	var eventType, data string
	var agentID, userID sql.NullString
	var sequence int64

	if err := row.Scan(&e.EntryID, &e.Timestamp, &eventType, &agentID, &userID,
		&data, &sequence, &e.PreviousHash, &e.ContentHash); err != nil {
		return nil, err
	}

	e.EventType = EventType(eventType)
	e.AgentID = agentID.String
	e.UserID = userID.String
	e.Sequence = uint64(sequence)
	if data != "" {
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal entry data: %w", err)
		}
	}
	return e, nil
}

func buildWhere(f Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if f.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(f.EventType))
	}
	if f.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *f.Until)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
