package sessionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/fankaidev/agentrt/internal/agent"
	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_events (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	payload    BLOB NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// SQLiteStore is the default C5 backend (spec §4.5), grounded on the
// teacher's sessions.CockroachStore prepared-statement pattern but built
// on modernc.org/sqlite, a pure-Go driver requiring no cgo toolchain.
type SQLiteStore struct {
	db *sql.DB

	stmtInsert  *sql.Stmt
	stmtReplay  *sql.Stmt
	stmtMaxSeq  *sql.Stmt
}

// OpenSQLiteStore opens (creating if needed) a sqlite-backed session log
// at path. Use ":memory:" for an ephemeral database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) prepare() error {
	var err error
	s.stmtInsert, err = s.db.Prepare(`INSERT INTO session_events (session_id, seq, event_type, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	s.stmtReplay, err = s.db.Prepare(`SELECT payload FROM session_events WHERE session_id = ? ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("prepare replay: %w", err)
	}
	s.stmtMaxSeq, err = s.db.Prepare(`SELECT COALESCE(MAX(seq), -1) FROM session_events WHERE session_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare max seq: %w", err)
	}
	return nil
}

// Append persists events transactionally, assigning each a monotonically
// increasing seq continuing from the session's current high-water mark.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, events ...agent.AgentEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var nextSeq int64
	if err := tx.StmtContext(ctx, s.stmtMaxSeq).QueryRowContext(ctx, sessionID).Scan(&nextSeq); err != nil {
		return fmt.Errorf("read max seq: %w", err)
	}
	nextSeq++

	insert := tx.StmtContext(ctx, s.stmtInsert)
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := insert.ExecContext(ctx, sessionID, nextSeq, string(ev.Type), payload); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		nextSeq++
	}
	return tx.Commit()
}

func (s *SQLiteStore) Replay(ctx context.Context, sessionID string) ([]agent.AgentEvent, error) {
	rows, err := s.stmtReplay.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	defer rows.Close()

	var events []agent.AgentEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev agent.AgentEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Reconstruct(ctx context.Context, sessionID string) ([]agentmodel.Message, error) {
	events, err := s.Replay(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Reconstruct(events), nil
}

func (s *SQLiteStore) Close() error {
	s.stmtInsert.Close()
	s.stmtReplay.Close()
	s.stmtMaxSeq.Close()
	return s.db.Close()
}
