package sessionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fankaidev/agentrt/internal/agent"
	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS session_events (
	session_id TEXT NOT NULL,
	seq        BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	payload    JSONB NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// PostgresConfig configures the alternative C5 backend for deployments
// already running Postgres (spec §3 "pluggable session log backend"),
// grounded on the teacher's sessions.CockroachConfig.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns conservative pool defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "agentrt",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore is a lib/pq-backed Store.
type PostgresStore struct {
	db *sql.DB

	stmtInsert *sql.Stmt
	stmtReplay *sql.Stmt
	stmtMaxSeq *sql.Stmt
}

// OpenPostgresStore opens a connection pool per config and migrates the
// session_events table.
func OpenPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)
	return openPostgresStoreWithDSN(dsn, config)
}

// OpenPostgresStoreFromDSN opens a store from a raw DSN/URL.
func OpenPostgresStoreFromDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}
	return openPostgresStoreWithDSN(dsn, config)
}

func openPostgresStoreWithDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) prepare() error {
	var err error
	s.stmtInsert, err = s.db.Prepare(`INSERT INTO session_events (session_id, seq, event_type, payload) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	s.stmtReplay, err = s.db.Prepare(`SELECT payload FROM session_events WHERE session_id = $1 ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("prepare replay: %w", err)
	}
	s.stmtMaxSeq, err = s.db.Prepare(`SELECT COALESCE(MAX(seq), -1) FROM session_events WHERE session_id = $1`)
	if err != nil {
		return fmt.Errorf("prepare max seq: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, events ...agent.AgentEvent) error {
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

func (s *PostgresStore) Replay(ctx context.Context, sessionID string) ([]agent.AgentEvent, error) {
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

func (s *PostgresStore) Reconstruct(ctx context.Context, sessionID string) ([]agentmodel.Message, error) {
	events, err := s.Replay(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Reconstruct(events), nil
}

func (s *PostgresStore) Close() error {
	s.stmtInsert.Close()
	s.stmtReplay.Close()
	s.stmtMaxSeq.Close()
	return s.db.Close()
}
