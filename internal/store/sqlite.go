// ABOUTME: SQLite implementation of the Journal interface using modernc.org/sqlite
// ABOUTME: Creates the schema on open and stores timestamps as RFC3339 text

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Journal using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Journal = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the journal at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite journal initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS interrupt_decisions (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			interrupt_id TEXT NOT NULL UNIQUE,
			tool_name    TEXT NOT NULL,
			tool_args    TEXT,
			decision     TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			CHECK (decision IN ('approve', 'reject'))
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_session
			ON interrupt_decisions(session_id, created_at);

		CREATE TABLE IF NOT EXISTS action_invocations (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			action     TEXT NOT NULL,
			args       TEXT,
			result     TEXT NOT NULL DEFAULT '',
			error      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_invocations_session
			ON action_invocations(session_id, created_at);

		CREATE TABLE IF NOT EXISTS state_snapshots (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			agent      TEXT NOT NULL,
			state      TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_agent
			ON state_snapshots(agent, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// timeLayout has fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return t, nil
}

func sinceArg(f Filter) *string {
	if f.Since == nil {
		return nil
	}
	s := formatTime(*f.Since)
	return &s
}

func sessionArg(f Filter) *string {
	if f.SessionID == "" {
		return nil
	}
	return &f.SessionID
}

// RecordDecision stores a resolved interrupt. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO interrupt_decisions (id, session_id, interrupt_id, tool_name, tool_args, decision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.SessionID,
		d.InterruptID,
		d.ToolName,
		nullJSON(d.ToolArgs),
		d.Decision,
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting decision: %w", err)
	}

	s.logger.Debug("recorded decision",
		"interrupt_id", d.InterruptID,
		"tool", d.ToolName,
		"decision", d.Decision)
	return nil
}

const decisionsQuery = `
	SELECT id, session_id, interrupt_id, tool_name, tool_args, decision, created_at
	FROM interrupt_decisions
	WHERE (? IS NULL OR session_id = ?)
	  AND (? IS NULL OR created_at >= ?)
	ORDER BY created_at DESC
	LIMIT ?
`

// ListDecisions returns decisions newest first.
func (s *SQLiteStore) ListDecisions(ctx context.Context, f Filter) ([]Decision, error) {
	session, since := sessionArg(f), sinceArg(f)
	rows, err := s.db.QueryContext(ctx, decisionsQuery,
		session, session,
		since, since,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	decisions := []Decision{}
	for rows.Next() {
		var d Decision
		var args sql.NullString
		var created string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.InterruptID, &d.ToolName, &args, &d.Decision, &created); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		if args.Valid {
			d.ToolArgs = json.RawMessage(args.String)
		}
		if d.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating decisions: %w", err)
	}
	return decisions, nil
}

// RecordInvocation stores a frontend action call. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO action_invocations (id, session_id, action, args, result, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		inv.ID,
		inv.SessionID,
		inv.Action,
		nullJSON(inv.Args),
		inv.Result,
		inv.Error,
		formatTime(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}

	s.logger.Debug("recorded invocation", "action", inv.Action, "failed", inv.Error != "")
	return nil
}

const invocationsQuery = `
	SELECT id, session_id, action, args, result, error, created_at
	FROM action_invocations
	WHERE (? IS NULL OR session_id = ?)
	  AND (? IS NULL OR created_at >= ?)
	ORDER BY created_at DESC
	LIMIT ?
`

// ListInvocations returns invocations newest first.
func (s *SQLiteStore) ListInvocations(ctx context.Context, f Filter) ([]Invocation, error) {
	session, since := sessionArg(f), sinceArg(f)
	rows, err := s.db.QueryContext(ctx, invocationsQuery,
		session, session,
		since, since,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	invocations := []Invocation{}
	for rows.Next() {
		var inv Invocation
		var args sql.NullString
		var created string
		if err := rows.Scan(&inv.ID, &inv.SessionID, &inv.Action, &args, &inv.Result, &inv.Error, &created); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		if args.Valid {
			inv.Args = json.RawMessage(args.String)
		}
		if inv.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invocations: %w", err)
	}
	return invocations, nil
}

// SaveSnapshot appends a state snapshot. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if len(snap.State) == 0 {
		return errors.New("snapshot state is empty")
	}

	query := `
		INSERT INTO state_snapshots (id, session_id, agent, state, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		snap.ID,
		snap.SessionID,
		snap.Agent,
		string(snap.State),
		formatTime(snap.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	s.logger.Debug("saved state snapshot", "agent", snap.Agent, "size", len(snap.State))
	return nil
}

// LatestSnapshot returns the most recent snapshot for an agent.
// Returns ErrNotFound if the agent has no snapshot.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, agent string) (*Snapshot, error) {
	query := `
		SELECT id, session_id, agent, state, created_at
		FROM state_snapshots
		WHERE agent = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var snap Snapshot
	var state, created string
	err := s.db.QueryRowContext(ctx, query, agent).Scan(&snap.ID, &snap.SessionID, &snap.Agent, &state, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}

	snap.State = json.RawMessage(state)
	if snap.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &snap, nil
}
