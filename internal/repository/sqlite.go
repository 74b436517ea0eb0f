package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zhongli1990/saas-codex/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			runner_type TEXT NOT NULL,
			thread_id TEXT,
			working_directory TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			run_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			session_id TEXT,
			thread_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			at DATETIME NOT NULL,
			event_type TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			UNIQUE (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Add new columns for existing DBs (SQLite has limited ALTER TABLE support).
	return s.ensureColumn("sessions", "skip_git_repo_check", "ALTER TABLE sessions ADD COLUMN skip_git_repo_check INTEGER NOT NULL DEFAULT 0")
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, runner_type, thread_id, working_directory, skip_git_repo_check, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.RunnerType, nullString(session.ThreadID), session.WorkingDirectory,
		session.SkipGitRepoCheck, session.CreatedAt.UTC(), nullJSON(session.Metadata))
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var threadID, metadata sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, runner_type, thread_id, working_directory, skip_git_repo_check, created_at, metadata FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &session.RunnerType, &threadID, &session.WorkingDirectory,
		&session.SkipGitRepoCheck, &session.CreatedAt, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	session.ThreadID = threadID.String
	if metadata.Valid {
		session.Metadata = json.RawMessage(metadata.String)
	}
	return &session, nil
}

// UpdateSessionThread binds a session to a new thread.
func (s *SQLiteStore) UpdateSessionThread(ctx context.Context, sessionID, threadID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET thread_id = ? WHERE session_id = ?`,
		nullString(threadID), sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// CreateMessage creates a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, run_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.SessionID, nullString(message.RunID), message.Role, message.Content,
		nullJSON(message.Metadata), message.CreatedAt.UTC())
	return err
}

// GetMessages returns up to limit messages of a session in creation order.
// With before set, only messages created before that message are returned,
// the newest of them when limit cuts the list.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int, before string) ([]domain.Message, error) {
	query := `SELECT message_id, session_id, run_id, role, content, metadata, created_at, rowid AS row_seq FROM messages WHERE session_id = ?`
	args := []interface{}{sessionID}

	if before != "" {
		query += ` AND (created_at, rowid) < (SELECT created_at, rowid FROM messages WHERE message_id = ?)`
		args = append(args, before)
	}

	if limit > 0 {
		query = fmt.Sprintf(`SELECT * FROM (%s ORDER BY created_at DESC, row_seq DESC LIMIT %d)`, query, limit)
	}
	query += ` ORDER BY created_at ASC, row_seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var runID, metadata sql.NullString
		var rowSeq int64
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &runID, &msg.Role, &msg.Content, &metadata, &msg.CreatedAt, &rowSeq); err != nil {
			return nil, err
		}
		msg.RunID = runID.String
		if metadata.Valid {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, session_id, thread_id, prompt, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, nullString(run.SessionID), run.ThreadID, run.Prompt, run.Status, run.StartedAt.UTC())
	return err
}

const runColumns = `run_id, session_id, thread_id, prompt, status, error, started_at, completed_at`

func scanRun(scan func(dest ...any) error) (*domain.RunRecord, error) {
	var run domain.RunRecord
	var sessionID, errMsg sql.NullString
	var completedAt sql.NullTime
	if err := scan(&run.RunID, &sessionID, &run.ThreadID, &run.Prompt, &run.Status, &errMsg, &run.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	run.SessionID = sessionID.String
	run.Error = errMsg.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the runs of a session, oldest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, sessionID string) ([]domain.RunRecord, error) {
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs WHERE session_id = ? ORDER BY started_at ASC, rowid ASC`, sessionID)
}

// ListRunsByStatus returns every run with the given status, oldest first.
func (s *SQLiteStore) ListRunsByStatus(ctx context.Context, status domain.RunStatus) ([]domain.RunRecord, error) {
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY started_at ASC, rowid ASC`, status)
}

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...any) ([]domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpdateRunCompleted records the terminal state of a run.
func (s *SQLiteStore) UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, errMsg string, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE run_id = ?`,
		status, nullString(errMsg), completedAt.UTC(), runID)
	return err
}

// AppendRunEvent stores one event. (run_id, seq) is unique.
func (s *SQLiteStore) AppendRunEvent(ctx context.Context, event *domain.RunEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, seq, at, event_type, raw_json) VALUES (?, ?, ?, ?, ?)`,
		event.RunID, event.Seq, event.At.UTC(), event.EventType, string(event.Raw))
	return err
}

// GetRunEvents returns the events of a run in sequence order.
func (s *SQLiteStore) GetRunEvents(ctx context.Context, runID string) ([]domain.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, at, event_type, raw_json FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.RunEvent{}
	for rows.Next() {
		var ev domain.RunEvent
		var raw string
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.At, &ev.EventType, &raw); err != nil {
			return nil, err
		}
		ev.Raw = json.RawMessage(raw)
		events = append(events, ev)
	}
	return events, rows.Err()
}
