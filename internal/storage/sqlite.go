package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/ghost-scribe/internal/capture"
	"github.com/sjawhar/ghost-scribe/internal/session"
	"github.com/sjawhar/ghost-scribe/internal/transcribe"
)

const (
	StateActive = "active"
	StateEnding = "ending"
	StateEnded  = "ended"

	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// SessionRecord is one row of the session catalog.
type SessionRecord struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	State          string     `json:"state"`
	NotifyTarget   string     `json:"notify_target,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	SummaryStatus  string     `json:"summary_status,omitempty"`
	TranscriptPath string     `json:"transcript_path,omitempty"`
	SummaryPath    string     `json:"summary_path,omitempty"`
}

// CaptureRecord is one finished capture channel.
type CaptureRecord struct {
	SessionID    string    `json:"session_id"`
	SpeakerID    string    `json:"speaker_id"`
	SpeakerLabel string    `json:"speaker_label"`
	Path         string    `json:"path"`
	IndexPath    string    `json:"index_path"`
	StartedAt    time.Time `json:"started_at"`
	StoppedAt    time.Time `json:"stopped_at"`
	BytesWritten int64     `json:"bytes_written"`
	BytesDropped int64     `json:"bytes_dropped"`
	Excluded     bool      `json:"excluded"`
	Reason       string    `json:"reason,omitempty"`
}

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "ghost-scribe.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

var schema = []struct{ name, stmt string }{
	{"sessions table", `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			state TEXT NOT NULL,
			notify_target TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			summary_status TEXT NOT NULL DEFAULT '',
			transcript_path TEXT NOT NULL DEFAULT '',
			summary_path TEXT NOT NULL DEFAULT ''
		)`},
	{"captures table", `
		CREATE TABLE IF NOT EXISTS captures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			speaker_id TEXT NOT NULL,
			speaker_label TEXT NOT NULL,
			path TEXT NOT NULL,
			index_path TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			stopped_at TEXT NOT NULL,
			bytes_written INTEGER NOT NULL DEFAULT 0,
			bytes_dropped INTEGER NOT NULL DEFAULT 0,
			is_excluded INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			UNIQUE(session_id, path),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`},
	{"runs table", `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			segments INTEGER NOT NULL DEFAULT 0,
			excluded INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`},
	{"segments table", `
		CREATE TABLE IF NOT EXISTS segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`},
	{"summary_requests table", `
		CREATE TABLE IF NOT EXISTS summary_requests (
			session_id TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, prompt_hash)
		)`},
	{"sessions index", "CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)"},
	{"segments index", "CREATE INDEX IF NOT EXISTS idx_segments_session_id ON segments(session_id, start_time)"},
	{"captures index", "CREATE INDEX IF NOT EXISTS idx_captures_session_id ON captures(session_id)"},
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	for _, st := range schema {
		if _, err := s.db.Exec(st.stmt); err != nil {
			return fmt.Errorf("create %s: %w", st.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// CreateSession inserts a session as active. A stale row with the same id,
// left behind by a session whose directories were removed by hand, is
// replaced.
func (s *SQLiteStore) CreateSession(sess session.Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("session id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM summary_requests WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear stale summary requests %s: %w", sess.ID, err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear stale session %s: %w", sess.ID, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO sessions(id, started_at, state, notify_target) VALUES(?, ?, ?, ?)`,
		sess.ID,
		formatTime(sess.StartedAt),
		StateActive,
		sess.NotifyTarget,
	); err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return tx.Commit()
}

// SetSessionState records a registry transition. Returning to idle marks the
// session ended.
func (s *SQLiteStore) SetSessionState(id string, state session.State) error {
	var (
		res sql.Result
		err error
	)
	switch state {
	case session.StateIdle:
		res, err = s.db.Exec(
			`UPDATE sessions SET state = ?, ended_at = COALESCE(ended_at, ?) WHERE id = ?`,
			StateEnded, formatTime(s.now()), id,
		)
	case session.StateEnding:
		res, err = s.db.Exec(`UPDATE sessions SET state = ? WHERE id = ?`, StateEnding, id)
	default:
		res, err = s.db.Exec(`UPDATE sessions SET state = ? WHERE id = ?`, StateActive, id)
	}
	if err != nil {
		return fmt.Errorf("set session %s state: %w", id, err)
	}
	return expectRow(res, id)
}

func (s *SQLiteStore) GetSession(id string) (SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, started_at, ended_at, state, notify_target, summary, summary_status, transcript_path, summary_path
		 FROM sessions WHERE id = ?`,
		id,
	)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return rec, nil
}

// ListSessions returns every cataloged session, newest first.
func (s *SQLiteStore) ListSessions() ([]SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, ended_at, state, notify_target, summary, summary_status, transcript_path, summary_path
		 FROM sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]SessionRecord, 0, 16)
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}
	return sessions, nil
}

func (s *SQLiteStore) RecordCaptures(sessionID string, results []capture.Result) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("record captures for session %s: %w", sessionID, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range results {
		if _, err := tx.Exec(
			`INSERT INTO captures(session_id, speaker_id, speaker_label, path, index_path, started_at, stopped_at, bytes_written, bytes_dropped, is_excluded, reason)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, path) DO UPDATE SET
			   stopped_at = excluded.stopped_at,
			   bytes_written = excluded.bytes_written,
			   bytes_dropped = excluded.bytes_dropped,
			   is_excluded = excluded.is_excluded,
			   reason = excluded.reason`,
			sessionID,
			r.SpeakerID,
			r.SpeakerLabel,
			r.OutputPath,
			r.IndexPath,
			formatTime(r.StartedAt),
			formatTime(r.StoppedAt),
			r.BytesWritten,
			r.BytesDropped,
			r.Excluded,
			r.Reason,
		); err != nil {
			return fmt.Errorf("record capture %s: %w", r.OutputPath, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetCaptures(sessionID string) ([]CaptureRecord, error) {
	rows, err := s.db.Query(
		`SELECT session_id, speaker_id, speaker_label, path, index_path, started_at, stopped_at, bytes_written, bytes_dropped, is_excluded, reason
		 FROM captures WHERE session_id = ? ORDER BY started_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query captures for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []CaptureRecord
	for rows.Next() {
		var (
			rec              CaptureRecord
			started, stopped string
		)
		if err := rows.Scan(&rec.SessionID, &rec.SpeakerID, &rec.SpeakerLabel, &rec.Path, &rec.IndexPath,
			&started, &stopped, &rec.BytesWritten, &rec.BytesDropped, &rec.Excluded, &rec.Reason); err != nil {
			return nil, fmt.Errorf("scan capture for session %s: %w", sessionID, err)
		}
		if rec.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if rec.StoppedAt, err = parseTime(stopped); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capture rows for session %s: %w", sessionID, err)
	}
	return out, nil
}

func (s *SQLiteStore) BeginRun(runID, sessionID string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs(id, session_id, started_at, status) VALUES(?, ?, ?, ?)`,
		runID, sessionID, formatTime(startedAt), RunRunning,
	)
	if err != nil {
		return fmt.Errorf("begin run %s for session %s: %w", runID, sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(runID string, segments, excluded int, runErr error) error {
	status, msg := RunCompleted, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, segments = ?, excluded = ?, error = ? WHERE id = ?`,
		formatTime(s.now()), status, segments, excluded, msg, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return expectRow(res, runID)
}

// ReplaceSegments stores the merged transcript of a run, dropping the
// segments of earlier runs.
func (s *SQLiteStore) ReplaceSegments(sessionID, runID string, segs []transcribe.CorrelatedSegment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace segments for session %s: %w", sessionID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM segments WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear segments for session %s: %w", sessionID, err)
	}
	for _, seg := range segs {
		if _, err := tx.Exec(
			`INSERT INTO segments(session_id, run_id, speaker, text, start_time, end_time) VALUES(?, ?, ?, ?, ?, ?)`,
			sessionID,
			runID,
			seg.SpeakerLabel,
			strings.TrimSpace(seg.Text),
			formatTime(seg.Start),
			formatTime(seg.End),
		); err != nil {
			return fmt.Errorf("append segment for session %s: %w", sessionID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSegments(sessionID string) ([]transcribe.CorrelatedSegment, error) {
	rows, err := s.db.Query(
		`SELECT speaker, text, start_time, end_time
		 FROM segments
		 WHERE session_id = ?
		 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	segments := make([]transcribe.CorrelatedSegment, 0, 32)
	for rows.Next() {
		var (
			seg        transcribe.CorrelatedSegment
			start, end string
		)
		if err := rows.Scan(&seg.SpeakerLabel, &seg.Text, &start, &end); err != nil {
			return nil, fmt.Errorf("scan segment for session %s: %w", sessionID, err)
		}
		if seg.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if seg.End, err = parseTime(end); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows for session %s: %w", sessionID, err)
	}

	return segments, nil
}

func (s *SQLiteStore) UpdateSummary(sessionID, summary string, status session.SummaryStatus) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET summary = ?, summary_status = ? WHERE id = ?`,
		summary,
		string(status),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("update summary for session %s: %w", sessionID, err)
	}
	return expectRow(res, sessionID)
}

func (s *SQLiteStore) UpdateArtifacts(sessionID, transcriptPath, summaryPath string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET transcript_path = ?, summary_path = ? WHERE id = ?`,
		transcriptPath,
		summaryPath,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("update artifacts for session %s: %w", sessionID, err)
	}
	return expectRow(res, sessionID)
}

// ClaimSummaryRequest returns false when the same request was already made
// for the session.
func (s *SQLiteStore) ClaimSummaryRequest(sessionID, promptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO summary_requests(session_id, prompt_hash) VALUES(?, ?)`,
		sessionID,
		promptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim summary request for session %s: %w", sessionID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim summary rows affected: %w", err)
	}

	return rows > 0, nil
}

// ReleaseSummaryRequest forgets a claim so a failed request can be retried.
func (s *SQLiteStore) ReleaseSummaryRequest(sessionID, promptHash string) error {
	if _, err := s.db.Exec(
		`DELETE FROM summary_requests WHERE session_id = ? AND prompt_hash = ?`,
		sessionID, promptHash,
	); err != nil {
		return fmt.Errorf("release summary request for session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteSession removes a session and everything cataloged under it.
func (s *SQLiteStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM summary_requests WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete summary requests for session %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("purge catalog: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"summary_requests", "segments", "runs", "captures", "sessions"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var (
		rec       SessionRecord
		startedAt string
		endedAt   sql.NullString
	)
	if err := row.Scan(&rec.ID, &startedAt, &endedAt, &rec.State, &rec.NotifyTarget,
		&rec.Summary, &rec.SummaryStatus, &rec.TranscriptPath, &rec.SummaryPath); err != nil {
		return SessionRecord{}, err
	}

	parsedStart, err := parseTime(startedAt)
	if err != nil {
		return SessionRecord{}, err
	}
	rec.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := parseTime(endedAt.String)
		if err != nil {
			return SessionRecord{}, err
		}
		rec.EndedAt = &parsedEnd
	}
	return rec, nil
}

func expectRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
