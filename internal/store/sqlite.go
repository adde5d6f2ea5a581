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
	"sync"
	"time"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/shared"
	_ "modernc.org/sqlite"
)

// DefaultListLimit caps ListCalls when no limit is given.
const DefaultListLimit = 100

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS calls (
		id TEXT PRIMARY KEY,
		connection_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		transcript_count INTEGER NOT NULL DEFAULT 0,
		suggestion_count INTEGER NOT NULL DEFAULT 0,
		final_stage TEXT,
		record_json TEXT NOT NULL,
		analysis_json TEXT,
		analyzed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_calls_started ON calls(started_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveCall creates or replaces the record of a call.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) SaveCall(ctx context.Context, call *domain.Call) error {
	record, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("marshal call %s: %w", call.ID, err)
	}

	var analysis, analyzedAt, endedAt any
	if call.Analysis != nil {
		b, err := json.Marshal(call.Analysis)
		if err != nil {
			return fmt.Errorf("marshal analysis %s: %w", call.ID, err)
		}
		analysis = string(b)
	}
	if call.AnalyzedAt != nil {
		analyzedAt = call.AnalyzedAt.Unix()
	}
	if call.EndedAt != nil {
		endedAt = call.EndedAt.Unix()
	}

	query := `
	INSERT INTO calls (
		id, connection_id, status, started_at, ended_at,
		transcript_count, suggestion_count, final_stage,
		record_json, analysis_json, analyzed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		ended_at = excluded.ended_at,
		transcript_count = excluded.transcript_count,
		suggestion_count = excluded.suggestion_count,
		final_stage = excluded.final_stage,
		record_json = excluded.record_json,
		analysis_json = COALESCE(excluded.analysis_json, calls.analysis_json),
		analyzed_at = COALESCE(excluded.analyzed_at, calls.analyzed_at)`

	return shared.RetryOnConflict(ctx, "save call "+call.ID, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			call.ID, call.ConnectionID, string(call.Status), call.StartedAt.Unix(), endedAt,
			len(call.Transcripts), len(call.Suggestions), string(call.Stage.Stage),
			string(record), analysis, analyzedAt,
		)
		return err
	})
}

// GetCall retrieves a call by id.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*domain.Call, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record_json, analysis_json, analyzed_at FROM calls WHERE id = ?`, id)

	var record string
	var analysisJSON sql.NullString
	var analyzedAt sql.NullInt64
	err := row.Scan(&record, &analysisJSON, &analyzedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan call row: %w", err)
	}

	var call domain.Call
	if err := json.Unmarshal([]byte(record), &call); err != nil {
		return nil, fmt.Errorf("decode call %s: %w", id, err)
	}
	if analysisJSON.Valid {
		var analysis domain.CallAnalysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err != nil {
			return nil, fmt.Errorf("decode analysis %s: %w", id, err)
		}
		call.Analysis = &analysis
	}
	if analyzedAt.Valid {
		ts := time.Unix(analyzedAt.Int64, 0)
		call.AnalyzedAt = &ts
	}
	return &call, nil
}

// ListCalls returns summaries of saved calls, most recent first.
func (s *SQLiteStore) ListCalls(ctx context.Context, limit int) ([]domain.CallSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT id, started_at, ended_at, transcript_count, suggestion_count,
		       final_stage, analysis_json IS NOT NULL
		FROM calls ORDER BY started_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close calls rows", "error", closeErr)
		}
	}()

	summaries := []domain.CallSummary{}
	for rows.Next() {
		var sum domain.CallSummary
		var startedAt int64
		var endedAt sql.NullInt64
		var finalStage sql.NullString

		if err := rows.Scan(
			&sum.ID, &startedAt, &endedAt, &sum.TranscriptCount, &sum.SuggestionCount,
			&finalStage, &sum.Analyzed,
		); err != nil {
			return nil, fmt.Errorf("scan call summary: %w", err)
		}
		sum.StartedAt = time.Unix(startedAt, 0)
		if endedAt.Valid {
			ts := time.Unix(endedAt.Int64, 0)
			sum.EndedAt = &ts
		}
		sum.FinalStage = domain.Stage(finalStage.String)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return summaries, nil
}

// DeleteCall removes a call record.
func (s *SQLiteStore) DeleteCall(ctx context.Context, id string) error {
	var rows int64
	err := shared.RetryOnConflict(ctx, "delete call "+id, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		res, err := s.db.ExecContext(ctx, `DELETE FROM calls WHERE id = ?`, id)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAnalysis attaches a post-call analysis to a saved call.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, id string, analysis domain.CallAnalysis) error {
	b, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis %s: %w", id, err)
	}

	var rows int64
	err = shared.RetryOnConflict(ctx, "save analysis "+id, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		res, err := s.db.ExecContext(ctx,
			`UPDATE calls SET analysis_json = ?, analyzed_at = ? WHERE id = ?`,
			string(b), time.Now().Unix(), id)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.Warn("SaveAnalysis affected 0 rows", "call_id", id)
		return ErrNotFound
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
