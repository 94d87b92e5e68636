package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chouzz/llm-interceptor/internal/jsonl"
	"github.com/chouzz/llm-interceptor/internal/provider"
	"github.com/chouzz/llm-interceptor/internal/record"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists indexed records in a SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	providers *provider.Registry
}

// Open opens or creates the database at dbPath and brings its schema up
// to date.
func Open(dbPath string) (*SQLiteStore, error) {
	// Open database with WAL mode and recommended pragmas
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Force a connection to ensure the file is created
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Enable foreign keys for CASCADE behavior
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Indexed records may contain request URLs and tool arguments, so
	// the file gets the same owner-only permissions as the capture
	// files. Best effort; Windows ACLs work differently.
	_ = setSecureFilePermissions(dbPath)

	// Set connection pool (SQLite with WAL can handle some concurrency)
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{
		db:        db,
		providers: provider.NewRegistry(),
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func setSecureFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", path, err)
	}

	// Also try to set permissions on WAL and SHM files if they exist
	os.Chmod(path+"-wal", 0600)
	os.Chmod(path+"-shm", 0600)

	return nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	// Check current version
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version WHERE id = 1").Scan(&version)
	if err != nil {
		// Table doesn't exist, create it
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				version INTEGER NOT NULL,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
			INSERT OR IGNORE INTO schema_version (id, version) VALUES (1, 0);
		`); err != nil {
			return fmt.Errorf("creating schema_version: %w", err)
		}
		version = 0
	}

	migrations := []string{
		migrationV1, // Initial schema
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("UPDATE schema_version SET version = ?, applied_at = datetime('now') WHERE id = 1", i+1); err != nil {
			return fmt.Errorf("updating version to %d: %w", i+1, err)
		}
	}

	return nil
}

const migrationV1 = `
-- Records table
CREATE TABLE IF NOT EXISTS records (
	request_id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	method TEXT NOT NULL,
	url TEXT NOT NULL,
	host TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	status INTEGER NOT NULL DEFAULT 0,
	response_chars INTEGER NOT NULL DEFAULT 0,
	latency_ms REAL NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	streaming INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Tool calls table
CREATE TABLE IF NOT EXISTS tool_calls (
	request_id TEXT NOT NULL REFERENCES records(request_id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	tool_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	input TEXT,
	PRIMARY KEY (request_id, position)
);

-- Record indexes
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_records_host_timestamp ON records(host, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_records_provider ON records(provider, timestamp);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);

-- Tool call indexes
CREATE INDEX IF NOT EXISTS idx_tool_calls_name ON tool_calls(name);
`

// ImportRecords reads a merged JSONL file and upserts every record into
// the index. Re-importing a file replaces the rows for the records it
// contains, so repeated imports stay idempotent. Lines that fail to
// decode or carry no request id are counted as skipped.
func (s *SQLiteStore) ImportRecords(ctx context.Context, path string) (*ImportStats, error) {
	lines, err := jsonl.ReadLines(path)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stats := &ImportStats{}
	for _, line := range lines {
		var m record.Merged
		if err := json.Unmarshal(line, &m); err != nil || m.RequestID == "" {
			stats.Skipped++
			continue
		}
		n, err := s.upsertRecord(ctx, tx, &m)
		if err != nil {
			return nil, fmt.Errorf("importing record %s: %w", m.RequestID, err)
		}
		stats.Records++
		stats.ToolCalls += n
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stats, nil
}

// upsertRecord writes one merged record and its tool calls, replacing
// any earlier import of the same request id.
func (s *SQLiteStore) upsertRecord(ctx context.Context, tx *sql.Tx, m *record.Merged) (int, error) {
	host := provider.HostFromURL(m.URL)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO records (
			request_id, timestamp, method, url, host, provider,
			status, response_chars, latency_ms, chunk_count, streaming
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			timestamp = excluded.timestamp,
			method = excluded.method,
			url = excluded.url,
			host = excluded.host,
			provider = excluded.provider,
			status = excluded.status,
			response_chars = excluded.response_chars,
			latency_ms = excluded.latency_ms,
			chunk_count = excluded.chunk_count,
			streaming = excluded.streaming
	`,
		m.RequestID, m.Timestamp.Format(time.RFC3339Nano), m.Method, m.URL,
		host, s.providers.DetectURL(m.URL),
		m.ResponseStatus, utf8.RuneCountInString(m.ResponseText),
		m.TotalLatencyMS, m.ChunkCount, m.ChunkCount > 0,
	)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM tool_calls WHERE request_id = ?", m.RequestID); err != nil {
		return 0, err
	}

	for i, tc := range m.ToolCalls {
		var input any
		if tc.Input != nil {
			data, err := json.Marshal(tc.Input)
			if err != nil {
				return 0, fmt.Errorf("encoding tool input: %w", err)
			}
			input = string(data)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tool_calls (request_id, position, tool_id, name, input)
			VALUES (?, ?, ?, ?, ?)
		`, m.RequestID, i, tc.ID, tc.Name, input)
		if err != nil {
			return 0, err
		}
	}

	return len(m.ToolCalls), nil
}

// GetRecord retrieves a record by request id.
func (s *SQLiteStore) GetRecord(ctx context.Context, requestID string) (*IndexedRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, timestamp, method, url, host, provider,
			status, response_chars, latency_ms, chunk_count, streaming, created_at
		FROM records WHERE request_id = ?
	`, requestID)
	return scanRecord(row)
}

// ListRecords returns records matching the filter, newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*IndexedRecord, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT request_id, timestamp, method, url, host, provider,
			status, response_chars, latency_ms, chunk_count, streaming, created_at
		FROM records WHERE 1=1
	`)

	args := []any{}

	if filter.Host != nil {
		query.WriteString(" AND host = ?")
		args = append(args, *filter.Host)
	}
	if filter.Provider != nil {
		query.WriteString(" AND provider = ?")
		args = append(args, *filter.Provider)
	}
	if filter.Streaming != nil {
		query.WriteString(" AND streaming = ?")
		args = append(args, *filter.Streaming)
	}
	if filter.StartTime != nil {
		query.WriteString(" AND timestamp >= ?")
		args = append(args, filter.StartTime.Format(time.RFC3339Nano))
	}
	if filter.EndTime != nil {
		query.WriteString(" AND timestamp <= ?")
		args = append(args, filter.EndTime.Format(time.RFC3339Nano))
	}

	query.WriteString(" ORDER BY timestamp DESC")

	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query.WriteString(" OFFSET ?")
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*IndexedRecord
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountRecords returns the total number of indexed records.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count)
	return count, err
}

// ToolCallsByRecord returns the tool calls for a record in position
// order.
func (s *SQLiteStore) ToolCallsByRecord(ctx context.Context, requestID string) ([]ToolCallRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, position, tool_id, name, input
		FROM tool_calls WHERE request_id = ? ORDER BY position
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []ToolCallRow
	for rows.Next() {
		var tc ToolCallRow
		var input sql.NullString
		if err := rows.Scan(&tc.RequestID, &tc.Position, &tc.ToolID, &tc.Name, &input); err != nil {
			return nil, err
		}
		if input.Valid {
			tc.Input = input.String
		}
		calls = append(calls, tc)
	}

	return calls, rows.Err()
}

// DeleteRecord deletes a record and its tool calls.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE request_id = ?", requestID)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for analytics queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func scanRecord(row *sql.Row) (*IndexedRecord, error) {
	var rec IndexedRecord
	var ts, createdAt string

	err := row.Scan(
		&rec.RequestID, &ts, &rec.Method, &rec.URL, &rec.Host, &rec.Provider,
		&rec.Status, &rec.ResponseChars, &rec.LatencyMS, &rec.ChunkCount,
		&rec.Streaming, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}

func scanRecordRows(rows *sql.Rows) (*IndexedRecord, error) {
	var rec IndexedRecord
	var ts, createdAt string

	err := rows.Scan(
		&rec.RequestID, &ts, &rec.Method, &rec.URL, &rec.Host, &rec.Provider,
		&rec.Status, &rec.ResponseChars, &rec.LatencyMS, &rec.ChunkCount,
		&rec.Streaming, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}
