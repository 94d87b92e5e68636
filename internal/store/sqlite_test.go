package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chouzz/llm-interceptor/internal/jsonl"
	"github.com/chouzz/llm-interceptor/internal/record"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// setupTestDBFile creates a file-based SQLite database for testing
func setupTestDBFile(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store, dbPath
}

// writeMerged writes merged records to a JSONL file and returns its path.
func writeMerged(t *testing.T, records ...record.Merged) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "merged.jsonl")
	w, err := jsonl.NewWriter(path, false)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatalf("failed to write record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return path
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("in-memory database", func(t *testing.T) {
		store := setupTestDB(t)
		if store == nil {
			t.Fatal("store is nil")
		}
		if store.db == nil {
			t.Fatal("db connection is nil")
		}
	})

	t.Run("file database", func(t *testing.T) {
		_, dbPath := setupTestDBFile(t)
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Errorf("database file not created at %s", dbPath)
		}
	})

	t.Run("schema version created", func(t *testing.T) {
		store := setupTestDB(t)
		var version int
		err := store.db.QueryRow("SELECT version FROM schema_version WHERE id = 1").Scan(&version)
		if err != nil {
			t.Fatalf("failed to query schema version: %v", err)
		}
		if version < 1 {
			t.Errorf("schema version = %d, want >= 1", version)
		}
	})

	t.Run("tables created", func(t *testing.T) {
		store := setupTestDB(t)
		for _, table := range []string{"records", "tool_calls"} {
			var name string
			err := store.db.QueryRow(
				"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
			).Scan(&name)
			if err != nil {
				t.Errorf("table %s not found: %v", table, err)
			}
		}
	})
}

func TestImportRecords(t *testing.T) {
	t.Parallel()
	store := setupTestDB(t)
	ctx := context.Background()

	path := writeMerged(t,
		record.Merged{
			RequestID:      "req-streaming",
			Timestamp:      time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
			Method:         "POST",
			URL:            "https://api.anthropic.com/v1/messages",
			ResponseStatus: 200,
			ResponseText:   "héllo wörld",
			ToolCalls: []record.ToolCall{
				{ID: "toolu_01", Name: "get_weather", Input: map[string]any{"city": "Berlin"}},
			},
			TotalLatencyMS: 1234.5,
			ChunkCount:     7,
		},
		record.Merged{
			RequestID:      "req-plain",
			Timestamp:      time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC),
			Method:         "POST",
			URL:            "https://example.com/v1/complete",
			ResponseStatus: 429,
			ResponseText:   "rate limited",
			TotalLatencyMS: 12.0,
			ChunkCount:     0,
		},
	)

	stats, err := store.ImportRecords(ctx, path)
	if err != nil {
		t.Fatalf("ImportRecords failed: %v", err)
	}
	if stats.Records != 2 {
		t.Errorf("Records = %d, want 2", stats.Records)
	}
	if stats.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", stats.ToolCalls)
	}
	if stats.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", stats.Skipped)
	}

	got, err := store.GetRecord(ctx, "req-streaming")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Host != "api.anthropic.com" {
		t.Errorf("Host = %q, want %q", got.Host, "api.anthropic.com")
	}
	if got.Provider != "anthropic" {
		t.Errorf("Provider = %q, want %q", got.Provider, "anthropic")
	}
	if !got.Streaming {
		t.Error("Streaming = false, want true")
	}
	if got.Status != 200 {
		t.Errorf("Status = %d, want 200", got.Status)
	}
	// "héllo wörld" is 11 runes, 13 bytes.
	if got.ResponseChars != 11 {
		t.Errorf("ResponseChars = %d, want 11", got.ResponseChars)
	}
	if got.LatencyMS != 1234.5 {
		t.Errorf("LatencyMS = %v, want 1234.5", got.LatencyMS)
	}
	if got.ChunkCount != 7 {
		t.Errorf("ChunkCount = %d, want 7", got.ChunkCount)
	}

	calls, err := store.ToolCallsByRecord(ctx, "req-streaming")
	if err != nil {
		t.Fatalf("ToolCallsByRecord failed: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	if calls[0].Name != "get_weather" {
		t.Errorf("Name = %q, want %q", calls[0].Name, "get_weather")
	}
	if calls[0].ToolID != "toolu_01" {
		t.Errorf("ToolID = %q, want %q", calls[0].ToolID, "toolu_01")
	}
	if calls[0].Input != `{"city":"Berlin"}` {
		t.Errorf("Input = %q, want %q", calls[0].Input, `{"city":"Berlin"}`)
	}

	plain, err := store.GetRecord(ctx, "req-plain")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if plain.Streaming {
		t.Error("Streaming = true, want false")
	}
	if plain.Provider != "" {
		t.Errorf("Provider = %q, want empty", plain.Provider)
	}
	if plain.Host != "example.com" {
		t.Errorf("Host = %q, want %q", plain.Host, "example.com")
	}
}

func TestImportRecordsSkipsBadLines(t *testing.T) {
	t.Parallel()
	store := setupTestDB(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "merged.jsonl")
	content := `{"request_id": "req-ok", "timestamp": "2026-08-20T10:00:00Z", "method": "POST", "url": "https://api.anthropic.com/v1/messages", "response_status": 200, "response_text": "ok", "total_latency_ms": 5, "chunk_count": 2}
this line is not json
{"request_id": "", "method": "POST"}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	stats, err := store.ImportRecords(ctx, path)
	if err != nil {
		t.Fatalf("ImportRecords failed: %v", err)
	}
	if stats.Records != 1 {
		t.Errorf("Records = %d, want 1", stats.Records)
	}
	if stats.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", stats.Skipped)
	}
}

func TestImportRecordsIdempotent(t *testing.T) {
	t.Parallel()
	store := setupTestDB(t)
	ctx := context.Background()

	rec := record.Merged{
		RequestID:      "req-1",
		Timestamp:      time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Method:         "POST",
		URL:            "https://api.anthropic.com/v1/messages",
		ResponseStatus: 200,
		ResponseText:   "first",
		ToolCalls: []record.ToolCall{
			{ID: "toolu_01", Name: "search", Input: map[string]any{"q": "go"}},
		},
		ChunkCount: 3,
	}

	if _, err := store.ImportRecords(ctx, writeMerged(t, rec)); err != nil {
		t.Fatalf("first import failed: %v", err)
	}

	// Re-import with updated fields; rows must be replaced, not duplicated.
	rec.ResponseStatus = 500
	rec.ResponseText = "second pass"
	rec.ToolCalls = []record.ToolCall{
		{ID: "toolu_02", Name: "fetch", Input: map[string]any{"url": "https://example.com"}},
	}
	if _, err := store.ImportRecords(ctx, writeMerged(t, rec)); err != nil {
		t.Fatalf("second import failed: %v", err)
	}

	count, err := store.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords failed: %v", err)
	}
	if count != 1 {
		t.Errorf("CountRecords = %d, want 1", count)
	}

	got, err := store.GetRecord(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Status != 500 {
		t.Errorf("Status = %d, want 500", got.Status)
	}

	calls, err := store.ToolCallsByRecord(ctx, "req-1")
	if err != nil {
		t.Fatalf("ToolCallsByRecord failed: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	if calls[0].Name != "fetch" {
		t.Errorf("Name = %q, want %q", calls[0].Name, "fetch")
	}
}

func TestListRecords(t *testing.T) {
	t.Parallel()
	store := setupTestDB(t)
	ctx := context.Background()

	path := writeMerged(t,
		record.Merged{
			RequestID:  "req-a",
			Timestamp:  time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
			Method:     "POST",
			URL:        "https://api.anthropic.com/v1/messages",
			ChunkCount: 4,
		},
		record.Merged{
			RequestID:  "req-b",
			Timestamp:  time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC),
			Method:     "POST",
			URL:        "https://api.openai.com/v1/chat/completions",
			ChunkCount: 0,
		},
		record.Merged{
			RequestID:  "req-c",
			Timestamp:  time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
			Method:     "POST",
			URL:        "https://api.anthropic.com/v1/messages",
			ChunkCount: 0,
		},
	)
	if _, err := store.ImportRecords(ctx, path); err != nil {
		t.Fatalf("ImportRecords failed: %v", err)
	}

	t.Run("newest first", func(t *testing.T) {
		records, err := store.ListRecords(ctx, RecordFilter{})
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("len(records) = %d, want 3", len(records))
		}
		if records[0].RequestID != "req-c" {
			t.Errorf("records[0].RequestID = %q, want %q", records[0].RequestID, "req-c")
		}
	})

	t.Run("filter by host", func(t *testing.T) {
		host := "api.anthropic.com"
		records, err := store.ListRecords(ctx, RecordFilter{Host: &host})
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(records) != 2 {
			t.Errorf("len(records) = %d, want 2", len(records))
		}
	})

	t.Run("filter by provider", func(t *testing.T) {
		prov := "openai"
		records, err := store.ListRecords(ctx, RecordFilter{Provider: &prov})
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("len(records) = %d, want 1", len(records))
		}
		if records[0].RequestID != "req-b" {
			t.Errorf("RequestID = %q, want %q", records[0].RequestID, "req-b")
		}
	})

	t.Run("filter by streaming", func(t *testing.T) {
		streaming := true
		records, err := store.ListRecords(ctx, RecordFilter{Streaming: &streaming})
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("len(records) = %d, want 1", len(records))
		}
		if records[0].RequestID != "req-a" {
			t.Errorf("RequestID = %q, want %q", records[0].RequestID, "req-a")
		}
	})

	t.Run("time range", func(t *testing.T) {
		start := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
		end := time.Date(2026, 8, 20, 11, 30, 0, 0, time.UTC)
		records, err := store.ListRecords(ctx, RecordFilter{StartTime: &start, EndTime: &end})
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("len(records) = %d, want 1", len(records))
		}
		if records[0].RequestID != "req-b" {
			t.Errorf("RequestID = %q, want %q", records[0].RequestID, "req-b")
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		records, err := store.ListRecords(ctx, RecordFilter{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("len(records) = %d, want 1", len(records))
		}
		if records[0].RequestID != "req-b" {
			t.Errorf("RequestID = %q, want %q", records[0].RequestID, "req-b")
		}
	})
}

func TestGetRecordMissing(t *testing.T) {
	t.Parallel()
	store := setupTestDB(t)

	_, err := store.GetRecord(context.Background(), "no-such-record")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetRecord error = %v, want sql.ErrNoRows", err)
	}
}

func TestDeleteRecordCascadesToolCalls(t *testing.T) {
	t.Parallel()
	store := setupTestDB(t)
	ctx := context.Background()

	rec := record.Merged{
		RequestID: "req-del",
		Timestamp: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Method:    "POST",
		URL:       "https://api.anthropic.com/v1/messages",
		ToolCalls: []record.ToolCall{
			{ID: "toolu_01", Name: "search"},
		},
	}
	if _, err := store.ImportRecords(ctx, writeMerged(t, rec)); err != nil {
		t.Fatalf("ImportRecords failed: %v", err)
	}

	if err := store.DeleteRecord(ctx, "req-del"); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}

	if _, err := store.GetRecord(ctx, "req-del"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetRecord error = %v, want sql.ErrNoRows", err)
	}

	calls, err := store.ToolCallsByRecord(ctx, "req-del")
	if err != nil {
		t.Fatalf("ToolCallsByRecord failed: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("len(calls) = %d, want 0", len(calls))
	}
}
