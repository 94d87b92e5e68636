package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chouzz/llm-interceptor/internal/jsonl"
	"github.com/chouzz/llm-interceptor/internal/record"
	"github.com/chouzz/llm-interceptor/internal/store"
)

// setupEngine builds an engine over an in-memory index holding four
// records: two anthropic (one streamed), one openai that rate-limited
// after 45 seconds, and one from an unrecognized host that returned an
// empty body.
func setupEngine(t *testing.T) *Engine {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})

	path := filepath.Join(t.TempDir(), "merged.jsonl")
	w, err := jsonl.NewWriter(path, false)
	if err != nil {
		t.Fatalf("failed to open writer: %v", err)
	}
	records := []record.Merged{
		{
			RequestID:      "req-1",
			Timestamp:      time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
			Method:         "POST",
			URL:            "https://api.anthropic.com/v1/messages",
			ResponseStatus: 200,
			ResponseText:   "hello world",
			ToolCalls: []record.ToolCall{
				{ID: "toolu_01", Name: "get_weather"},
				{ID: "toolu_02", Name: "search"},
			},
			TotalLatencyMS: 1500,
			ChunkCount:     10,
		},
		{
			RequestID:      "req-2",
			Timestamp:      time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
			Method:         "POST",
			URL:            "https://api.anthropic.com/v1/messages",
			ResponseStatus: 200,
			ResponseText:   "ok",
			ToolCalls: []record.ToolCall{
				{ID: "toolu_03", Name: "get_weather"},
			},
			TotalLatencyMS: 800,
			ChunkCount:     0,
		},
		{
			RequestID:      "req-3",
			Timestamp:      time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC),
			Method:         "POST",
			URL:            "https://api.openai.com/v1/chat/completions",
			ResponseStatus: 429,
			ResponseText:   "",
			TotalLatencyMS: 45000,
			ChunkCount:     3,
		},
		{
			RequestID:      "req-4",
			Timestamp:      time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC),
			Method:         "POST",
			URL:            "https://example.com/v1/complete",
			ResponseStatus: 200,
			ResponseText:   "",
			TotalLatencyMS: 10,
			ChunkCount:     0,
		},
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatalf("failed to write record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	if _, err := st.ImportRecords(context.Background(), path); err != nil {
		t.Fatalf("ImportRecords failed: %v", err)
	}

	return NewEngine(st.DB())
}

func TestGetOverallStats(t *testing.T) {
	engine := setupEngine(t)

	stats, err := engine.GetOverallStats(context.Background())
	if err != nil {
		t.Fatalf("GetOverallStats failed: %v", err)
	}

	if stats.TotalRecords != 4 {
		t.Errorf("TotalRecords = %d, want 4", stats.TotalRecords)
	}
	if stats.StreamingRecords != 2 {
		t.Errorf("StreamingRecords = %d, want 2", stats.StreamingRecords)
	}
	if stats.StreamingShare != 50 {
		t.Errorf("StreamingShare = %v, want 50", stats.StreamingShare)
	}
	if stats.TotalChunks != 13 {
		t.Errorf("TotalChunks = %d, want 13", stats.TotalChunks)
	}
	if stats.TotalToolCalls != 3 {
		t.Errorf("TotalToolCalls = %d, want 3", stats.TotalToolCalls)
	}
	if stats.AvgLatencyMS != 11827.5 {
		t.Errorf("AvgLatencyMS = %v, want 11827.5", stats.AvgLatencyMS)
	}
	if stats.MaxLatencyMS != 45000 {
		t.Errorf("MaxLatencyMS = %v, want 45000", stats.MaxLatencyMS)
	}
	if got := stats.FirstSeen.Format("2006-01-02"); got != "2026-08-20" {
		t.Errorf("FirstSeen = %s, want 2026-08-20", got)
	}
	if got := stats.LastSeen.Format("2006-01-02"); got != "2026-08-21" {
		t.Errorf("LastSeen = %s, want 2026-08-21", got)
	}
}

func TestGetOverallStatsEmptyIndex(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})

	stats, err := NewEngine(st.DB()).GetOverallStats(context.Background())
	if err != nil {
		t.Fatalf("GetOverallStats failed: %v", err)
	}
	if stats.TotalRecords != 0 {
		t.Errorf("TotalRecords = %d, want 0", stats.TotalRecords)
	}
	if stats.StreamingShare != 0 {
		t.Errorf("StreamingShare = %v, want 0", stats.StreamingShare)
	}
	if !stats.FirstSeen.IsZero() {
		t.Errorf("FirstSeen = %v, want zero", stats.FirstSeen)
	}
}

func TestGetVolumeByDay(t *testing.T) {
	engine := setupEngine(t)

	buckets, err := engine.GetVolumeByDay(context.Background())
	if err != nil {
		t.Fatalf("GetVolumeByDay failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("len(buckets) = %d, want 2", len(buckets))
	}
	if buckets[0].Key != "2026-08-20" || buckets[0].Records != 2 {
		t.Errorf("buckets[0] = %s/%d, want 2026-08-20/2", buckets[0].Key, buckets[0].Records)
	}
	if buckets[1].Key != "2026-08-21" || buckets[1].Records != 2 {
		t.Errorf("buckets[1] = %s/%d, want 2026-08-21/2", buckets[1].Key, buckets[1].Records)
	}
	if buckets[0].Streaming != 1 {
		t.Errorf("buckets[0].Streaming = %d, want 1", buckets[0].Streaming)
	}
	if buckets[0].Chunks != 10 {
		t.Errorf("buckets[0].Chunks = %d, want 10", buckets[0].Chunks)
	}
}

func TestGetVolumeByProvider(t *testing.T) {
	engine := setupEngine(t)

	buckets, err := engine.GetVolumeByProvider(context.Background())
	if err != nil {
		t.Fatalf("GetVolumeByProvider failed: %v", err)
	}

	byKey := make(map[string]int)
	for _, b := range buckets {
		byKey[b.Key] = b.Records
	}
	want := map[string]int{"anthropic": 2, "openai": 1, "unknown": 1}
	for key, records := range want {
		if byKey[key] != records {
			t.Errorf("records[%s] = %d, want %d", key, byKey[key], records)
		}
	}
	if len(buckets) != 3 {
		t.Errorf("len(buckets) = %d, want 3", len(buckets))
	}
	if buckets[0].Key != "anthropic" {
		t.Errorf("buckets[0].Key = %s, want anthropic", buckets[0].Key)
	}
}

func TestGetVolumeByStatus(t *testing.T) {
	engine := setupEngine(t)

	buckets, err := engine.GetVolumeByStatus(context.Background())
	if err != nil {
		t.Fatalf("GetVolumeByStatus failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("len(buckets) = %d, want 2", len(buckets))
	}
	if buckets[0].Key != "200" || buckets[0].Records != 3 {
		t.Errorf("buckets[0] = %s/%d, want 200/3", buckets[0].Key, buckets[0].Records)
	}
	if buckets[1].Key != "429" || buckets[1].Records != 1 {
		t.Errorf("buckets[1] = %s/%d, want 429/1", buckets[1].Key, buckets[1].Records)
	}
}

func TestGetToolUsage(t *testing.T) {
	engine := setupEngine(t)

	usage, err := engine.GetToolUsage(context.Background())
	if err != nil {
		t.Fatalf("GetToolUsage failed: %v", err)
	}
	if len(usage) != 2 {
		t.Fatalf("len(usage) = %d, want 2", len(usage))
	}
	if usage[0].Name != "get_weather" || usage[0].Invocations != 2 || usage[0].Records != 2 {
		t.Errorf("usage[0] = %+v, want get_weather with 2 invocations in 2 records", usage[0])
	}
	if usage[1].Name != "search" || usage[1].Invocations != 1 {
		t.Errorf("usage[1] = %+v, want search with 1 invocation", usage[1])
	}
}

func TestDetectAnomalies(t *testing.T) {
	engine := setupEngine(t)

	anomalies, err := engine.DetectAnomalies(context.Background(), nil)
	if err != nil {
		t.Fatalf("DetectAnomalies failed: %v", err)
	}

	byType := make(map[AnomalyType][]*Anomaly)
	for _, a := range anomalies {
		byType[a.Type] = append(byType[a.Type], a)
	}

	slow := byType[AnomalySlowResponse]
	if len(slow) != 1 || slow[0].RequestID != "req-3" {
		t.Errorf("slow_response = %+v, want one for req-3", slow)
	}

	// req-3 also has no text, but a 429 is not an empty success.
	empty := byType[AnomalyEmptyResponse]
	if len(empty) != 1 || empty[0].RequestID != "req-4" {
		t.Errorf("empty_response = %+v, want one for req-4", empty)
	}

	errs := byType[AnomalyErrorStatus]
	if len(errs) != 1 || errs[0].RequestID != "req-3" {
		t.Errorf("error_status = %+v, want one for req-3", errs)
	}
	if len(errs) == 1 && errs[0].Value != 429 {
		t.Errorf("error_status value = %v, want 429", errs[0].Value)
	}

	if len(byType[AnomalyLongStream]) != 0 {
		t.Errorf("long_stream = %+v, want none", byType[AnomalyLongStream])
	}
}

func TestDetectAnomaliesCustomThresholds(t *testing.T) {
	engine := setupEngine(t)

	anomalies, err := engine.DetectAnomalies(context.Background(), &AnomalyThresholds{
		SlowLatencyMS:    500,
		LongStreamChunks: 5,
	})
	if err != nil {
		t.Fatalf("DetectAnomalies failed: %v", err)
	}

	var slow, long int
	for _, a := range anomalies {
		switch a.Type {
		case AnomalySlowResponse:
			slow++
		case AnomalyLongStream:
			long++
		}
	}
	if slow != 3 {
		t.Errorf("slow_response count = %d, want 3", slow)
	}
	if long != 1 {
		t.Errorf("long_stream count = %d, want 1", long)
	}
}
