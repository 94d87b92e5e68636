// Package analytics aggregates indexed records into usage summaries.
package analytics

import (
	"context"
	"database/sql"
	"time"
)

// Engine runs aggregation queries against a record index.
type Engine struct {
	db *sql.DB
}

// NewEngine creates a new analytics engine.
func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// OverallStats represents summary statistics for the whole index.
type OverallStats struct {
	TotalRecords     int
	StreamingRecords int
	StreamingShare   float64 // percent of records that streamed
	TotalChunks      int
	TotalToolCalls   int
	AvgLatencyMS     float64
	MaxLatencyMS     float64
	FirstSeen        time.Time
	LastSeen         time.Time
}

// GetOverallStats returns summary statistics across all indexed records.
func (e *Engine) GetOverallStats(ctx context.Context) (*OverallStats, error) {
	var stats OverallStats
	var firstSeen, lastSeen sql.NullString

	row := e.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as total_records,
			COALESCE(SUM(streaming), 0) as streaming_records,
			COALESCE(SUM(chunk_count), 0) as total_chunks,
			COALESCE(AVG(latency_ms), 0) as avg_latency,
			COALESCE(MAX(latency_ms), 0) as max_latency,
			MIN(timestamp) as first_seen,
			MAX(timestamp) as last_seen
		FROM records
	`)

	err := row.Scan(
		&stats.TotalRecords,
		&stats.StreamingRecords,
		&stats.TotalChunks,
		&stats.AvgLatencyMS,
		&stats.MaxLatencyMS,
		&firstSeen,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	row = e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tool_calls")
	_ = row.Scan(&stats.TotalToolCalls)

	if stats.TotalRecords > 0 {
		stats.StreamingShare = float64(stats.StreamingRecords) / float64(stats.TotalRecords) * 100
	}
	if firstSeen.Valid {
		stats.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen.String)
	}
	if lastSeen.Valid {
		stats.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen.String)
	}

	return &stats, nil
}

// VolumeBucket represents record volume aggregated by one grouping key:
// a day, a provider name, or a status code.
type VolumeBucket struct {
	Key          string
	Records      int
	Streaming    int
	Chunks       int
	AvgLatencyMS float64
}

// GetVolumeByDay returns a daily record volume breakdown.
func (e *Engine) GetVolumeByDay(ctx context.Context) ([]*VolumeBucket, error) {
	return e.volumeBy(ctx, `
		SELECT
			date(timestamp) as bucket,
			COUNT(*) as records,
			COALESCE(SUM(streaming), 0) as streaming,
			COALESCE(SUM(chunk_count), 0) as chunks,
			COALESCE(AVG(latency_ms), 0) as avg_latency
		FROM records
		GROUP BY date(timestamp)
		ORDER BY bucket
	`)
}

// GetVolumeByProvider returns record volume per detected provider.
// Records whose host matched no known provider fall under "unknown".
func (e *Engine) GetVolumeByProvider(ctx context.Context) ([]*VolumeBucket, error) {
	return e.volumeBy(ctx, `
		SELECT
			COALESCE(NULLIF(provider, ''), 'unknown') as bucket,
			COUNT(*) as records,
			COALESCE(SUM(streaming), 0) as streaming,
			COALESCE(SUM(chunk_count), 0) as chunks,
			COALESCE(AVG(latency_ms), 0) as avg_latency
		FROM records
		GROUP BY bucket
		ORDER BY records DESC
	`)
}

// GetVolumeByStatus returns record volume per response status code.
func (e *Engine) GetVolumeByStatus(ctx context.Context) ([]*VolumeBucket, error) {
	return e.volumeBy(ctx, `
		SELECT
			CAST(status AS TEXT) as bucket,
			COUNT(*) as records,
			COALESCE(SUM(streaming), 0) as streaming,
			COALESCE(SUM(chunk_count), 0) as chunks,
			COALESCE(AVG(latency_ms), 0) as avg_latency
		FROM records
		GROUP BY status
		ORDER BY records DESC
	`)
}

func (e *Engine) volumeBy(ctx context.Context, query string) ([]*VolumeBucket, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []*VolumeBucket
	for rows.Next() {
		var b VolumeBucket
		if err := rows.Scan(&b.Key, &b.Records, &b.Streaming, &b.Chunks, &b.AvgLatencyMS); err != nil {
			return nil, err
		}
		buckets = append(buckets, &b)
	}

	return buckets, rows.Err()
}

// ToolUsage represents invocation statistics for one tool.
type ToolUsage struct {
	Name        string
	Invocations int
	Records     int // distinct records that used the tool
}

// GetToolUsage returns tool invocation frequency, most used first.
func (e *Engine) GetToolUsage(ctx context.Context) ([]*ToolUsage, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT
			name,
			COUNT(*) as invocations,
			COUNT(DISTINCT request_id) as records
		FROM tool_calls
		GROUP BY name
		ORDER BY invocations DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usage []*ToolUsage
	for rows.Next() {
		var u ToolUsage
		if err := rows.Scan(&u.Name, &u.Invocations, &u.Records); err != nil {
			return nil, err
		}
		usage = append(usage, &u)
	}

	return usage, rows.Err()
}
