// Package store indexes merged records in SQLite for querying and
// analytics.
package store

import "time"

// IndexedRecord is one merged exchange as stored in the records table.
// ResponseChars counts runes of the reconstructed response text, not
// bytes.
type IndexedRecord struct {
	RequestID     string
	Timestamp     time.Time
	Method        string
	URL           string
	Host          string
	Provider      string
	Status        int
	ResponseChars int
	LatencyMS     float64
	ChunkCount    int
	Streaming     bool
	CreatedAt     time.Time
}

// ToolCallRow is one reconstructed tool invocation belonging to a
// record. Input holds the argument object re-serialized as JSON, or is
// empty when the invocation carried none.
type ToolCallRow struct {
	RequestID string
	Position  int
	ToolID    string
	Name      string
	Input     string
}

// RecordFilter defines filter criteria for record queries.
type RecordFilter struct {
	Host      *string
	Provider  *string
	Streaming *bool
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// ImportStats summarizes one import pass.
type ImportStats struct {
	Records   int
	ToolCalls int
	Skipped   int
}
