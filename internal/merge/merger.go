// Package merge reconstructs complete request-response records from raw
// capture event streams.
package merge

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/chouzz/llm-interceptor/internal/jsonl"
	"github.com/chouzz/llm-interceptor/internal/record"
)

// Stats summarizes one merge pass.
type Stats struct {
	TotalRequests        int `json:"total_requests"`
	StreamingRequests    int `json:"streaming_requests"`
	NonStreamingRequests int `json:"non_streaming_requests"`
	IncompleteRequests   int `json:"incomplete_requests"`
	TotalChunksProcessed int `json:"total_chunks_processed"`
}

// Merger aggregates streamed response chunks into complete records.
type Merger struct {
	logger *slog.Logger
}

// New returns a Merger that reports progress through logger.
func New(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{logger: logger}
}

// MergeFile reads capture events from inputPath and writes one merged
// record per completed exchange to outputPath. The input is read in
// full before the output file is touched, so a read failure leaves any
// existing output intact.
func (m *Merger) MergeFile(inputPath, outputPath string) (*Stats, error) {
	m.logger.Info("reading capture events", "path", inputPath)
	lines, err := jsonl.ReadLines(inputPath)
	if err != nil {
		return nil, err
	}

	records, stats := m.Merge(lines)

	m.logger.Info("writing merged records", "count", len(records), "path", outputPath)
	w, err := jsonl.NewWriter(outputPath, false)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", outputPath, err)
	}
	return stats, nil
}

// Merge groups raw capture lines by exchange and reduces each to a
// merged record. Requests keep their first-seen order; requests with no
// response data of either kind are counted but produce no record.
func (m *Merger) Merge(lines [][]byte) ([]record.Merged, *Stats) {
	requests := make(map[string]*record.Request)
	chunks := make(map[string][]*record.ResponseChunk)
	metas := make(map[string]*record.ResponseMeta)
	responses := make(map[string]*record.Response)
	var order []string

	for i, line := range lines {
		ev, err := record.Decode(line)
		if err != nil {
			m.logger.Debug("skipping undecodable line", "line", i+1, "error", err)
			continue
		}
		switch ev.Kind {
		case record.TypeRequest:
			if ev.Request.ID == "" {
				continue
			}
			if _, seen := requests[ev.Request.ID]; !seen {
				order = append(order, ev.Request.ID)
			}
			requests[ev.Request.ID] = ev.Request
		case record.TypeResponseChunk:
			if ev.Chunk.RequestID != "" {
				chunks[ev.Chunk.RequestID] = append(chunks[ev.Chunk.RequestID], ev.Chunk)
			}
		case record.TypeResponseMeta:
			if ev.Meta.RequestID != "" {
				metas[ev.Meta.RequestID] = ev.Meta
			}
		case record.TypeResponse:
			if ev.Response.RequestID != "" {
				responses[ev.Response.RequestID] = ev.Response
			}
		}
	}

	totalChunks := 0
	for _, c := range chunks {
		totalChunks += len(c)
	}
	m.logger.Info("grouped capture events",
		"requests", len(requests),
		"chunks", totalChunks,
		"non_streaming", len(responses))

	stats := &Stats{TotalRequests: len(requests)}
	merged := make([]record.Merged, 0, len(requests))

	for _, id := range order {
		req := requests[id]

		// An exchange with any chunks is streaming, even when a
		// complete response event was also captured for it.
		if streamed := chunks[id]; len(streamed) > 0 {
			sort.SliceStable(streamed, func(i, j int) bool {
				return streamed[i].ChunkIndex < streamed[j].ChunkIndex
			})

			status := streamed[0].StatusCode
			var latency float64
			if meta := metas[id]; meta != nil {
				status = meta.StatusCode
				latency = meta.TotalLatencyMS
			}

			merged = append(merged, record.Merged{
				RequestID:      id,
				Timestamp:      parseTimestamp(req.Timestamp),
				Method:         req.Method,
				URL:            req.URL,
				RequestBody:    req.Body,
				ResponseStatus: status,
				ResponseText:   textFromChunks(streamed),
				ToolCalls:      toolsFromChunks(streamed),
				TotalLatencyMS: latency,
				ChunkCount:     len(streamed),
			})
			stats.StreamingRequests++
			stats.TotalChunksProcessed += len(streamed)
			continue
		}

		if resp := responses[id]; resp != nil {
			merged = append(merged, record.Merged{
				RequestID:      id,
				Timestamp:      parseTimestamp(req.Timestamp),
				Method:         req.Method,
				URL:            req.URL,
				RequestBody:    req.Body,
				ResponseStatus: resp.StatusCode,
				ResponseText:   textFromBody(resp.Body),
				ToolCalls:      toolsFromBody(resp.Body),
				TotalLatencyMS: resp.LatencyMS,
				ChunkCount:     0,
			})
			stats.NonStreamingRequests++
			continue
		}

		m.logger.Warn("request has no response data", "request_id", shortID(id))
		stats.IncompleteRequests++
	}

	return merged, stats
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseTimestamp accepts RFC 3339 with or without fractional seconds or
// zone, tolerating a bare Z suffix on zoneless values. Unparseable
// timestamps fall back to the current time rather than losing a record.
func parseTimestamp(ts string) time.Time {
	if ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02T15:04:05", strings.TrimRight(ts, "Z")); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
