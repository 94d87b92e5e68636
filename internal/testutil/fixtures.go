// Package testutil provides shared test fixtures for consistent, realistic test data.
package testutil

import (
	"bytes"
	"embed"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/chouzz/llm-interceptor/internal/record"
)

//go:embed captures/*.jsonl sse/*.txt responses/*.json
var fixtures embed.FS

// ExchangeBuilder provides a fluent API for building the capture events
// of one exchange. An exchange with chunks is streaming; one with a
// response body is not; building both produces the conflicting shape
// the merger has to resolve.
type ExchangeBuilder struct {
	id          string
	base        time.Time
	method      string
	url         string
	headers     map[string]string
	reqBody     string
	status      int
	latency     float64
	chunks      []json.RawMessage
	respBody    string
	hasResponse bool
}

// NewExchange creates a new ExchangeBuilder with sensible defaults.
func NewExchange() *ExchangeBuilder {
	return &ExchangeBuilder{
		id:      "req-test-001",
		base:    time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		method:  "POST",
		url:     "https://api.anthropic.com/v1/messages",
		headers: map[string]string{"content-type": "application/json"},
		reqBody: `{"model": "claude-sonnet-4-20250514", "stream": true, "max_tokens": 256}`,
		status:  200,
		latency: 1250,
	}
}

// WithID sets the request id carried by every event of the exchange.
func (b *ExchangeBuilder) WithID(id string) *ExchangeBuilder {
	b.id = id
	return b
}

// WithTimestamp sets the base time; chunk timestamps step forward from
// it.
func (b *ExchangeBuilder) WithTimestamp(t time.Time) *ExchangeBuilder {
	b.base = t
	return b
}

// WithMethod sets the request method.
func (b *ExchangeBuilder) WithMethod(method string) *ExchangeBuilder {
	b.method = method
	return b
}

// WithURL sets the request URL.
func (b *ExchangeBuilder) WithURL(url string) *ExchangeBuilder {
	b.url = url
	return b
}

// WithHeader adds a request header.
func (b *ExchangeBuilder) WithHeader(name, value string) *ExchangeBuilder {
	b.headers[name] = value
	return b
}

// WithRequestBody sets the request body. The value must be valid JSON.
func (b *ExchangeBuilder) WithRequestBody(body string) *ExchangeBuilder {
	b.reqBody = body
	return b
}

// WithStatus sets the response status code.
func (b *ExchangeBuilder) WithStatus(code int) *ExchangeBuilder {
	b.status = code
	return b
}

// WithLatency sets the total latency in milliseconds.
func (b *ExchangeBuilder) WithLatency(ms float64) *ExchangeBuilder {
	b.latency = ms
	return b
}

// WithTextChunks appends one text delta chunk per fragment.
func (b *ExchangeBuilder) WithTextChunks(texts ...string) *ExchangeBuilder {
	for _, text := range texts {
		b.appendChunk(map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": text},
		})
	}
	return b
}

// WithToolUse appends the chunks of one streamed tool invocation: the
// block start, one argument fragment per part, and the block stop.
func (b *ExchangeBuilder) WithToolUse(index int, id, name string, argParts ...string) *ExchangeBuilder {
	b.appendChunk(map[string]any{
		"type":  "content_block_start",
		"index": index,
		"content_block": map[string]any{
			"type":  "tool_use",
			"id":    id,
			"name":  name,
			"input": map[string]any{},
		},
	})
	for _, part := range argParts {
		b.appendChunk(map[string]any{
			"type":  "content_block_delta",
			"index": index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": part},
		})
	}
	b.appendChunk(map[string]any{"type": "content_block_stop", "index": index})
	return b
}

// WithChunk appends one chunk with a verbatim content payload.
func (b *ExchangeBuilder) WithChunk(raw string) *ExchangeBuilder {
	b.chunks = append(b.chunks, json.RawMessage(raw))
	return b
}

// WithResponse sets a complete non-streaming response body. The value
// must be valid JSON.
func (b *ExchangeBuilder) WithResponse(body string) *ExchangeBuilder {
	b.respBody = body
	b.hasResponse = true
	return b
}

func (b *ExchangeBuilder) appendChunk(payload map[string]any) {
	data, _ := json.Marshal(payload)
	b.chunks = append(b.chunks, data)
}

// Events returns the capture events of the exchange in wire order:
// request, chunks, meta, then any complete response.
func (b *ExchangeBuilder) Events() []any {
	ts := func(offset time.Duration) string {
		return b.base.Add(offset).Format(time.RFC3339Nano)
	}

	events := []any{&record.Request{
		Type:      record.TypeRequest,
		ID:        b.id,
		Timestamp: ts(0),
		Method:    b.method,
		URL:       b.url,
		Headers:   b.headers,
		Body:      json.RawMessage(b.reqBody),
	}}

	for i, content := range b.chunks {
		events = append(events, &record.ResponseChunk{
			Type:       record.TypeResponseChunk,
			RequestID:  b.id,
			Timestamp:  ts(time.Duration(i+1) * 50 * time.Millisecond),
			StatusCode: b.status,
			ChunkIndex: i,
			Content:    content,
		})
	}
	if len(b.chunks) > 0 {
		events = append(events, &record.ResponseMeta{
			Type:           record.TypeResponseMeta,
			RequestID:      b.id,
			TotalLatencyMS: b.latency,
			StatusCode:     b.status,
			TotalChunks:    len(b.chunks),
		})
	}

	if b.hasResponse {
		events = append(events, &record.Response{
			Type:       record.TypeResponse,
			RequestID:  b.id,
			Timestamp:  ts(time.Duration(b.latency) * time.Millisecond),
			StatusCode: b.status,
			Headers:    map[string]string{"content-type": "application/json"},
			Body:       json.RawMessage(b.respBody),
			LatencyMS:  b.latency,
		})
	}

	return events
}

// Lines returns the exchange as capture JSONL lines.
func (b *ExchangeBuilder) Lines(t testing.TB) [][]byte {
	t.Helper()

	events := b.Events()
	lines := make([][]byte, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("failed to encode capture event: %v", err)
		}
		lines = append(lines, data)
	}
	return lines
}

// WriteCapture writes capture lines to a file under a test temp dir and
// returns its path.
func WriteCapture(t testing.TB, lines ...[]byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "capture.jsonl")
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write capture file: %v", err)
	}
	return path
}

// LoadSSE loads an SSE stream fixture.
// The name should not include the .txt extension.
func LoadSSE(t testing.TB, name string) string {
	t.Helper()

	data, err := fixtures.ReadFile(path.Join("sse", name+".txt"))
	if err != nil {
		t.Fatalf("failed to load SSE fixture %q: %v", name, err)
	}

	return string(data)
}

// LoadResponse loads a provider response fixture.
// The name should not include the .json extension.
func LoadResponse(t testing.TB, name string) []byte {
	t.Helper()

	data, err := fixtures.ReadFile(path.Join("responses", name+".json"))
	if err != nil {
		t.Fatalf("failed to load response fixture %q: %v", name, err)
	}

	return data
}

// LoadCapture loads a capture fixture as JSONL lines.
// The name should not include the .jsonl extension.
func LoadCapture(t testing.TB, name string) [][]byte {
	t.Helper()

	data, err := fixtures.ReadFile(path.Join("captures", name+".jsonl"))
	if err != nil {
		t.Fatalf("failed to load capture fixture %q: %v", name, err)
	}

	var lines [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}
