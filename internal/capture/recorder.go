// Package capture produces capture events from observed HTTP exchanges.
//
// The package is client-side middleware: Transport wraps an
// http.RoundTripper, Recorder turns observed traffic into capture records,
// and Persister drains the event queue into a JSONL file. Nothing here opens
// a listening socket.
package capture

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"

	"github.com/chouzz/llm-interceptor/internal/config"
	"github.com/chouzz/llm-interceptor/internal/parser"
	"github.com/chouzz/llm-interceptor/internal/queue"
	"github.com/chouzz/llm-interceptor/internal/record"
	"github.com/chouzz/llm-interceptor/internal/redact"
)

// Recorder builds capture records from exchange materials and hands them to
// the persistence queue.
type Recorder struct {
	cfg    *config.CaptureConfig
	masker *redact.Masker
	events *queue.Queue
	logger *slog.Logger

	// Start times for exchanges awaiting a response. The TTL reclaims
	// entries for exchanges that never complete.
	inflight *expirable.LRU[string, time.Time]
}

// NewRecorder creates a Recorder feeding the given queue. A nil logger
// falls back to slog.Default().
func NewRecorder(cfg *config.CaptureConfig, masker *redact.Masker, events *queue.Queue, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := time.Duration(cfg.InFlightTTLSec) * time.Second
	return &Recorder{
		cfg:      cfg,
		masker:   masker,
		events:   events,
		logger:   logger,
		inflight: expirable.NewLRU[string, time.Time](cfg.InFlightMax, nil, ttl),
	}
}

// RecordRequest captures an outgoing request and returns the exchange id
// carried by all later events for it.
func (r *Recorder) RecordRequest(req *http.Request, body []byte) string {
	id := uuid.New().String()
	r.inflight.Add(id, time.Now())

	headers := r.masker.MaskHeaders(redact.HeadersToMap(req.Header))
	decoded := r.decodeBody(body, req.Header.Get("Content-Type"))
	decoded = r.masker.MaskBodyFields(decoded)

	r.push(&queue.Item{
		Record: &record.Request{
			Type:      record.TypeRequest,
			ID:        id,
			Timestamp: timestamp(),
			Method:    req.Method,
			URL:       req.URL.String(),
			Headers:   headers,
			Body:      decoded,
		},
		Kind:      record.TypeRequest,
		RequestID: id,
		Priority:  queue.PriorityHigh,
		Timestamp: time.Now(),
	})

	r.logger.Info("capturing request",
		"method", req.Method,
		"url", req.URL.String(),
		"model", gjson.GetBytes(body, "model").String(),
		"stream", gjson.GetBytes(body, "stream").Bool(),
	)
	return id
}

// RecordResponse captures a complete response body for an exchange. A
// text/event-stream content type produces one chunk record per decoded SSE
// payload plus a meta record; anything else produces a single response
// record. An empty id falls back to a fresh one so the events still land
// somewhere visible.
func (r *Recorder) RecordResponse(id string, status int, header http.Header, body []byte) {
	if id == "" {
		id = uuid.New().String()
	}
	latency := r.latencyMS(id)
	contentType := header.Get("Content-Type")

	if strings.Contains(contentType, "text/event-stream") {
		r.recordStream(id, status, body, latency)
		return
	}

	headers := r.masker.MaskHeaders(redact.HeadersToMap(header))
	decoded := r.decodeBody(body, contentType)
	decoded = r.masker.MaskBodyFields(decoded)

	r.push(&queue.Item{
		Record: &record.Response{
			Type:       record.TypeResponse,
			RequestID:  id,
			Timestamp:  timestamp(),
			StatusCode: status,
			Headers:    headers,
			Body:       decoded,
			LatencyMS:  latency,
		},
		Kind:      record.TypeResponse,
		RequestID: id,
		Priority:  queue.PriorityHigh,
		Timestamp: time.Now(),
	})

	r.logger.Info("response captured",
		"request_id", shortID(id), "status", status, "latency_ms", latency)
}

// recordStream writes one chunk record per SSE payload and a closing meta
// record.
func (r *Recorder) recordStream(id string, status int, body []byte, latency float64) {
	payloads := parser.DecodeSSE(body)

	for i, payload := range payloads {
		r.push(&queue.Item{
			Record: &record.ResponseChunk{
				Type:       record.TypeResponseChunk,
				RequestID:  id,
				Timestamp:  timestamp(),
				StatusCode: status,
				ChunkIndex: i,
				Content:    payload,
			},
			Kind:      record.TypeResponseChunk,
			RequestID: id,
			Priority:  parser.PriorityFor(payload),
			Timestamp: time.Now(),
		})
	}

	r.push(&queue.Item{
		Record: &record.ResponseMeta{
			Type:           record.TypeResponseMeta,
			RequestID:      id,
			TotalLatencyMS: latency,
			StatusCode:     status,
			TotalChunks:    len(payloads),
		},
		Kind:      record.TypeResponseMeta,
		RequestID: id,
		Priority:  queue.PriorityHigh,
		Timestamp: time.Now(),
	})

	r.logger.Info("streaming response complete",
		"request_id", shortID(id), "chunks", len(payloads), "latency_ms", latency)
}

// decodeBody parses a body for storage, substituting a placeholder for
// bodies above the configured size limit.
func (r *Recorder) decodeBody(body []byte, contentType string) json.RawMessage {
	if r.cfg.MaxBodyBytes > 0 && len(body) > r.cfg.MaxBodyBytes {
		placeholder, _ := json.Marshal(fmt.Sprintf("<body too large: %d bytes>", len(body)))
		return placeholder
	}
	return parser.DecodeBody(body, contentType)
}

// latencyMS returns elapsed milliseconds since the request event, dropping
// the in-flight entry. An unknown exchange yields 0.
func (r *Recorder) latencyMS(id string) float64 {
	start, ok := r.inflight.Get(id)
	if !ok {
		return 0
	}
	r.inflight.Remove(id)
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// push enqueues an item and logs when backpressure dropped it.
func (r *Recorder) push(item *queue.Item) {
	if r.events.Push(item) {
		r.logger.Warn("event dropped under backpressure",
			"kind", item.Kind, "request_id", shortID(item.RequestID))
	}
}

// timestamp renders the capture time in UTC.
func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// shortID truncates an exchange id for log lines.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
