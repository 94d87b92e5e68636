// Package record defines the capture event kinds written by the capture
// pipeline and the merged record produced from them.
package record

import "encoding/json"

// Event type discriminators as they appear on the wire.
const (
	TypeRequest       = "request"
	TypeResponseChunk = "response_chunk"
	TypeResponseMeta  = "response_meta"
	TypeResponse      = "response"
)

// Request opens an exchange. ID is assigned at capture time and is the
// key every later event for the exchange carries as request_id.
type Request struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      json.RawMessage   `json:"body,omitempty"`
}

// ResponseChunk is one streamed unit of a response. ChunkIndex orders
// chunks within an exchange; it is not guaranteed contiguous or unique.
type ResponseChunk struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"request_id"`
	Timestamp  string          `json:"timestamp"`
	StatusCode int             `json:"status_code"`
	ChunkIndex int             `json:"chunk_index"`
	Content    json.RawMessage `json:"content,omitempty"`
}

// ResponseMeta is the terminal marker for a streaming exchange.
type ResponseMeta struct {
	Type           string  `json:"type"`
	RequestID      string  `json:"request_id"`
	TotalLatencyMS float64 `json:"total_latency_ms"`
	StatusCode     int     `json:"status_code"`
	TotalChunks    int     `json:"total_chunks"`
}

// Response is the complete body of a non-streaming exchange.
type Response struct {
	Type       string            `json:"type"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	LatencyMS  float64           `json:"latency_ms"`
}

// Event is one decoded capture event. Kind holds the wire type string;
// exactly one of the pointers is set for the four known kinds, none for
// an unknown kind.
type Event struct {
	Kind     string
	Request  *Request
	Chunk    *ResponseChunk
	Meta     *ResponseMeta
	Response *Response
}

// Decode parses one capture line into its typed event. Unknown type
// values yield an Event with only Kind set; callers skip those. An error
// means the line is not a JSON object or a known kind failed to decode.
func Decode(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Event{}, err
	}

	ev := Event{Kind: envelope.Type}
	switch envelope.Type {
	case TypeRequest:
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return Event{}, err
		}
		ev.Request = &req
	case TypeResponseChunk:
		var chunk ResponseChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return Event{}, err
		}
		ev.Chunk = &chunk
	case TypeResponseMeta:
		var meta ResponseMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return Event{}, err
		}
		ev.Meta = &meta
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return Event{}, err
		}
		ev.Response = &resp
	}
	return ev, nil
}
