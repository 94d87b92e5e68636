package record

import (
	"encoding/json"
	"time"
)

// ToolCall is one reconstructed tool invocation. Input holds the parsed
// argument object when the accumulated JSON parsed, the raw accumulated
// string when it did not, and is absent when no argument bytes arrived.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input any    `json:"input,omitempty"`
}

// Merged is the normalized output record for one exchange, streaming or
// not. RequestBody passes through the captured body bytes untouched.
type Merged struct {
	RequestID      string          `json:"request_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Method         string          `json:"method"`
	URL            string          `json:"url"`
	RequestBody    json.RawMessage `json:"request_body,omitempty"`
	ResponseStatus int             `json:"response_status"`
	ResponseText   string          `json:"response_text"`
	ToolCalls      []ToolCall      `json:"tool_calls,omitempty"`
	TotalLatencyMS float64         `json:"total_latency_ms"`
	ChunkCount     int             `json:"chunk_count"`
}
