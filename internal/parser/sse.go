// Package parser decodes SSE response bodies into chunk payloads.
package parser

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/chouzz/llm-interceptor/internal/queue"
)

// EventPriority determines which chunk payloads to keep under backpressure.
var EventPriority = map[string]string{
	// HIGH - critical for exchange integrity
	"message_start": queue.PriorityHigh,
	"message_stop":  queue.PriorityHigh,
	"message_delta": queue.PriorityHigh,
	"error":         queue.PriorityHigh,

	// MEDIUM - structural events
	"content_block_start": queue.PriorityMedium,
	"content_block_stop":  queue.PriorityMedium,
	"ping":                queue.PriorityMedium,

	// LOW - can drop under pressure
	"content_block_delta": queue.PriorityLow,
}

// DecodeSSE splits a complete SSE body into one JSON payload per data line.
//
// Every "data:" line yields a payload: valid JSON is kept verbatim, the
// "[DONE]" sentinel becomes {"done":true}, and anything else is wrapped as
// {"raw":"..."}. An "event:" line tags the most recently decoded payload
// with "_event_type" when that payload is a JSON object. A body that is not
// UTF-8 degrades to a single error payload carrying a hex sample.
func DecodeSSE(body []byte) []json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if !utf8.Valid(body) {
		return []json.RawMessage{errorPayload("stream body is not valid UTF-8", body)}
	}

	var events []json.RawMessage
	for _, block := range strings.Split(string(body), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(line[len("data:"):])
				events = append(events, decodeData(data))
			case strings.HasPrefix(line, "event:"):
				name := strings.TrimSpace(line[len("event:"):])
				annotateLast(events, name)
			}
		}
	}
	return events
}

// decodeData turns one data line into a payload.
func decodeData(data string) json.RawMessage {
	if data == "[DONE]" {
		return json.RawMessage(`{"done":true}`)
	}
	if json.Valid([]byte(data)) {
		return json.RawMessage(data)
	}
	raw, _ := json.Marshal(map[string]string{"raw": data})
	return raw
}

// annotateLast tags the last decoded payload with an event name. Only object
// payloads carry the tag.
func annotateLast(events []json.RawMessage, name string) {
	if len(events) == 0 {
		return
	}
	last := events[len(events)-1]
	if !gjson.ParseBytes(last).IsObject() {
		return
	}
	tagged, err := sjson.SetBytes(last, "_event_type", name)
	if err != nil {
		return
	}
	events[len(events)-1] = tagged
}

// errorPayload wraps an undecodable body as a single payload with a hex
// sample of its first 500 bytes.
func errorPayload(msg string, body []byte) json.RawMessage {
	sample := body
	if len(sample) > 500 {
		sample = sample[:500]
	}
	raw, _ := json.Marshal(map[string]string{
		"error": msg,
		"raw":   hex.EncodeToString(sample),
	})
	return raw
}

// PriorityFor returns the persistence priority for a decoded chunk payload.
// The payload's "type" field names the event; "_event_type" is the fallback
// for streams that only name events on the wire.
func PriorityFor(payload json.RawMessage) string {
	name := gjson.GetBytes(payload, "type").String()
	if name == "" {
		name = gjson.GetBytes(payload, "_event_type").String()
	}
	if p, ok := EventPriority[name]; ok {
		return p
	}
	return queue.PriorityMedium
}

// DecodeBody parses a request or response body for capture. JSON bodies are
// kept as-is (compacted); other UTF-8 bodies are stored as text; binary
// bodies and parse failures degrade to placeholder strings. An empty body
// returns nil.
func DecodeBody(content []byte, contentType string) json.RawMessage {
	if len(content) == 0 {
		return nil
	}

	if strings.Contains(contentType, "json") {
		if !utf8.Valid(content) {
			return jsonString("<parse error: body is not valid UTF-8>")
		}
		var v any
		if err := json.Unmarshal(content, &v); err != nil {
			return jsonString(fmt.Sprintf("<parse error: %v>", err))
		}
		return compactJSON(content)
	}

	if !utf8.Valid(content) {
		return jsonString(fmt.Sprintf("<binary content: %d bytes>", len(content)))
	}
	if json.Valid(content) {
		return compactJSON(content)
	}
	return jsonString(string(content))
}

// jsonString encodes s as a JSON string value.
func jsonString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

// compactJSON strips insignificant whitespace so the value stays on one
// JSONL line.
func compactJSON(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
