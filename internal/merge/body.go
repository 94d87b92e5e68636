package merge

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/chouzz/llm-interceptor/internal/record"
)

// bodyView exposes the two provider-discriminating keys of a
// non-streaming response body. Both stay raw so key presence can be
// told apart from absence before committing to a format.
type bodyView struct {
	Content json.RawMessage `json:"content"`
	Choices json.RawMessage `json:"choices"`
}

// textFromBody extracts the response text of a non-streaming body.
// String bodies pass through verbatim. Object bodies are tried as
// Anthropic (content array or string), then OpenAI (choices array);
// anything unrecognized is kept whole as compact JSON.
func textFromBody(body json.RawMessage) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}

	if trimmed[0] == '{' {
		var view bodyView
		_ = json.Unmarshal(trimmed, &view)

		if len(view.Content) > 0 {
			var blocks []json.RawMessage
			if err := json.Unmarshal(view.Content, &blocks); err == nil {
				var b strings.Builder
				for _, raw := range blocks {
					var block struct {
						Text *string `json:"text"`
					}
					if err := json.Unmarshal(raw, &block); err == nil && block.Text != nil {
						b.WriteString(*block.Text)
					}
				}
				return b.String()
			}
			var s string
			if err := json.Unmarshal(view.Content, &s); err == nil {
				return s
			}
			// A content key of another shape falls through to the
			// remaining formats.
		}

		if len(view.Choices) > 0 {
			var choices []struct {
				Message struct {
					Content *string `json:"content"`
				} `json:"message"`
			}
			_ = json.Unmarshal(view.Choices, &choices)
			var b strings.Builder
			for _, choice := range choices {
				if choice.Message.Content != nil {
					b.WriteString(*choice.Message.Content)
				}
			}
			return b.String()
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

// toolsFromBody extracts tool invocations from a non-streaming body.
// Anthropic tool_use content blocks keep their input value untouched;
// OpenAI function arguments stay the verbatim string the API returned.
func toolsFromBody(body json.RawMessage) []record.ToolCall {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var view struct {
		Content []json.RawMessage `json:"content"`
		Choices []struct {
			Message struct {
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string  `json:"name"`
						Arguments *string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	_ = json.Unmarshal(trimmed, &view)

	var calls []record.ToolCall
	for _, raw := range view.Content {
		var block struct {
			Type  string          `json:"type"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.Unmarshal(raw, &block); err != nil || block.Type != "tool_use" {
			continue
		}
		call := record.ToolCall{ID: block.ID, Name: block.Name}
		if len(block.Input) > 0 {
			call.Input = block.Input
		}
		calls = append(calls, call)
	}

	for _, choice := range view.Choices {
		for _, tc := range choice.Message.ToolCalls {
			call := record.ToolCall{ID: tc.ID, Name: tc.Function.Name}
			if tc.Function.Arguments != nil {
				call.Input = *tc.Function.Arguments
			}
			calls = append(calls, call)
		}
	}

	return calls
}
