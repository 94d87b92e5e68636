package merge

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/chouzz/llm-interceptor/internal/record"
)

// chunkContent is the decoded content field of one response chunk. The
// wire shape varies by provider and stream stage, so every field is
// optional. Decoding is best-effort: a branch that fails to decode
// leaves its field unset without discarding the others.
type chunkContent struct {
	str   string
	isStr bool

	Type         string          `json:"type"`
	Index        *int            `json:"index"`
	Delta        *deltaContent   `json:"delta"`
	Choices      []choiceContent `json:"choices"`
	Text         *string         `json:"text"`
	ContentBlock *blockContent   `json:"content_block"`
}

type deltaContent struct {
	Type        string  `json:"type"`
	Text        *string `json:"text"`
	PartialJSON string  `json:"partial_json"`
}

type choiceContent struct {
	Delta struct {
		Content *string `json:"content"`
	} `json:"delta"`
}

type blockContent struct {
	Type string  `json:"type"`
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Text *string `json:"text"`
}

// decodeChunkContent turns a raw content value into its typed form.
// Bare string payloads are kept whole; anything that is neither a
// string nor an object decodes to the zero value and contributes
// nothing downstream.
func decodeChunkContent(raw json.RawMessage) chunkContent {
	var c chunkContent
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return c
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		c.str = s
		c.isStr = true
		return c
	}
	// Unmarshal fills what it can and reports the first mismatch;
	// the error itself carries no information the zero fields don't.
	_ = json.Unmarshal(raw, &c)
	return c
}

// textFromChunks concatenates every text fragment in chunk order. The
// four markers are independent; a single chunk may contribute through
// more than one of them.
func textFromChunks(chunks []*record.ResponseChunk) string {
	var b strings.Builder
	for _, chunk := range chunks {
		c := decodeChunkContent(chunk.Content)
		if c.isStr {
			b.WriteString(c.str)
			continue
		}
		if c.Delta != nil && c.Delta.Text != nil {
			b.WriteString(*c.Delta.Text)
		}
		for _, choice := range c.Choices {
			if choice.Delta.Content != nil {
				b.WriteString(*choice.Delta.Content)
			}
		}
		if c.Text != nil {
			b.WriteString(*c.Text)
		}
		if c.ContentBlock != nil && c.ContentBlock.Text != nil {
			b.WriteString(*c.ContentBlock.Text)
		}
	}
	return b.String()
}

// toolsFromChunks reassembles tool_use blocks streamed across chunks.
// Argument fragments accumulate by block index independently of block
// registration, so fragments that arrive before their start event still
// count; fragments whose block never starts are dropped at the end.
func toolsFromChunks(chunks []*record.ResponseChunk) []record.ToolCall {
	type blockStart struct {
		id   string
		name string
	}
	starts := make(map[int]blockStart)
	parts := make(map[int][]string)

	for _, chunk := range chunks {
		c := decodeChunkContent(chunk.Content)
		if c.isStr {
			continue
		}
		switch c.Type {
		case "content_block_start":
			if c.Index != nil && c.ContentBlock != nil && c.ContentBlock.Type == "tool_use" {
				starts[*c.Index] = blockStart{id: c.ContentBlock.ID, name: c.ContentBlock.Name}
			}
		case "content_block_delta":
			if c.Index != nil && c.Delta != nil && c.Delta.Type == "input_json_delta" && c.Delta.PartialJSON != "" {
				parts[*c.Index] = append(parts[*c.Index], c.Delta.PartialJSON)
			}
		}
	}

	if len(starts) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(starts))
	for idx := range starts {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]record.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		start := starts[idx]
		call := record.ToolCall{ID: start.id, Name: start.name}
		if full := strings.Join(parts[idx], ""); full != "" {
			var parsed any
			if err := json.Unmarshal([]byte(full), &parsed); err == nil {
				call.Input = parsed
			} else {
				// Keep the raw accumulation when it never became
				// valid JSON.
				call.Input = full
			}
		}
		calls = append(calls, call)
	}
	return calls
}
