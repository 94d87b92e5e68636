// Package split explodes a merged JSONL file into one readable text
// file per record.
package split

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chouzz/llm-interceptor/internal/jsonl"
)

var separator = strings.Repeat("=", 80)

// Stats summarizes one split operation.
type Stats struct {
	TotalRecords int `json:"total_records"`
	FilesCreated int `json:"files_created"`
	Errors       int `json:"errors"`
}

// Splitter writes one text file per merged record.
type Splitter struct {
	logger *slog.Logger
}

// New returns a Splitter that reports progress through logger.
func New(logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{logger: logger}
}

// recordView decodes just the merged-record fields the text rendering
// needs, leniently enough that a single odd field does not sink the
// whole record.
type recordView struct {
	Timestamp    string          `json:"timestamp"`
	RequestBody  json.RawMessage `json:"request_body"`
	ResponseText json.RawMessage `json:"response_text"`
	ToolCalls    []toolCallView  `json:"tool_calls"`
}

type toolCallView struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Split reads every record from inputPath and writes each as a text
// file under outputDir, creating the directory if needed. A record that
// fails to render is logged and counted, never fatal; only an unreadable
// input file aborts the operation.
func (s *Splitter) Split(inputPath, outputDir string) (*Stats, error) {
	s.logger.Info("reading merged records", "path", inputPath)
	lines, err := jsonl.ReadLines(inputPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", outputDir, err)
	}

	stats := &Stats{TotalRecords: len(lines)}
	for i, line := range lines {
		seq := i + 1
		name, err := s.writeRecord(outputDir, seq, line)
		if err != nil {
			s.logger.Error("failed to process record", "record", seq, "error", err)
			stats.Errors++
			continue
		}
		stats.FilesCreated++
		s.logger.Debug("created file", "name", name)
	}

	s.logger.Info("split complete", "files", stats.FilesCreated, "dir", outputDir)
	return stats, nil
}

func (s *Splitter) writeRecord(outputDir string, seq int, line []byte) (string, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", errors.New("record is not a JSON object")
	}

	var view recordView
	if err := json.Unmarshal(trimmed, &view); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return "", err
		}
		// Field-level mismatches keep their zero values; the rest of
		// the record still renders.
	}

	name := fmt.Sprintf("%03d_%s.txt", seq, filenameTimestamp(view.Timestamp))
	path := filepath.Join(outputDir, name)
	if err := os.WriteFile(path, []byte(formatRecord(view)), 0644); err != nil {
		return "", err
	}
	return name, nil
}

// filenameTimestamp renders a record timestamp for use in a filename,
// falling back to the current time when the value will not parse.
func filenameTimestamp(ts string) string {
	const layout = "2006-01-02_15-04-05"
	if ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t.Format(layout)
		}
		naive := strings.TrimRight(strings.ReplaceAll(ts, "+00:00", ""), "Z")
		if t, err := time.Parse("2006-01-02T15:04:05", naive); err == nil {
			return t.Format(layout)
		}
	}
	return time.Now().Format(layout)
}

func formatRecord(view recordView) string {
	lines := []string{
		separator,
		"REQUEST",
		separator,
		"",
		requestContent(view.RequestBody),
		"",
		separator,
		"RESPONSE",
		separator,
		"",
		responseContent(view.ResponseText),
	}

	if len(view.ToolCalls) > 0 {
		lines = append(lines,
			"",
			separator,
			"TOOL CALLS",
			separator,
			"",
			formatToolCalls(view.ToolCalls),
		)
	}

	return strings.Join(lines, "\n")
}

func requestContent(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "[No request body]"
	}
	return renderValue(trimmed)
}

func responseContent(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return "[No response]"
	}
	return renderValue(trimmed)
}

// renderValue shows a string value verbatim and anything else as
// indented JSON, expanding escaped newlines and tabs either way.
func renderValue(trimmed []byte) string {
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return unescape(s)
		}
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err == nil {
		return unescape(buf.String())
	}
	return unescape(string(trimmed))
}

// unescape expands backslash escapes that survived a round of JSON
// encoding, so prompts read as the model saw them.
func unescape(text string) string {
	text = strings.ReplaceAll(text, `\n`, "\n")
	return strings.ReplaceAll(text, `\t`, "\t")
}

func formatToolCalls(calls []toolCallView) string {
	var lines []string
	for i, call := range calls {
		lines = append(lines, fmt.Sprintf("[%d] %s", i+1, call.Name))
		lines = append(lines, fmt.Sprintf("    ID: %s", call.ID))
		lines = append(lines, renderToolInput(call.Input)...)
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func renderToolInput(raw json.RawMessage) []string {
	compact := compactJSON(raw)
	if len(compact) == 0 {
		return nil
	}
	switch string(compact) {
	case "null", `""`, "0", "false", "{}", "[]":
		return nil
	}

	if compact[0] == '{' {
		var buf bytes.Buffer
		if err := json.Indent(&buf, compact, "", "    "); err == nil {
			lines := []string{"    Input:"}
			for _, l := range strings.Split(buf.String(), "\n") {
				lines = append(lines, "    "+l)
			}
			return lines
		}
	}
	if compact[0] == '"' {
		var s string
		if err := json.Unmarshal(compact, &s); err == nil {
			return []string{"    Input: " + s}
		}
	}
	return []string{"    Input: " + string(compact)}
}

func compactJSON(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return trimmed
	}
	return buf.Bytes()
}
