// Package jsonl reads and writes newline-delimited JSON files, the
// on-disk format for both capture events and merged records.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// maxLineSize bounds a single JSONL line. Request bodies with large
// prompts routinely exceed bufio's 64KB default.
const maxLineSize = 10 * 1024 * 1024

// ReadLines loads every non-blank line of a JSONL file into memory.
// Each returned line is an independent copy. Any open or scan failure
// is returned before the caller sees partial data.
func ReadLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineSize)

	var lines [][]byte
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		line := make([]byte, len(raw))
		copy(line, raw)
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}

// CountTypes scans a JSONL file and tallies lines by their "type"
// field. Lines that fail to parse are counted under the empty key.
func CountTypes(path string) (map[string]int, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, line := range lines {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			counts[""]++
			continue
		}
		counts[envelope.Type]++
	}
	return counts, nil
}

// Writer serializes values one per line. It is safe for concurrent use;
// capture handlers write from multiple goroutines.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// NewWriter opens path for writing. With appendMode the file grows in
// place, otherwise it is truncated.
func NewWriter(path string, appendMode bool) (*Writer, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	buf := bufio.NewWriter(f)
	return &Writer{f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write appends one value as a single JSON line.
func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return nil
}

// Flush pushes buffered lines to disk without closing the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
