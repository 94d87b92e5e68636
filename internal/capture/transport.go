package capture

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Transport is an http.RoundTripper that records exchanges with LLM APIs
// while passing the traffic through unchanged. The wrapped application
// still sees streaming responses incrementally; capture happens from a tee.
type Transport struct {
	base     http.RoundTripper
	recorder *Recorder
	filter   *URLFilter
	logger   *slog.Logger
}

// NewTransport wraps base with capture middleware. A nil base means
// http.DefaultTransport; a nil logger falls back to slog.Default().
func NewTransport(base http.RoundTripper, recorder *Recorder, filter *URLFilter, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{base: base, recorder: recorder, filter: filter, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	if !t.filter.ShouldCapture(url) {
		t.logger.Debug("url not matched, skipping", "url", url)
		return t.base.RoundTrip(req)
	}

	body, err := io.ReadAll(requestBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	// The original body is consumed; the upstream call gets a replay.
	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	id := t.recorder.RecordRequest(req, body)

	resp, err := t.base.RoundTrip(clone)
	if err != nil {
		// No response events; the merger reports the exchange as incomplete.
		return resp, err
	}

	resp.Body = &captureBody{
		rc: resp.Body,
		finish: func(data []byte) {
			t.recorder.RecordResponse(id, resp.StatusCode, resp.Header, data)
		},
	}
	return resp, nil
}

// requestBody returns a never-nil reader for the request body.
func requestBody(req *http.Request) io.Reader {
	if req.Body == nil {
		return bytes.NewReader(nil)
	}
	return req.Body
}

// captureBody tees a response body into a buffer and reports the complete
// payload exactly once, at EOF or close. A close before EOF reports
// whatever was read; a client that abandons a stream still leaves a
// truncated capture rather than none.
type captureBody struct {
	rc     io.ReadCloser
	buf    bytes.Buffer
	once   sync.Once
	finish func([]byte)
}

func (b *captureBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.buf.Write(p[:n])
	}
	if err == io.EOF {
		b.deliver()
	}
	return n, err
}

func (b *captureBody) Close() error {
	err := b.rc.Close()
	b.deliver()
	return err
}

func (b *captureBody) deliver() {
	b.once.Do(func() {
		b.finish(b.buf.Bytes())
	})
}
