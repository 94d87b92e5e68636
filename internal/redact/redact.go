// Package redact masks credentials in captured headers and bodies.
package redact

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/chouzz/llm-interceptor/internal/config"
)

// keyRule rewrites one credential format. Each rule keeps a short prefix so
// captures stay correlatable without exposing the secret.
type keyRule struct {
	pattern *regexp.Regexp
	replace string
}

// Masker masks credential material in header values and JSON bodies.
type Masker struct {
	cfg       *config.MaskingConfig
	rules     []keyRule
	sensitive map[string]bool
}

// New creates a Masker from the given configuration.
func New(cfg *config.MaskingConfig) *Masker {
	m := &Masker{
		cfg: cfg,
		rules: []keyRule{
			// API keys: keep "sk-" plus four chars of the key id.
			{regexp.MustCompile(`(sk-[a-zA-Z0-9]{4})[a-zA-Z0-9]+`), "${1}***"},
			// Bearer tokens: keep the scheme only.
			{regexp.MustCompile(`(Bearer\s+)[a-zA-Z0-9_-]+`), "${1}***MASKED***"},
			// Long opaque tokens: keep the first eight chars.
			{regexp.MustCompile(`([a-zA-Z0-9]{8})[a-zA-Z0-9]{24,}`), "${1}***"},
		},
		sensitive: make(map[string]bool),
	}
	for _, name := range cfg.SensitiveHeaders {
		m.sensitive[strings.ToLower(name)] = true
	}
	return m
}

// MaskValue masks credential material inside a single value. The rules are
// applied in order; a value that matches none of them but is longer than 16
// characters is treated as an opaque secret and truncated.
func (m *Masker) MaskValue(value string) string {
	if !m.cfg.Enabled {
		return value
	}

	masked := value
	for _, rule := range m.rules {
		masked = rule.pattern.ReplaceAllString(masked, rule.replace)
	}

	if masked == value && len(value) > 16 {
		return value[:8] + m.cfg.MaskPattern
	}
	return masked
}

// MaskHeaders returns a copy of headers with sensitive values masked.
// Header names are matched case-insensitively.
func (m *Masker) MaskHeaders(headers map[string]string) map[string]string {
	result := make(map[string]string, len(headers))
	for name, value := range headers {
		if m.cfg.Enabled && m.sensitive[strings.ToLower(name)] {
			result[name] = m.MaskValue(value)
		} else {
			result[name] = value
		}
	}
	return result
}

// MaskBodyFields replaces the configured dotted-path fields in a JSON object
// body with the mask pattern. Paths that do not resolve are skipped; the body
// is returned unchanged when it is not a JSON object.
func (m *Masker) MaskBodyFields(body []byte) []byte {
	if !m.cfg.Enabled || len(m.cfg.SensitiveBodyFields) == 0 {
		return body
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return body
	}

	for _, path := range m.cfg.SensitiveBodyFields {
		// Only mask fields that exist; never create them.
		if !gjson.GetBytes(body, path).Exists() {
			continue
		}
		masked, err := sjson.SetBytes(body, path, m.cfg.MaskPattern)
		if err != nil {
			continue
		}
		body = masked
	}
	return body
}

// HeadersToMap flattens http.Header to the single-valued map stored in
// capture records. The first value wins for repeated headers.
func HeadersToMap(h http.Header) map[string]string {
	result := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			result[name] = values[0]
		}
	}
	return result
}
