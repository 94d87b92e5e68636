package capture

import (
	"fmt"
	"regexp"

	"github.com/chouzz/llm-interceptor/internal/config"
)

// URLFilter selects which request URLs are captured. Exclude patterns win
// over include patterns; with no include patterns nothing is captured.
type URLFilter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewURLFilter compiles the configured include and exclude patterns.
func NewURLFilter(cfg *config.FilterConfig) (*URLFilter, error) {
	f := &URLFilter{}
	for _, pattern := range cfg.IncludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		f.include = append(f.include, re)
	}
	for _, pattern := range cfg.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		f.exclude = append(f.exclude, re)
	}
	return f, nil
}

// ShouldCapture reports whether a URL passes the filter.
func (f *URLFilter) ShouldCapture(url string) bool {
	for _, re := range f.exclude {
		if re.MatchString(url) {
			return false
		}
	}
	for _, re := range f.include {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}
