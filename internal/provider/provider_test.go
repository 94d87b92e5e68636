package provider

import "testing"

func TestMatchDomainSuffix(t *testing.T) {
	tests := []struct {
		host   string
		suffix string
		want   bool
	}{
		// Exact match
		{"anthropic.com", "anthropic.com", true},
		{"openai.com", "openai.com", true},

		// Subdomain match
		{"api.anthropic.com", "anthropic.com", true},
		{"api.claude.ai", "claude.ai", true},
		{"sub.api.openai.com", "openai.com", true},

		// Port stripping
		{"api.anthropic.com:443", "anthropic.com", true},
		{"anthropic.com:8080", "anthropic.com", true},

		// Case insensitivity
		{"API.Anthropic.COM", "anthropic.com", true},
		{"api.OPENAI.com", "openai.com", true},

		// False positives that MUST NOT match
		{"misanthropic.com", "anthropic.com", false},
		{"notanthropic.com", "anthropic.com", false},
		{"claudesmith.com", "claude.ai", false},
		{"fakeclaude.ai.evil.com", "claude.ai", false},
		{"myopenai.com", "openai.com", false},

		// Unrelated hosts
		{"github.com", "anthropic.com", false},
		{"example.com", "openai.com", false},

		// Empty host
		{"", "anthropic.com", false},
		{"anthropic.com", "", false},
		{"", "", true}, // degenerate but consistent: "" == ""
	}

	for _, tt := range tests {
		t.Run(tt.host+"_"+tt.suffix, func(t *testing.T) {
			if got := MatchDomainSuffix(tt.host, tt.suffix); got != tt.want {
				t.Errorf("MatchDomainSuffix(%q, %q) = %v, want %v", tt.host, tt.suffix, got, tt.want)
			}
		})
	}
}

func TestHostFromURL(t *testing.T) {
	tests := []struct {
		rawurl string
		want   string
	}{
		{"https://api.anthropic.com/v1/messages", "api.anthropic.com"},
		{"https://api.openai.com:443/v1/chat/completions", "api.openai.com:443"},
		{"http://localhost:8080/test", "localhost:8080"},
		{"not a url at all\x7f", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.rawurl, func(t *testing.T) {
			if got := HostFromURL(tt.rawurl); got != tt.want {
				t.Errorf("HostFromURL(%q) = %q, want %q", tt.rawurl, got, tt.want)
			}
		})
	}
}
