package provider

import "strings"

// Anthropic matches the Claude API.
type Anthropic struct{}

// Name returns "anthropic".
func (a *Anthropic) Name() string {
	return "anthropic"
}

// DetectHost returns true for Anthropic API hosts.
func (a *Anthropic) DetectHost(host string) bool {
	return MatchDomainSuffix(host, "anthropic.com") || MatchDomainSuffix(host, "claude.ai")
}

// OpenAI matches the OpenAI API.
type OpenAI struct{}

// Name returns "openai".
func (o *OpenAI) Name() string {
	return "openai"
}

// DetectHost returns true for OpenAI API hosts.
func (o *OpenAI) DetectHost(host string) bool {
	return strings.Contains(host, "openai.com")
}

// Gemini matches Google's Gemini API.
type Gemini struct{}

// Name returns "gemini".
func (g *Gemini) Name() string {
	return "gemini"
}

// DetectHost returns true for Google Gemini API hosts.
func (g *Gemini) DetectHost(host string) bool {
	return MatchDomainSuffix(host, "generativelanguage.googleapis.com")
}
