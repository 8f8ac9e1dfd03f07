// Package voice decides which realtime backend serves a session and how it
// is instructed.
package voice

import "strings"

// DefaultInstructions is used whenever a participant supplies no prompt and
// the backend needs explicit instructions.
const DefaultInstructions = "You are a helpful AI assistant."

// Provider tags a realtime backend vendor.
type Provider string

const (
	Primary   Provider = "primary"
	Secondary Provider = "secondary"
)

func (p Provider) String() string {
	return string(p)
}

// ParseProvider maps a metadata tag to a provider. Vendor names are accepted
// as aliases. Tags it does not recognize resolve to Primary with ok false so
// callers can report the fallback.
func ParseProvider(tag string) (p Provider, ok bool) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "primary", "grok", "xai":
		return Primary, true
	case "secondary", "gemini", "google":
		return Secondary, true
	case "":
		return Primary, true
	default:
		return Primary, false
	}
}

// ProviderConfig is the resolved backend choice for one session.
type ProviderConfig struct {
	Provider     Provider
	SystemPrompt string

	// Tag is the raw provider tag found in metadata, empty when absent.
	Tag string
}

// DefaultConfig is the configuration used when no participant states a
// preference.
func DefaultConfig() ProviderConfig {
	return ProviderConfig{Provider: Primary}
}

// Instructions returns the system prompt or the default instructions.
func (c ProviderConfig) Instructions() string {
	if c.SystemPrompt != "" {
		return c.SystemPrompt
	}
	return DefaultInstructions
}

// Recognized reports whether the metadata tag (if any) named a known provider.
func (c ProviderConfig) Recognized() bool {
	_, ok := ParseProvider(c.Tag)
	return ok
}

// Settings returns the fixed connection settings for the provider.
func (c ProviderConfig) Settings() Settings {
	if s, ok := providerSettings[c.Provider]; ok {
		return s
	}
	return providerSettings[Primary]
}

// Settings describes how to reach a provider's realtime API.
type Settings struct {
	Endpoint           string
	Model              string
	Voice              string
	CredentialEnv      string
	CredentialRequired bool
}

var providerSettings = map[Provider]Settings{
	Primary: {
		Endpoint:           "wss://api.x.ai/v1/realtime",
		Model:              "grok-2-public",
		Voice:              "sage",
		CredentialEnv:      "XAI_API_KEY",
		CredentialRequired: true,
	},
	Secondary: {
		Endpoint:      "https://generativelanguage.googleapis.com/",
		Model:         "gemini-2.5-flash-native-audio-preview-09-2025",
		Voice:         "Puck",
		CredentialEnv: "GOOGLE_API_KEY",
	},
}
