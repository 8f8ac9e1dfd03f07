package voice

import (
	"encoding/json"
	"errors"
	"fmt"

	"ai-voice-agent/internal/room"
)

// ErrMetadataParse is returned by ParseMetadata for metadata that is not a
// JSON object.
var ErrMetadataParse = errors.New("participant metadata is not a JSON object")

// Metadata is the participant metadata document. Both fields are optional.
type Metadata struct {
	VoiceProvider string `json:"voiceProvider,omitempty"`
	SystemPrompt  string `json:"systemPrompt,omitempty"`
}

// Encode renders m as participant metadata.
func (m Metadata) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseMetadata reads a provider preference from raw participant metadata.
// Fields with a non-string value are treated as absent.
func ParseMetadata(raw string) (ProviderConfig, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ProviderConfig{}, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}
	if doc == nil {
		return ProviderConfig{}, ErrMetadataParse
	}

	cfg := DefaultConfig()
	if tag, ok := doc["voiceProvider"].(string); ok {
		cfg.Tag = tag
		cfg.Provider, _ = ParseProvider(tag)
	}
	if prompt, ok := doc["systemPrompt"].(string); ok {
		cfg.SystemPrompt = prompt
	}
	return cfg, nil
}

// ResolveConfig returns the preference of the first participant, in the
// given order, whose metadata parses. Participants without metadata or with
// malformed metadata are skipped. It never fails.
func ResolveConfig(participants []room.Participant) ProviderConfig {
	for _, p := range participants {
		if p.Metadata == "" {
			continue
		}
		cfg, err := ParseMetadata(p.Metadata)
		if err != nil {
			continue
		}
		return cfg
	}
	return DefaultConfig()
}
