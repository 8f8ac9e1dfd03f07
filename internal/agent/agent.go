// Package agent binds a realtime model to a room: room audio and chat feed
// the model, model speech is played into the room and committed utterances
// are published on a typed bus.
package agent

import (
	"ai-voice-agent/internal/voice"
)

// Agent is the conversational identity joining the room.
type Agent struct {
	Identity     string
	Instructions string
}

// New returns an agent, falling back to the default instructions.
func New(identity, instructions string) Agent {
	if instructions == "" {
		instructions = voice.DefaultInstructions
	}
	return Agent{Identity: identity, Instructions: instructions}
}

// InputOptions selects which room inputs reach the model.
type InputOptions struct {
	TextEnabled  bool
	AudioEnabled bool
}

// DefaultInputOptions enables both text and audio input.
func DefaultInputOptions() InputOptions {
	return InputOptions{TextEnabled: true, AudioEnabled: true}
}
