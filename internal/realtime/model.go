// Package realtime defines the realtime voice backend capability: a single
// vendor connection that listens, thinks and speaks.
package realtime

import (
	"context"

	"ai-voice-agent/internal/models"

	"github.com/rs/zerolog"
)

// Handler receives events from a realtime model. Calls arrive on the model's
// receive goroutine and must not block for long.
type Handler interface {
	// OnUtterance is called once per committed utterance.
	OnUtterance(role models.Role, text string)

	// OnAudio is called with PCM16 mono agent speech at the output rate.
	OnAudio(samples []int16)

	// OnSpeechStarted is called when the user starts talking over the agent.
	OnSpeechStarted()

	// OnError is called for errors reported by the vendor.
	OnError(err error)
}

// Model is a connected realtime backend. Exactly one exists per session.
type Model interface {
	// Provider names the backend for logs and metrics.
	Provider() string

	// SampleRates returns the PCM rates the model consumes and produces.
	SampleRates() (in, out int)

	// Start begins delivering events to h. It must be called once.
	Start(ctx context.Context, h Handler) error

	// SendAudio streams user audio at the input rate.
	SendAudio(ctx context.Context, samples []int16) error

	// SendText sends a typed user message and asks for a reply.
	SendText(ctx context.Context, text string) error

	// Done is closed when the vendor connection is gone.
	Done() <-chan struct{}

	// Close ends the session and releases the connection.
	Close() error
}

// Options configures a vendor connection.
type Options struct {
	Provider string
	Endpoint string
	APIKey   string
	Model    string
	Voice    string

	// Instructions is the system prompt. Empty leaves the vendor's built-in
	// persona in place.
	Instructions string

	// Logger is the session-scoped logger for the connection.
	Logger zerolog.Logger
}
