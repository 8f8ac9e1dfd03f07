// Package mock provides a scripted realtime model for tests and offline
// development. It needs no vendor credentials.
//
// The model greets on Start, answers typed messages immediately and treats
// every FramesPerTurn audio frames as one spoken user turn, replying with the
// next entry of its script.
package mock

import (
	"context"
	"sync"

	"ai-voice-agent/internal/models"
	"ai-voice-agent/internal/realtime"
)

const sampleRate = 24000

// SimulatedTurn is a canned user utterance and the agent's reply.
type SimulatedTurn struct {
	User  string
	Agent string
}

// DefaultScript provides sample turns for simulation.
var DefaultScript = []SimulatedTurn{
	{User: "Hello, can you hear me?", Agent: "Yes, I can hear you clearly. How can I help?"},
	{User: "What's the weather like today?", Agent: "I don't have live weather data, but I'm happy to help otherwise."},
	{User: "Tell me a short joke.", Agent: "Why did the developer go broke? Because they used up all their cache."},
	{User: "Thank you very much.", Agent: "You're welcome. Have a great day."},
}

// DefaultGreeting is spoken when the session starts.
const DefaultGreeting = "Hi there! How can I help you today?"

// Option configures a Model.
type Option func(*Model)

// WithGreeting sets the agent utterance emitted on Start. Empty disables it.
func WithGreeting(text string) Option {
	return func(m *Model) { m.greeting = text }
}

// WithScript replaces the scripted turns.
func WithScript(turns []SimulatedTurn) Option {
	return func(m *Model) { m.script = turns }
}

// WithFramesPerTurn sets how many audio frames make up one spoken turn.
func WithFramesPerTurn(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.framesPerTurn = n
		}
	}
}

// Model implements realtime.Model with scripted responses. Events are
// emitted in order from a single goroutine.
type Model struct {
	greeting      string
	script        []SimulatedTurn
	framesPerTurn int

	mu        sync.Mutex
	handler   realtime.Handler
	frames    int
	turn      int
	closed    bool
	events    chan func(realtime.Handler)
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a scripted model.
func New(opts ...Option) *Model {
	m := &Model{
		greeting:      DefaultGreeting,
		script:        DefaultScript,
		framesPerTurn: 50,
		events:        make(chan func(realtime.Handler), 64),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dial matches realtime.Dialer and returns a model with default settings.
func Dial(ctx context.Context, opts realtime.Options) (realtime.Model, error) {
	return New(), nil
}

func (m *Model) Provider() string {
	return "mock"
}

func (m *Model) SampleRates() (in, out int) {
	return sampleRate, sampleRate
}

func (m *Model) Start(ctx context.Context, h realtime.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return realtime.ErrClosed
	}
	m.handler = h
	go m.emitLoop(ctx)

	if m.greeting != "" {
		greeting := m.greeting
		m.enqueueLocked(func(h realtime.Handler) {
			h.OnUtterance(models.RoleAssistant, greeting)
			h.OnAudio(make([]int16, sampleRate/50))
		})
	}
	return nil
}

// SendAudio counts frames and plays the next scripted turn once enough have
// arrived, simulating end-of-utterance detection.
func (m *Model) SendAudio(ctx context.Context, samples []int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.handler == nil {
		return nil
	}

	m.frames++
	if m.frames < m.framesPerTurn || len(m.script) == 0 {
		return nil
	}
	m.frames = 0

	turn := m.script[m.turn%len(m.script)]
	m.turn++
	m.enqueueLocked(func(h realtime.Handler) {
		h.OnSpeechStarted()
		h.OnUtterance(models.RoleUser, turn.User)
		h.OnUtterance(models.RoleAssistant, turn.Agent)
	})
	return nil
}

// SendText commits text as a user utterance and echoes it back.
func (m *Model) SendText(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return realtime.ErrClosed
	}
	m.enqueueLocked(func(h realtime.Handler) {
		h.OnUtterance(models.RoleUser, text)
		h.OnUtterance(models.RoleAssistant, "You said: "+text)
	})
	return nil
}

func (m *Model) enqueueLocked(ev func(realtime.Handler)) {
	select {
	case m.events <- ev:
	default:
	}
}

func (m *Model) emitLoop(ctx context.Context) {
	defer m.closeOnce.Do(func() { close(m.done) })
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.closed = true
			m.mu.Unlock()
			return
		case ev, ok := <-m.events:
			if !ok {
				return
			}
			ev(m.handler)
		}
	}
}

func (m *Model) Done() <-chan struct{} {
	return m.done
}

// Close stops the model after already queued events have been delivered.
func (m *Model) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.handler != nil
	close(m.events)
	m.mu.Unlock()

	if started {
		<-m.done
	} else {
		m.closeOnce.Do(func() { close(m.done) })
	}
	return nil
}
