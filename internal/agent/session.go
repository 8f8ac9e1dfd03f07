package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ai-voice-agent/internal/models"
	"ai-voice-agent/internal/observability/metrics"
	"ai-voice-agent/internal/realtime"
	"ai-voice-agent/internal/room"

	"github.com/rs/zerolog"
)

var ErrAlreadyStarted = errors.New("agent session already started")

// Session runs one conversation. It implements realtime.Handler.
type Session struct {
	model   realtime.Model
	bus     *realtime.Bus
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	room    room.Room
	agent   Agent
	out     room.AudioOutput
	linked  string
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithBus replaces the default bus.
func WithBus(b *realtime.Bus) Option {
	return func(s *Session) { s.bus = b }
}

func NewSession(model realtime.Model, logger zerolog.Logger, opts ...Option) *Session {
	s := &Session{
		model:   model,
		logger:  logger.With().Str("component", "agent_session").Logger(),
		metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = realtime.NewBus(realtime.WithDropHandler(s.onDrop))
	}
	return s
}

// Bus carries committed utterances for this session.
func (s *Session) Bus() *realtime.Bus {
	return s.bus
}

// Agent returns the identity the session was started with.
func (s *Session) Agent() Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// Start binds the model to r and begins the conversation.
func (s *Session) Start(ctx context.Context, r room.Room, a Agent, in InputOptions) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.room = r
	s.agent = a
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	inRate, outRate := s.model.SampleRates()

	if in.AudioEnabled {
		out, err := r.PublishAudio(outRate)
		if err != nil {
			return fmt.Errorf("publish agent audio: %w", err)
		}
		s.mu.Lock()
		s.out = out
		s.mu.Unlock()
	}

	if err := s.model.Start(s.ctx, s); err != nil {
		return fmt.Errorf("start realtime model: %w", err)
	}

	if in.AudioEnabled {
		r.SetAudioInput(inRate, s.onRoomAudio)
	}
	if in.TextEnabled {
		r.SetTextInput(s.onRoomText)
	}

	s.logger.Info().
		Str("agent", a.Identity).
		Int("instructionsLen", len(a.Instructions)).
		Str("provider", s.model.Provider()).
		Bool("audio", in.AudioEnabled).
		Bool("text", in.TextEnabled).
		Msg("Conversation started")
	return nil
}

// OnUtterance publishes a committed utterance on the bus.
func (s *Session) OnUtterance(role models.Role, text string) {
	s.bus.Publish(realtime.Utterance{Role: role, Text: text, At: time.Now()})
}

// OnAudio plays agent speech into the room.
func (s *Session) OnAudio(samples []int16) {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	if out == nil {
		return
	}
	if err := out.WriteAudio(samples); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write agent audio")
	}
}

// OnSpeechStarted drops queued agent speech when the user barges in.
func (s *Session) OnSpeechStarted() {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	if out != nil {
		out.ClearQueue()
	}
}

func (s *Session) OnError(err error) {
	s.metrics.RecordBackendError(s.model.Provider(), "runtime")
	s.logger.Warn().Err(err).Msg("Realtime model error")
}

// onRoomAudio forwards microphone audio from the first participant heard.
func (s *Session) onRoomAudio(participant string, samples []int16) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.linked == "" {
		s.linked = participant
		s.logger.Info().Str("participant", participant).Msg("Linked participant audio")
	}
	linked := s.linked
	ctx := s.ctx
	s.mu.Unlock()

	if participant != linked {
		return
	}
	if err := s.model.SendAudio(ctx, samples); err != nil && !errors.Is(err, realtime.ErrClosed) {
		s.logger.Debug().Err(err).Msg("Failed to send audio to model")
	}
}

func (s *Session) onRoomText(sender, text string) {
	s.mu.Lock()
	closed := s.closed
	ctx := s.ctx
	s.mu.Unlock()
	if closed {
		return
	}

	s.logger.Debug().Str("sender", sender).Msg("Chat message received")
	if err := s.model.SendText(ctx, text); err != nil && !errors.Is(err, realtime.ErrClosed) {
		s.logger.Warn().Err(err).Msg("Failed to send text to model")
	}
}

func (s *Session) onDrop(ch realtime.Channel) {
	s.metrics.RecordBusDrop(string(ch))
	s.logger.Warn().Str("channel", string(ch)).Msg("Utterance dropped for slow subscriber")
}

// Close stops room inputs, the audio track and the bus. The model is owned
// by the caller. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	r := s.room
	out := s.out
	s.out = nil
	cancel := s.cancel
	s.mu.Unlock()

	if r != nil {
		r.SetAudioInput(0, nil)
		r.SetTextInput(nil)
	}
	if cancel != nil {
		cancel()
	}
	s.bus.Close()

	if out != nil {
		return out.Close()
	}
	return nil
}
