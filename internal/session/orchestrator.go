// Package session runs one voice session: join the room, pick a backend from
// participant preferences, start the conversation and relay transcripts.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai-voice-agent/internal/agent"
	"ai-voice-agent/internal/observability/logging"
	"ai-voice-agent/internal/observability/metrics"
	"ai-voice-agent/internal/realtime"
	"ai-voice-agent/internal/relay"
	"ai-voice-agent/internal/room"
	"ai-voice-agent/internal/voice"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ai-voice-agent/session"

// ModelFactory connects the realtime backend for a resolved configuration.
type ModelFactory interface {
	Build(ctx context.Context, cfg voice.ProviderConfig) (realtime.Model, error)
}

// Orchestrator sequences session setup. It holds no per-session state and
// may run any number of sessions concurrently.
type Orchestrator struct {
	connector room.Connector
	factory   ModelFactory
	logger    zerolog.Logger
	mirror    relay.Mirror
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	inputs    agent.InputOptions
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMirror copies relayed transcripts to m.
func WithMirror(m relay.Mirror) Option {
	return func(o *Orchestrator) { o.mirror = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithInputOptions selects which room inputs reach the model. Both are
// enabled by default.
func WithInputOptions(in agent.InputOptions) Option {
	return func(o *Orchestrator) { o.inputs = in }
}

func New(connector room.Connector, factory ModelFactory, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		connector: connector,
		factory:   factory,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		metrics:   metrics.DefaultMetrics,
		inputs:    agent.DefaultInputOptions(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run sets up a session for inv and returns once it is live. The session
// keeps running until ctx is cancelled, the room goes away, the backend
// connection drops or Live.Close is called.
//
// Errors are *Error values. A room that was joined is always disconnected
// before Run returns an error.
func (o *Orchestrator) Run(ctx context.Context, inv room.Invitation) (*Live, error) {
	id := uuid.NewString()
	logger := logging.WithSession(o.logger, id, inv.RoomName)
	if inv.JobID != "" {
		logger = logger.With().Str("jobId", inv.JobID).Logger()
	}
	lc := NewLifecycle()

	ctx, span := o.tracer.Start(ctx, "session.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("session.room", inv.RoomName),
		),
	)
	defer span.End()

	fail := func(stage Stage, err error) (*Live, error) {
		lc.Terminate()
		o.metrics.RecordSessionFailure(string(stage))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("stage", string(stage)).Msg("Session setup failed")
		return nil, &Error{Stage: stage, Err: err}
	}

	// 1. Join the room.
	_ = lc.Advance(StateConnecting)
	r, err := o.connect(ctx, inv)
	if err != nil {
		return fail(StageConnect, err)
	}
	logger.Info().Str("identity", r.LocalIdentity()).Msg("Joined room")

	// 2. Resolve preferences and dial the backend.
	_ = lc.Advance(StateConfiguringBackend)
	cfg := voice.ResolveConfig(r.RemoteParticipants())
	if !cfg.Recognized() {
		logger.Warn().Str("tag", cfg.Tag).Msg("Unknown voice provider, using primary")
	}
	logger.Info().
		Str("provider", cfg.Provider.String()).
		Bool("customPrompt", cfg.SystemPrompt != "").
		Msg("Voice provider resolved")
	span.SetAttributes(attribute.String("session.provider", cfg.Provider.String()))

	model, err := o.build(logger.WithContext(ctx), cfg)
	if err != nil {
		r.Disconnect()
		return fail(StageBackend, err)
	}

	// 3. Start the conversation. The relay subscribes first so the opening
	// utterance is not missed.
	_ = lc.Advance(StateStarting)
	a := agent.New(r.LocalIdentity(), cfg.Instructions())
	sess := agent.NewSession(model, logger, agent.WithMetrics(o.metrics))

	relayOpts := []relay.Option{
		relay.WithSession(id, r.Name(), cfg.Provider.String()),
		relay.WithMetrics(o.metrics),
		relay.WithContext(ctx),
	}
	if o.mirror != nil {
		relayOpts = append(relayOpts, relay.WithMirror(o.mirror))
	}
	rl := relay.New(r, logger, relayOpts...)
	rl.Attach(sess.Bus())

	if err := o.start(ctx, sess, r, a); err != nil {
		rl.Detach()
		sess.Close()
		model.Close()
		r.Disconnect()
		return fail(StageStart, err)
	}

	_ = lc.Advance(StateLive)
	o.metrics.RecordSessionStart(cfg.Provider.String())
	logger.Info().Msg("Session live")

	live := &Live{
		ID:        id,
		Config:    cfg,
		room:      r,
		model:     model,
		session:   sess,
		relay:     rl,
		lifecycle: lc,
		logger:    logger,
		metrics:   o.metrics,
		started:   time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go live.watch(ctx)
	return live, nil
}

func (o *Orchestrator) connect(ctx context.Context, inv room.Invitation) (room.Room, error) {
	ctx, span := o.tracer.Start(ctx, "session.connect_room")
	defer span.End()

	r, err := o.connector.Connect(ctx, inv)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrRoomConnection, err)
	}
	return r, nil
}

func (o *Orchestrator) build(ctx context.Context, cfg voice.ProviderConfig) (realtime.Model, error) {
	ctx, span := o.tracer.Start(ctx, "session.build_backend",
		trace.WithAttributes(attribute.String("provider", cfg.Provider.String())),
	)
	defer span.End()

	model, err := o.factory.Build(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return model, nil
}

func (o *Orchestrator) start(ctx context.Context, sess *agent.Session, r room.Room, a agent.Agent) error {
	_, span := o.tracer.Start(ctx, "session.start")
	defer span.End()

	// The span context must not bound the session itself.
	if err := sess.Start(ctx, r, a, o.inputs); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Live is a running session.
type Live struct {
	ID     string
	Config voice.ProviderConfig

	room      room.Room
	model     realtime.Model
	session   *agent.Session
	relay     *relay.Relay
	lifecycle *Lifecycle
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	started   time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// State returns the current lifecycle state.
func (l *Live) State() State {
	return l.lifecycle.State()
}

// Done is closed once the session has been torn down.
func (l *Live) Done() <-chan struct{} {
	return l.done
}

// Close ends the session and waits for teardown.
func (l *Live) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *Live) watch(ctx context.Context) {
	reason := "closed"
	select {
	case <-ctx.Done():
		reason = "cancelled"
	case <-l.room.Done():
		reason = "room_disconnected"
	case <-l.model.Done():
		reason = "backend_disconnected"
	case <-l.stop:
	}
	l.teardown(reason)
}

func (l *Live) teardown(reason string) {
	l.relay.Detach()
	if err := l.session.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to close agent session")
	}
	if err := l.model.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to close backend")
	}
	l.room.Disconnect()
	l.lifecycle.Terminate()

	dur := time.Since(l.started)
	l.metrics.RecordSessionEnd(dur.Seconds())
	l.logger.Info().Str("reason", reason).Dur("duration", dur).Msg("Session ended")
	close(l.done)
}
