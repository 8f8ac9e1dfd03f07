package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	grpcapi "ai-voice-agent/internal/api/grpc"
	"ai-voice-agent/internal/config"
	"ai-voice-agent/internal/events"
	"ai-voice-agent/internal/observability"
	"ai-voice-agent/internal/observability/logging"
	"ai-voice-agent/internal/observability/tracing"
	"ai-voice-agent/internal/realtime"
	"ai-voice-agent/internal/realtime/gemini"
	"ai-voice-agent/internal/realtime/mock"
	"ai-voice-agent/internal/realtime/xai"
	"ai-voice-agent/internal/room"
	"ai-voice-agent/internal/room/livekit"
	"ai-voice-agent/internal/session"
	"ai-voice-agent/internal/voice"
	"ai-voice-agent/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Version is reported to the server on worker registration.
var Version = "dev"

const agentTokenTTL = 6 * time.Hour

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Readiness   *observability.Readiness

	tokens       *livekit.TokenGenerator
	publisher    *events.Publisher
	orchestrator *session.Orchestrator
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	logger := logging.Init(logging.Config{
		Level:      cfg.Service.LogLevel,
		Format:     cfg.Service.LogFormat,
		TimeFormat: time.RFC3339,
		Service:    cfg.Service.Name,
	})
	return newApplication(cfg, logger, livekit.NewConnector(logger))
}

func newApplication(cfg *config.Config, logger zerolog.Logger, connector room.Connector) *Application {
	a := &Application{
		Cfg:       cfg,
		Logger:    logger,
		Readiness: &observability.Readiness{},
		tokens:    livekit.NewTokenGenerator(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret),
		publisher: events.New(&events.Config{
			Enabled:   cfg.Kafka.Enabled,
			Brokers:   cfg.Kafka.Brokers,
			Topic:     cfg.Kafka.Topic,
			Principal: cfg.Kafka.Principal,
		}),
	}

	factoryOpts := []realtime.FactoryOption{
		realtime.WithDialer(voice.Primary, xai.Dial),
		realtime.WithDialer(voice.Secondary, gemini.Dial),
	}
	if cfg.Providers.BackendOverride == "mock" {
		factoryOpts = append(factoryOpts, realtime.WithOverride(mock.Dial))
	}
	factory := realtime.NewFactory(realtime.Credentials{
		PrimaryAPIKey:   cfg.Providers.XAIAPIKey,
		SecondaryAPIKey: cfg.Providers.GoogleAPIKey,
	}, logger, factoryOpts...)

	a.orchestrator = session.New(connector, factory, logger, session.WithMirror(a.publisher))

	logging.WithComponent(logger, "application").Info().
		Str("environment", cfg.Service.Environment).
		Str("logLevel", cfg.Service.LogLevel).
		Msg("AI voice agent application created")
	return a
}

// Start records the startup time and installs the tracer provider.
func (a *Application) Start(ctx context.Context) (tracing.Shutdown, error) {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("version", Version).
		Msg("AI voice agent starting")

	return tracing.Setup(ctx, tracing.Config{
		ServiceName: a.Cfg.Service.Name,
		Environment: a.Cfg.Service.Environment,
		Enabled:     a.Cfg.Observability.OTelEnabled,
		Endpoint:    a.Cfg.Observability.OTLPEndpoint,
	}, a.Logger)
}

// RunWorker registers as an agent worker and serves jobs until ctx is done.
func (a *Application) RunWorker(ctx context.Context) error {
	shutdownTracing, err := a.Start(ctx)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer a.shutdown(shutdownTracing)

	httpServer := observability.NewServer(a.Cfg.Observability.MetricsAddr, a.Readiness, a.Logger)
	httpServer.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Cfg.Service.ShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	health := grpcapi.New(a.Logger)
	if err := health.Start(a.Cfg.Observability.GRPCHealthPort); err != nil {
		return err
	}
	defer health.Stop()

	w := worker.New(worker.Config{
		URL:               a.Cfg.LiveKit.URL,
		AgentName:         a.Cfg.LiveKit.AgentName,
		Version:           Version,
		IdentityPrefix:    a.Cfg.LiveKit.IdentityPrefix,
		MaxJobs:           a.Cfg.LiveKit.MaxJobs,
		ReconnectDelay:    a.Cfg.LiveKit.ReconnectDelay,
		StatusInterval:    a.Cfg.LiveKit.StatusInterval,
		AssignmentTimeout: a.Cfg.LiveKit.AssignmentTimeout,
	}, a.tokens, a.handleJob, a.Logger, worker.WithStateHook(func(registered bool) {
		a.Readiness.Set(registered)
		health.SetServing(registered)
	}))

	return w.Run(ctx)
}

func (a *Application) handleJob(ctx context.Context, inv room.Invitation) (worker.Session, error) {
	live, err := a.orchestrator.Run(ctx, inv)
	if err != nil {
		return nil, err
	}
	return live, nil
}

// RunSession joins roomName directly and runs one session until it ends or
// ctx is done.
func (a *Application) RunSession(ctx context.Context, roomName string) error {
	shutdownTracing, err := a.Start(ctx)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer a.shutdown(shutdownTracing)

	identity := a.Cfg.LiveKit.IdentityPrefix + "-" + uuid.NewString()[:8]
	token, err := a.tokens.Generate(livekit.ParticipantToken{
		Room:     roomName,
		Identity: identity,
		Name:     a.agentName(),
		TTL:      agentTokenTTL,
		Agent:    true,
	})
	if err != nil {
		return fmt.Errorf("mint agent token: %w", err)
	}

	live, err := a.orchestrator.Run(ctx, room.Invitation{
		RoomName: roomName,
		URL:      a.Cfg.LiveKit.URL,
		Token:    token,
	})
	if err != nil {
		return err
	}

	<-live.Done()
	return nil
}

// MintToken creates a participant join token carrying provider preferences
// as metadata.
func (a *Application) MintToken(roomName, identity string, prefs voice.Metadata, ttl time.Duration) (string, error) {
	if roomName == "" || identity == "" {
		return "", errors.New("room and identity are required")
	}
	metadata, err := prefs.Encode()
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	if metadata == "{}" {
		metadata = ""
	}
	return a.tokens.Generate(livekit.ParticipantToken{
		Room:     roomName,
		Identity: identity,
		Metadata: metadata,
		TTL:      ttl,
	})
}

func (a *Application) agentName() string {
	if a.Cfg.LiveKit.AgentName != "" {
		return a.Cfg.LiveKit.AgentName
	}
	return a.Cfg.Service.Name
}

func (a *Application) shutdown(shutdownTracing tracing.Shutdown) {
	a.Logger.Info().Msg("AI voice agent shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	if err := a.publisher.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to close transcript publisher")
	}
}
