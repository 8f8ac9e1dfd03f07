package realtime

import (
	"context"
	"fmt"
	"time"

	"ai-voice-agent/internal/observability/metrics"
	"ai-voice-agent/internal/voice"

	"github.com/rs/zerolog"
)

// Dialer opens a vendor connection.
type Dialer func(ctx context.Context, opts Options) (Model, error)

// Credentials holds the vendor API keys read from the environment.
type Credentials struct {
	PrimaryAPIKey   string
	SecondaryAPIKey string
}

// Factory builds the realtime model for a resolved provider configuration.
type Factory struct {
	creds    Credentials
	dialers  map[voice.Provider]Dialer
	override Dialer
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithDialer registers the dialer used for provider p.
func WithDialer(p voice.Provider, d Dialer) FactoryOption {
	return func(f *Factory) {
		f.dialers[p] = d
	}
}

// WithOverride makes every Build use d regardless of provider. Credential
// checks are skipped. Used for offline development.
func WithOverride(d Dialer) FactoryOption {
	return func(f *Factory) {
		f.override = d
	}
}

// WithFactoryMetrics sets the metrics sink.
func WithFactoryMetrics(m *metrics.Metrics) FactoryOption {
	return func(f *Factory) {
		f.metrics = m
	}
}

func NewFactory(creds Credentials, logger zerolog.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		creds:   creds,
		dialers: make(map[voice.Provider]Dialer),
		logger:  logger.With().Str("component", "realtime_factory").Logger(),
		metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Options returns the connection options for cfg. The secondary vendor gets
// instructions only when the participant supplied a prompt; the primary
// vendor always gets explicit instructions.
func (f *Factory) Options(cfg voice.ProviderConfig) Options {
	s := cfg.Settings()
	opts := Options{
		Endpoint: s.Endpoint,
		Model:    s.Model,
		Voice:    s.Voice,
	}

	switch cfg.Provider {
	case voice.Secondary:
		opts.Provider = voice.Secondary.String()
		opts.APIKey = f.creds.SecondaryAPIKey
		opts.Instructions = cfg.SystemPrompt
	default:
		opts.Provider = voice.Primary.String()
		opts.APIKey = f.creds.PrimaryAPIKey
		opts.Instructions = cfg.Instructions()
	}
	return opts
}

// Build connects the backend for cfg. Every error wraps
// ErrBackendUnavailable. A logger carried by ctx replaces the factory's own
// and is handed to the connection.
func (f *Factory) Build(ctx context.Context, cfg voice.ProviderConfig) (Model, error) {
	opts := f.Options(cfg)

	base := f.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		base = l.With().Str("component", "realtime_factory").Logger()
	}
	logger := base.With().Str("provider", opts.Provider).Str("model", opts.Model).Logger()
	opts.Logger = logger

	dial := f.dialers[voice.Provider(opts.Provider)]
	if f.override != nil {
		logger.Warn().Msg("Backend override active, ignoring resolved provider")
		dial = f.override
	} else {
		s := cfg.Settings()
		if s.CredentialRequired && opts.APIKey == "" {
			f.metrics.RecordBackendError(opts.Provider, "credential")
			return nil, &BackendError{
				Provider: opts.Provider,
				Err:      fmt.Errorf("%w: %s is not set", ErrMissingCredential, s.CredentialEnv),
			}
		}
	}
	if dial == nil {
		return nil, &BackendError{Provider: opts.Provider, Err: ErrNoDialer}
	}

	start := time.Now()
	model, err := dial(ctx, opts)
	f.metrics.RecordBackendConnect(opts.Provider, err, time.Since(start).Seconds())
	if err != nil {
		logger.Error().Err(err).Msg("Backend connection failed")
		return nil, &BackendError{Provider: opts.Provider, Err: err}
	}

	logger.Info().
		Dur("latency", time.Since(start)).
		Bool("customInstructions", cfg.SystemPrompt != "").
		Msg("Backend connected")
	return model, nil
}
