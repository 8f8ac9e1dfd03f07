// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	Service       Service
	LiveKit       LiveKit
	Providers     Providers
	Kafka         Kafka
	Observability Observability
}

type Service struct {
	Name            string        `env:"SERVICE_NAME" envDefault:"ai-voice-agent"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LiveKit holds server credentials and agent worker settings.
type LiveKit struct {
	URL               string        `env:"LIVEKIT_URL" envDefault:"ws://localhost:7880"`
	APIKey            string        `env:"LIVEKIT_API_KEY"`
	APISecret         string        `env:"LIVEKIT_API_SECRET"`
	AgentName         string        `env:"AGENT_NAME"`
	IdentityPrefix    string        `env:"AGENT_IDENTITY_PREFIX" envDefault:"agent"`
	MaxJobs           int           `env:"WORKER_MAX_JOBS" envDefault:"4"`
	ReconnectDelay    time.Duration `env:"WORKER_RECONNECT_DELAY" envDefault:"5s"`
	StatusInterval    time.Duration `env:"WORKER_STATUS_INTERVAL" envDefault:"10s"`
	AssignmentTimeout time.Duration `env:"WORKER_ASSIGNMENT_TIMEOUT" envDefault:"15s"`
}

// Providers holds realtime backend credentials.
type Providers struct {
	XAIAPIKey    string `env:"XAI_API_KEY"`
	GoogleAPIKey string `env:"GOOGLE_API_KEY"`
	// BackendOverride forces a backend regardless of participant preference.
	// Only "mock" is supported.
	BackendOverride string `env:"VOICE_BACKEND_OVERRIDE"`
}

// Kafka configures the optional transcript mirror.
type Kafka struct {
	Enabled   bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers   []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic     string   `env:"KAFKA_TOPIC_TRANSCRIPTS" envDefault:"voice.transcript.final"`
	Principal string   `env:"KAFKA_PRINCIPAL"`
}

type Observability struct {
	MetricsAddr    string `env:"METRICS_ADDR" envDefault:":9090"`
	GRPCHealthPort string `env:"GRPC_HEALTH_PORT" envDefault:"50051"`
	OTelEnabled    bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

var (
	ErrMissingLiveKitKey    = errors.New("LIVEKIT_API_KEY is required")
	ErrMissingLiveKitSecret = errors.New("LIVEKIT_API_SECRET is required")
	ErrUnsupportedOverride  = errors.New("VOICE_BACKEND_OVERRIDE must be empty or \"mock\"")
)

// Load reads .env files when present, without overriding variables already
// set, then parses the environment.
func Load() (*Config, error) {
	loadEnvFiles()
	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.Kafka.Brokers = compact(cfg.Kafka.Brokers)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Name
	}

	override := strings.ToLower(strings.TrimSpace(cfg.Providers.BackendOverride))
	if override != "" && override != "mock" {
		return nil, ErrUnsupportedOverride
	}
	cfg.Providers.BackendOverride = override

	return cfg, nil
}

// ValidateLiveKit checks the credentials every command that talks to a
// LiveKit server needs.
func (c *Config) ValidateLiveKit() error {
	if strings.TrimSpace(c.LiveKit.APIKey) == "" {
		return ErrMissingLiveKitKey
	}
	if strings.TrimSpace(c.LiveKit.APISecret) == "" {
		return ErrMissingLiveKitSecret
	}
	return nil
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}

func compact(items []string) []string {
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
