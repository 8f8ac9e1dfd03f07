package config

import (
	"errors"
	"os"
	"testing"
	"time"
)

var managedVars = []string{
	"SERVICE_NAME", "ENVIRONMENT", "LOG_LEVEL", "LOG_FORMAT", "SHUTDOWN_TIMEOUT",
	"LIVEKIT_URL", "LIVEKIT_API_KEY", "LIVEKIT_API_SECRET", "AGENT_NAME",
	"AGENT_IDENTITY_PREFIX", "WORKER_MAX_JOBS", "WORKER_RECONNECT_DELAY", "WORKER_STATUS_INTERVAL",
	"WORKER_ASSIGNMENT_TIMEOUT",
	"XAI_API_KEY", "GOOGLE_API_KEY", "VOICE_BACKEND_OVERRIDE",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_TRANSCRIPTS", "KAFKA_PRINCIPAL",
	"METRICS_ADDR", "GRPC_HEALTH_PORT", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
}

// clearEnv unsets every variable the config reads and restores them when the
// test ends.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range managedVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Service.Name != "ai-voice-agent" {
		t.Errorf("expected default service name, got %s", cfg.Service.Name)
	}
	if cfg.Service.LogLevel != "info" || cfg.Service.LogFormat != "json" {
		t.Errorf("unexpected log defaults %s/%s", cfg.Service.LogLevel, cfg.Service.LogFormat)
	}
	if cfg.Service.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected 10s shutdown timeout, got %v", cfg.Service.ShutdownTimeout)
	}
	if cfg.LiveKit.URL != "ws://localhost:7880" {
		t.Errorf("expected default livekit url, got %s", cfg.LiveKit.URL)
	}
	if cfg.LiveKit.MaxJobs != 4 || cfg.LiveKit.ReconnectDelay != 5*time.Second || cfg.LiveKit.StatusInterval != 10*time.Second ||
		cfg.LiveKit.AssignmentTimeout != 15*time.Second {
		t.Errorf("unexpected worker defaults: %+v", cfg.LiveKit)
	}
	if cfg.LiveKit.IdentityPrefix != "agent" {
		t.Errorf("expected identity prefix 'agent', got %s", cfg.LiveKit.IdentityPrefix)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected kafka to be disabled by default")
	}
	if cfg.Kafka.Topic != "voice.transcript.final" {
		t.Errorf("expected default topic, got %s", cfg.Kafka.Topic)
	}
	if cfg.Observability.MetricsAddr != ":9090" || cfg.Observability.GRPCHealthPort != "50051" {
		t.Errorf("unexpected observability defaults: %+v", cfg.Observability)
	}
	if cfg.Providers.BackendOverride != "" {
		t.Errorf("expected no override, got %q", cfg.Providers.BackendOverride)
	}
}

func TestParse_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_NAME", "voice-eu")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LIVEKIT_URL", "wss://example.livekit.cloud")
	t.Setenv("WORKER_MAX_JOBS", "16")
	t.Setenv("WORKER_RECONNECT_DELAY", "1s")
	t.Setenv("XAI_API_KEY", "xai-key")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("VOICE_BACKEND_OVERRIDE", " Mock ")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Service.Name != "voice-eu" || cfg.Service.LogLevel != "debug" {
		t.Errorf("unexpected service config: %+v", cfg.Service)
	}
	if cfg.LiveKit.URL != "wss://example.livekit.cloud" || cfg.LiveKit.MaxJobs != 16 || cfg.LiveKit.ReconnectDelay != time.Second {
		t.Errorf("unexpected livekit config: %+v", cfg.LiveKit)
	}
	if cfg.Providers.XAIAPIKey != "xai-key" {
		t.Errorf("expected xai key, got %q", cfg.Providers.XAIAPIKey)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("unexpected kafka config: %+v", cfg.Kafka)
	}
	if cfg.Providers.BackendOverride != "mock" {
		t.Errorf("expected normalized override, got %q", cfg.Providers.BackendOverride)
	}
}

func TestParse_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad int", "WORKER_MAX_JOBS", "many"},
		{"bad duration", "WORKER_RECONNECT_DELAY", "soon"},
		{"bad bool", "KAFKA_ENABLED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Parse(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestParse_UnsupportedOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOICE_BACKEND_OVERRIDE", "openai")

	if _, err := Parse(); !errors.Is(err, ErrUnsupportedOverride) {
		t.Errorf("expected ErrUnsupportedOverride, got %v", err)
	}
}

func TestParse_KafkaPrincipal_FallsBackToServiceName(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_NAME", "my-service")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service name, got %s", cfg.Kafka.Principal)
	}
}

func TestValidateLiveKit(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		secret  string
		wantErr error
	}{
		{"both set", "key", "secret", nil},
		{"missing key", "", "secret", ErrMissingLiveKitKey},
		{"missing secret", "key", " ", ErrMissingLiveKitSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LiveKit: LiveKit{APIKey: tt.key, APISecret: tt.secret}}
			if err := cfg.ValidateLiveKit(); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
