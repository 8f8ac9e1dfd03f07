package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ai-voice-agent/internal/models"
	"ai-voice-agent/internal/observability/metrics"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testRecord() models.TranscriptRecord {
	return models.TranscriptRecord{
		EventType: models.EventTypeTranscriptFinal,
		SessionID: "s-1",
		Room:      "demo",
		Provider:  "primary",
		Role:      models.RoleUser,
		Text:      "hello",
	}
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writer != nil {
				t.Error("expected nil writer when disabled")
			}
		})
	}
}

func TestNew_Enabled(t *testing.T) {
	p := New(&Config{
		Enabled:   true,
		Brokers:   []string{"localhost:9092"},
		Topic:     "voice.transcript.final",
		Principal: "ai-voice-agent",
	})
	defer p.Close()

	if !p.Enabled() {
		t.Fatal("expected publisher to be enabled")
	}
	w, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected *kafka.Writer, got %T", p.writer)
	}
	if w.Topic != "voice.transcript.final" {
		t.Errorf("unexpected topic %s", w.Topic)
	}
}

func TestPublisher_PublishTranscript_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, Topic: "t"})

	if err := p.PublishTranscript(context.Background(), "s-1", testRecord()); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishTranscript_Writes(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, topic: "t", principal: "svc", enabled: true, metrics: metrics.DefaultMetrics}

	if err := p.PublishTranscript(context.Background(), "s-1", testRecord()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "s-1" {
		t.Errorf("expected key s-1, got %s", msg.Key)
	}

	var decoded models.TranscriptRecord
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Text != "hello" || decoded.Role != models.RoleUser {
		t.Errorf("unexpected record: %+v", decoded)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != models.EventTypeTranscriptFinal || headers["principal"] != "svc" {
		t.Errorf("unexpected headers: %v", headers)
	}
}

func TestPublisher_PublishTranscript_WriteError(t *testing.T) {
	writeErr := errors.New("broker down")
	p := &Publisher{writer: &fakeWriter{err: writeErr}, topic: "t", enabled: true, metrics: metrics.DefaultMetrics}

	if err := p.PublishTranscript(context.Background(), "s-1", testRecord()); !errors.Is(err, writeErr) {
		t.Errorf("expected write error, got %v", err)
	}
}

func TestPublisher_Close(t *testing.T) {
	if err := New(&Config{Enabled: false}).Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}

	w := &fakeWriter{}
	p := &Publisher{writer: w}
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.closed {
		t.Error("expected writer to be closed")
	}
}
