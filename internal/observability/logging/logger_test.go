package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Format: "json", Service: "ai-voice-agent"})

	l := WithSession(WithComponent(logger, "session"), "s-1", "demo")
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}

	want := map[string]string{
		"service":   "ai-voice-agent",
		"component": "session",
		"sessionId": "s-1",
		"room":      "demo",
		"message":   "hello",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("expected %s=%q, got %v", k, v, entry[k])
		}
	}
}

func TestWithJob(t *testing.T) {
	var buf bytes.Buffer
	l := WithJob(New(&buf, DefaultConfig()), "job-1", "room-a")
	l.Warn().Msg("x")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry["jobId"] != "job-1" || entry["room"] != "room-a" {
		t.Errorf("missing job fields: %v", entry)
	}
}
