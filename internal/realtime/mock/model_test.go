package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-voice-agent/internal/models"
	"ai-voice-agent/internal/realtime"
)

type testHandler struct {
	mu         sync.Mutex
	utterances []string
	audio      int
	barges     int
}

func (h *testHandler) OnUtterance(role models.Role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.utterances = append(h.utterances, string(role)+":"+text)
}

func (h *testHandler) OnAudio(samples []int16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audio += len(samples)
}

func (h *testHandler) OnSpeechStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.barges++
}

func (h *testHandler) OnError(error) {}

func (h *testHandler) getUtterances() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.utterances...)
}

func waitForUtterances(t *testing.T, h *testHandler, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := h.getUtterances(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d utterances, got %v", n, h.getUtterances())
	return nil
}

func TestModel_Greeting(t *testing.T) {
	m := New(WithGreeting("Hi there"))
	h := &testHandler{}
	if err := m.Start(context.Background(), h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Close()

	got := waitForUtterances(t, h, 1)
	if got[0] != "assistant:Hi there" {
		t.Errorf("expected greeting, got %q", got[0])
	}
}

func TestModel_AudioTriggersScriptedTurn(t *testing.T) {
	m := New(
		WithGreeting(""),
		WithFramesPerTurn(3),
		WithScript([]SimulatedTurn{{User: "hello", Agent: "hi"}}),
	)
	h := &testHandler{}
	m.Start(context.Background(), h)
	defer m.Close()

	for i := 0; i < 3; i++ {
		if err := m.SendAudio(context.Background(), make([]int16, 480)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got := waitForUtterances(t, h, 2)
	if got[0] != "user:hello" || got[1] != "assistant:hi" {
		t.Errorf("unexpected turn: %v", got)
	}
}

func TestModel_SendText(t *testing.T) {
	m := New(WithGreeting(""))
	h := &testHandler{}
	m.Start(context.Background(), h)
	defer m.Close()

	m.SendText(context.Background(), "ping")

	got := waitForUtterances(t, h, 2)
	if got[0] != "user:ping" || got[1] != "assistant:You said: ping" {
		t.Errorf("unexpected utterances: %v", got)
	}
}

func TestModel_Close(t *testing.T) {
	m := New()
	m.Start(context.Background(), &testHandler{})

	if err := m.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}

	select {
	case <-m.Done():
	default:
		t.Error("expected Done to be closed")
	}

	if err := m.SendAudio(context.Background(), []int16{1}); err != nil {
		t.Errorf("expected audio after close to be ignored, got %v", err)
	}
	if err := m.SendText(context.Background(), "x"); !errors.Is(err, realtime.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestModel_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := New(WithGreeting(""))
	m.Start(ctx, &testHandler{})

	cancel()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected Done after context cancellation")
	}
}

func TestDial(t *testing.T) {
	model, err := Dial(context.Background(), realtime.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.Provider() != "mock" {
		t.Errorf("expected mock provider, got %s", model.Provider())
	}
}
