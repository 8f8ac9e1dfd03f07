package gemini

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-voice-agent/internal/models"
	"ai-voice-agent/internal/realtime"

	"google.golang.org/genai"
)

type fakeSession struct {
	mu     sync.Mutex
	inputs []genai.LiveRealtimeInput
	msgs   chan *genai.LiveServerMessage
	closed chan struct{}
	once   sync.Once

	writing  atomic.Int32
	overlaps atomic.Int32
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		msgs:   make(chan *genai.LiveServerMessage, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) SendRealtimeInput(in genai.LiveRealtimeInput) error {
	if s.writing.Add(1) > 1 {
		s.overlaps.Add(1)
	}
	defer s.writing.Add(-1)
	time.Sleep(50 * time.Microsecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	return nil
}

func (s *fakeSession) Receive() (*genai.LiveServerMessage, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case <-s.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type recordingHandler struct {
	mu         sync.Mutex
	utterances []string
	samples    int
	barges     int
}

func (h *recordingHandler) OnUtterance(role models.Role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.utterances = append(h.utterances, string(role)+":"+text)
}

func (h *recordingHandler) OnAudio(samples []int16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples += len(samples)
}

func (h *recordingHandler) OnSpeechStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.barges++
}

func (h *recordingHandler) OnError(error) {}

func content(sc *genai.LiveServerContent) *genai.LiveServerMessage {
	return &genai.LiveServerMessage{ServerContent: sc}
}

func TestHandleMessage_AssemblesTurns(t *testing.T) {
	h := &recordingHandler{}
	c := newClient(newFakeSession(), "secondary")
	c.handler = h

	c.handleMessage(content(&genai.LiveServerContent{InputTranscription: &genai.Transcription{Text: "what's the "}}))
	c.handleMessage(content(&genai.LiveServerContent{InputTranscription: &genai.Transcription{Text: "weather"}}))
	c.handleMessage(content(&genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: realtime.EncodePCM16([]int16{1, 2})}},
		}},
	}))
	c.handleMessage(content(&genai.LiveServerContent{OutputTranscription: &genai.Transcription{Text: "Sunny "}}))
	c.handleMessage(content(&genai.LiveServerContent{OutputTranscription: &genai.Transcription{Text: "today."}}))
	c.handleMessage(content(&genai.LiveServerContent{TurnComplete: true}))

	want := []string{"user:what's the weather", "assistant:Sunny today."}
	if len(h.utterances) != len(want) {
		t.Fatalf("expected %v, got %v", want, h.utterances)
	}
	for i := range want {
		if h.utterances[i] != want[i] {
			t.Errorf("utterance %d: expected %q, got %q", i, want[i], h.utterances[i])
		}
	}
	if h.samples != 2 {
		t.Errorf("expected 2 samples, got %d", h.samples)
	}
}

func TestHandleMessage_Interrupted(t *testing.T) {
	h := &recordingHandler{}
	c := newClient(newFakeSession(), "secondary")
	c.handler = h

	c.handleMessage(content(&genai.LiveServerContent{OutputTranscription: &genai.Transcription{Text: "Let me"}}))
	c.handleMessage(content(&genai.LiveServerContent{Interrupted: true}))

	if h.barges != 1 {
		t.Errorf("expected 1 interruption, got %d", h.barges)
	}
	if len(h.utterances) != 1 || h.utterances[0] != "assistant:Let me" {
		t.Errorf("expected partial agent turn to be committed, got %v", h.utterances)
	}
}

func TestHandleMessage_FinishedFlag(t *testing.T) {
	h := &recordingHandler{}
	c := newClient(newFakeSession(), "secondary")
	c.handler = h

	c.handleMessage(content(&genai.LiveServerContent{InputTranscription: &genai.Transcription{Text: "hello", Finished: true}}))
	c.handleMessage(content(&genai.LiveServerContent{TurnComplete: true}))
	c.handleMessage(nil)

	if len(h.utterances) != 1 || h.utterances[0] != "user:hello" {
		t.Errorf("expected one user utterance, got %v", h.utterances)
	}
}

func TestClient_SendAndClose(t *testing.T) {
	session := newFakeSession()
	c := newClient(session, "secondary")
	if err := c.Start(context.Background(), &recordingHandler{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.SendAudio(context.Background(), []int16{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session.mu.Lock()
	if len(session.inputs) != 2 {
		t.Fatalf("expected 2 inputs, got %d", len(session.inputs))
	}
	audio := session.inputs[0].Audio
	if audio == nil || audio.MIMEType != "audio/pcm;rate=16000" || len(audio.Data) != 6 {
		t.Errorf("unexpected audio input: %+v", audio)
	}
	if session.inputs[1].Text != "hi" {
		t.Errorf("expected text input, got %q", session.inputs[1].Text)
	}
	session.mu.Unlock()

	c.Close()
	c.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected Done to be closed")
	}
	if err := c.SendText(context.Background(), "late"); !errors.Is(err, realtime.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestConnectConfig(t *testing.T) {
	cfg := connectConfig(realtime.Options{Voice: "Puck"})
	if cfg.SystemInstruction != nil {
		t.Error("expected no system instruction for empty prompt")
	}
	if got := cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Puck" {
		t.Errorf("expected voice Puck, got %q", got)
	}

	cfg = connectConfig(realtime.Options{Voice: "Puck", Instructions: "X"})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "X" {
		t.Error("expected system instruction from prompt")
	}
}

func TestClient_SerializesWrites(t *testing.T) {
	session := newFakeSession()
	c := newClient(session, "secondary")
	defer c.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = c.SendAudio(context.Background(), []int16{1, 2, 3})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = c.SendText(context.Background(), "hi")
		}
	}()
	wg.Wait()

	if n := session.overlaps.Load(); n != 0 {
		t.Errorf("expected serialized session writes, got %d overlapping", n)
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.inputs) != 400 {
		t.Errorf("expected 400 inputs, got %d", len(session.inputs))
	}
}
