package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-voice-agent/internal/models"
	"ai-voice-agent/internal/observability/metrics"
	"ai-voice-agent/internal/realtime"
	"ai-voice-agent/internal/realtime/mock"
	"ai-voice-agent/internal/room"
	"ai-voice-agent/internal/room/roomtest"
	"ai-voice-agent/internal/voice"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type fakeFactory struct {
	mu      sync.Mutex
	configs []voice.ProviderConfig
	model   realtime.Model
	err     error
}

func (f *fakeFactory) Build(ctx context.Context, cfg voice.ProviderConfig) (realtime.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	return f.model, nil
}

func (f *fakeFactory) builds() []voice.ProviderConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]voice.ProviderConfig(nil), f.configs...)
}

// failingModel fails to start.
type failingModel struct {
	*mock.Model
	closed bool
}

func (m *failingModel) Start(ctx context.Context, h realtime.Handler) error {
	return errors.New("vendor rejected session")
}

func (m *failingModel) Close() error {
	m.closed = true
	return m.Model.Close()
}

func newTestOrchestrator(r *roomtest.Room, f *fakeFactory) (*Orchestrator, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	o := New(&roomtest.Connector{Room: r}, f, zerolog.Nop(), WithMetrics(m))
	return o, m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func contains(msgs []string, want string) bool {
	for _, m := range msgs {
		if m == want {
			return true
		}
	}
	return false
}

func TestOrchestrator_Run_GreetingRelayed(t *testing.T) {
	r := roomtest.New("demo", room.Participant{Identity: "user-1", Metadata: `{"voiceProvider":"secondary"}`})
	f := &fakeFactory{model: mock.New(mock.WithGreeting("Hi there"))}
	o, m := newTestOrchestrator(r, f)

	live, err := o.Run(context.Background(), room.Invitation{RoomName: "demo", URL: "ws://x", Token: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer live.Close()

	if live.State() != StateLive {
		t.Errorf("expected LIVE, got %s", live.State())
	}
	if live.Config.Provider != voice.Secondary {
		t.Errorf("expected secondary provider, got %s", live.Config.Provider)
	}
	if live.ID == "" {
		t.Error("expected session id")
	}

	want := `{"type":"transcript","role":"assistant","text":"Hi there","isFinal":true}`
	waitFor(t, "greeting transcript", func() bool { return contains(r.Published(), want) })

	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Errorf("expected 1 active session, got %v", got)
	}
}

func TestOrchestrator_Run_ChatRoundTrip(t *testing.T) {
	r := roomtest.New("demo", room.Participant{Identity: "user-1"})
	f := &fakeFactory{model: mock.New(mock.WithGreeting(""))}
	o, _ := newTestOrchestrator(r, f)

	live, err := o.Run(context.Background(), room.Invitation{RoomName: "demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer live.Close()

	if !r.ChatAs("user-1", "hello") {
		t.Fatal("expected text input to be routed")
	}

	user := `{"type":"transcript","role":"user","text":"hello","isFinal":true}`
	agent := `{"type":"transcript","role":"assistant","text":"You said: hello","isFinal":true}`
	waitFor(t, "both transcripts", func() bool {
		msgs := r.Published()
		return contains(msgs, user) && contains(msgs, agent)
	})
}

func TestOrchestrator_Run_DefaultsToPrimary(t *testing.T) {
	r := roomtest.New("demo",
		room.Participant{Identity: "b", Metadata: "{broken"},
		room.Participant{Identity: "a", Metadata: `{"voiceProvider":"claude","systemPrompt":"Be brief."}`},
	)
	f := &fakeFactory{model: mock.New(mock.WithGreeting(""))}
	o, _ := newTestOrchestrator(r, f)

	live, err := o.Run(context.Background(), room.Invitation{RoomName: "demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer live.Close()

	builds := f.builds()
	if len(builds) != 1 {
		t.Fatalf("expected exactly one backend build, got %d", len(builds))
	}
	if builds[0].Provider != voice.Primary || builds[0].SystemPrompt != "Be brief." {
		t.Errorf("unexpected config: %+v", builds[0])
	}
}

func TestOrchestrator_Run_ConnectFailure(t *testing.T) {
	f := &fakeFactory{model: mock.New()}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	o := New(&roomtest.Connector{Err: errors.New("401 unauthorized")}, f, zerolog.Nop(), WithMetrics(m))

	live, err := o.Run(context.Background(), room.Invitation{RoomName: "demo"})
	if live != nil {
		t.Error("expected no live session")
	}
	if !errors.Is(err, ErrRoomConnection) {
		t.Errorf("expected ErrRoomConnection, got %v", err)
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Stage != StageConnect {
		t.Errorf("expected connect stage error, got %v", err)
	}
	if len(f.builds()) != 0 {
		t.Error("backend must not be built without a room")
	}
	if got := testutil.ToFloat64(m.SessionFailures.WithLabelValues("connect")); got != 1 {
		t.Errorf("expected 1 connect failure, got %v", got)
	}
}

func TestOrchestrator_Run_BackendFailureDisconnects(t *testing.T) {
	r := roomtest.New("demo")
	f := &fakeFactory{err: &realtime.BackendError{Provider: "primary", Err: realtime.ErrMissingCredential}}
	o, _ := newTestOrchestrator(r, f)

	_, err := o.Run(context.Background(), room.Invitation{RoomName: "demo"})
	if !errors.Is(err, realtime.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
	if !errors.Is(err, realtime.ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", err)
	}
	if r.Disconnects() != 1 {
		t.Errorf("expected room to be disconnected once, got %d", r.Disconnects())
	}
	if len(r.Published()) != 0 {
		t.Error("expected no transcripts")
	}
}

func TestOrchestrator_Run_StartFailureReleasesEverything(t *testing.T) {
	r := roomtest.New("demo")
	model := &failingModel{Model: mock.New()}
	f := &fakeFactory{model: model}
	o, _ := newTestOrchestrator(r, f)

	_, err := o.Run(context.Background(), room.Invitation{RoomName: "demo"})
	var serr *Error
	if !errors.As(err, &serr) || serr.Stage != StageStart {
		t.Fatalf("expected start stage error, got %v", err)
	}
	if !model.closed {
		t.Error("expected model to be closed")
	}
	if r.Disconnects() != 1 {
		t.Errorf("expected room to be disconnected, got %d", r.Disconnects())
	}
	if audio, text := r.Inputs(); audio || text {
		t.Error("expected inputs to be unrouted")
	}
}

func TestLive_TeardownOnRoomDisconnect(t *testing.T) {
	r := roomtest.New("demo")
	f := &fakeFactory{model: mock.New(mock.WithGreeting(""))}
	o, m := newTestOrchestrator(r, f)

	live, err := o.Run(context.Background(), room.Invitation{RoomName: "demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Close()

	select {
	case <-live.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after room disconnect")
	}
	if live.State() != StateTerminated {
		t.Errorf("expected TERMINATED, got %s", live.State())
	}
	if audio, text := r.Inputs(); audio || text {
		t.Error("expected inputs to be unrouted")
	}
	if _, _, closed := r.Audio().Stats(); !closed {
		t.Error("expected agent audio track to be closed")
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 0 {
		t.Errorf("expected 0 active sessions, got %v", got)
	}

	// Close after teardown is a no-op.
	live.Close()
}

func TestLive_TeardownOnCancel(t *testing.T) {
	r := roomtest.New("demo")
	f := &fakeFactory{model: mock.New(mock.WithGreeting(""))}
	o, _ := newTestOrchestrator(r, f)

	ctx, cancel := context.WithCancel(context.Background())
	live, err := o.Run(ctx, room.Invitation{RoomName: "demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancel()

	select {
	case <-live.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after cancel")
	}
	if r.Disconnects() != 1 {
		t.Errorf("expected one disconnect, got %d", r.Disconnects())
	}
}

func TestLive_NoRelayAfterClose(t *testing.T) {
	r := roomtest.New("demo", room.Participant{Identity: "user-1"})
	model := mock.New(mock.WithGreeting(""))
	f := &fakeFactory{model: model}
	o, _ := newTestOrchestrator(r, f)

	live, err := o.Run(context.Background(), room.Invitation{RoomName: "demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	live.Close()

	before := len(r.Published())
	live.session.OnUtterance(models.RoleAssistant, "too late")
	time.Sleep(20 * time.Millisecond)
	if after := len(r.Published()); after != before {
		t.Errorf("expected no transcripts after close, got %d new", after-before)
	}
}
