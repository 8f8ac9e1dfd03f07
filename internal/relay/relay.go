// Package relay republishes committed utterances to the room as transcript
// data messages.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ai-voice-agent/internal/models"
	"ai-voice-agent/internal/observability/metrics"
	"ai-voice-agent/internal/realtime"
	"ai-voice-agent/internal/schema"

	"github.com/rs/zerolog"
)

const (
	mirrorQueueSize = 64
	// mirrorDrainTimeout bounds how long queued records may still be written
	// after Detach.
	mirrorDrainTimeout = 5 * time.Second
)

// ErrPublish wraps every relay failure. It is logged and counted, never
// propagated to the session.
var ErrPublish = errors.New("transcript publish failed")

// Publisher sends opaque payloads to every participant of a room.
type Publisher interface {
	PublishData(ctx context.Context, payload []byte) error
}

// Mirror receives a copy of every relayed transcript.
type Mirror interface {
	PublishTranscript(ctx context.Context, key string, rec models.TranscriptRecord) error
}

// Relay turns bus utterances into room messages. The user and agent streams
// are delivered on separate goroutines, so a slow publish on one never
// delays the other. Mirror writes run on their own goroutine and never hold
// up room delivery.
type Relay struct {
	room      Publisher
	mirror    Mirror
	validator *schema.Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	sessionID string
	roomName  string
	provider  string

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	subs        []*realtime.Subscription
	mirrorQueue chan models.TranscriptRecord
}

// Option configures a Relay.
type Option func(*Relay)

// WithMirror copies transcripts to m.
func WithMirror(m Mirror) Option {
	return func(r *Relay) { r.mirror = m }
}

// WithSession sets the identifiers attached to mirrored records.
func WithSession(sessionID, roomName, provider string) Option {
	return func(r *Relay) {
		r.sessionID = sessionID
		r.roomName = roomName
		r.provider = provider
	}
}

// WithContext bounds room publishes by ctx. Detach cancels the derived
// context either way.
func WithContext(ctx context.Context) Option {
	return func(r *Relay) { r.parent = ctx }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func New(room Publisher, logger zerolog.Logger, opts ...Option) *Relay {
	r := &Relay{
		room:      room,
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
		logger:    logger.With().Str("component", "relay").Logger(),
		parent:    context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(r.parent)

	if r.mirror != nil {
		r.mirrorQueue = make(chan models.TranscriptRecord, mirrorQueueSize)
		go r.runMirror(r.mirrorQueue)
	}
	return r
}

// Attach subscribes to both utterance channels of bus.
func (r *Relay) Attach(bus *realtime.Bus) {
	user := bus.Subscribe(realtime.ChannelUserUtterance, r.onUtterance)
	agent := bus.Subscribe(realtime.ChannelAgentUtterance, r.onUtterance)

	r.mu.Lock()
	r.subs = append(r.subs, user, agent)
	r.mu.Unlock()
}

// Detach unsubscribes from every attached bus and aborts in-flight room
// publishes. Records already queued for the mirror are still written, for
// at most mirrorDrainTimeout, without blocking the caller. It is idempotent.
func (r *Relay) Detach() {
	r.cancel()

	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	queue := r.mirrorQueue
	r.mirrorQueue = nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	if queue != nil {
		close(queue)
	}
}

func (r *Relay) onUtterance(u realtime.Utterance) {
	if r.ctx.Err() != nil {
		return
	}
	// Errors are already logged and counted.
	_ = r.Publish(r.ctx, models.NewFinal(u.Role, u.Text))
}

// Publish sends one transcript event to the room. Whitespace-only text is
// skipped. Errors wrap ErrPublish.
func (r *Relay) Publish(ctx context.Context, ev models.TranscriptEvent) error {
	if strings.TrimSpace(ev.Text) == "" {
		return nil
	}
	role := string(ev.Role)

	msg := ev.Message()
	if err := r.validator.Validate(msg); err != nil {
		return r.fail(role, "invalid", err)
	}

	payload, err := msg.Marshal()
	if err != nil {
		return r.fail(role, "marshal", err)
	}

	if err := r.room.PublishData(ctx, payload); err != nil {
		return r.fail(role, "publish", err)
	}
	r.metrics.RecordTranscriptRelayed(role)
	r.logger.Debug().Str("role", role).Int("bytes", len(payload)).Msg("Transcript relayed")

	r.enqueueMirror(models.TranscriptRecord{
		EventType: models.EventTypeTranscriptFinal,
		SessionID: r.sessionID,
		Room:      r.roomName,
		Provider:  r.provider,
		Timestamp: time.Now().UnixMilli(),
		Role:      ev.Role,
		Text:      ev.Text,
	})
	return nil
}

func (r *Relay) enqueueMirror(rec models.TranscriptRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mirrorQueue == nil {
		return
	}
	select {
	case r.mirrorQueue <- rec:
	default:
		r.metrics.RecordRelayError(string(rec.Role), "mirror_full")
		r.logger.Warn().Str("role", string(rec.Role)).Msg("Transcript mirror queue full, record dropped")
	}
}

// runMirror writes queued records until the queue is closed. Writes made
// after Detach are cut off once mirrorDrainTimeout has passed.
func (r *Relay) runMirror(queue <-chan models.TranscriptRecord) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.ctx.Done():
		case <-ctx.Done():
			return
		}
		timer := time.NewTimer(mirrorDrainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-ctx.Done():
		}
	}()

	for rec := range queue {
		if err := r.mirror.PublishTranscript(ctx, r.sessionID, rec); err != nil {
			r.logger.Warn().Err(err).Str("role", string(rec.Role)).Msg("Transcript mirror failed")
		}
	}
}

func (r *Relay) fail(role, reason string, err error) error {
	r.metrics.RecordRelayError(role, reason)
	r.logger.Error().Err(err).Str("role", role).Str("reason", reason).Msg("Failed to relay transcript")
	return fmt.Errorf("%w: %s: %v", ErrPublish, reason, err)
}
