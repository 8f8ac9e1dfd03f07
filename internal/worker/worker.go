// Package worker registers with a LiveKit server as an agent worker and runs
// a session for every job the server assigns.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ai-voice-agent/internal/observability/logging"
	"ai-voice-agent/internal/observability/metrics"
	"ai-voice-agent/internal/room"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	tokenTTL         = time.Hour
)

// Config configures the worker.
type Config struct {
	// URL is the LiveKit server URL (ws, wss, http or https).
	URL            string
	AgentName      string
	Version        string
	IdentityPrefix string
	MaxJobs        int
	ReconnectDelay time.Duration
	StatusInterval time.Duration
	// AssignmentTimeout is how long an accepted availability request holds
	// a job slot while waiting for its assignment.
	AssignmentTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxJobs <= 0 {
		c.MaxJobs = 1
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 10 * time.Second
	}
	if c.IdentityPrefix == "" {
		c.IdentityPrefix = "agent"
	}
	if c.AssignmentTimeout <= 0 {
		c.AssignmentTimeout = 15 * time.Second
	}
	return c
}

// TokenSource mints the token presented on registration.
type TokenSource interface {
	WorkerToken(ttl time.Duration) (string, error)
}

// Session is a running job.
type Session interface {
	Done() <-chan struct{}
	Close()
}

// HandlerFunc starts a session for an accepted job. The session must end
// when ctx is cancelled.
type HandlerFunc func(ctx context.Context, inv room.Invitation) (Session, error)

type job struct {
	id     string
	cancel context.CancelFunc
}

// Worker is a LiveKit agent worker.
type Worker struct {
	cfg     Config
	tokens  TokenSource
	handler HandlerFunc
	logger  zerolog.Logger
	metrics *metrics.Metrics
	dialer  *websocket.Dialer
	onState func(registered bool)

	mu       sync.Mutex
	conn     *websocket.Conn
	workerID string
	jobs     map[string]*job
	pending  map[string]time.Time // accepted job id -> slot expiry
	wg       sync.WaitGroup

	writeMu sync.Mutex
}

// Option configures a Worker.
type Option func(*Worker)

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(w *Worker) { w.dialer = d }
}

// WithStateHook calls fn whenever registration is gained or lost.
func WithStateHook(fn func(registered bool)) Option {
	return func(w *Worker) { w.onState = fn }
}

func New(cfg Config, tokens TokenSource, handler HandlerFunc, logger zerolog.Logger, opts ...Option) *Worker {
	w := &Worker{
		cfg:     cfg.withDefaults(),
		tokens:  tokens,
		handler: handler,
		logger:  logging.WithComponent(logger, "worker"),
		metrics: metrics.DefaultMetrics,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		jobs:    make(map[string]*job),
		pending: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WorkerID returns the id assigned by the server, empty while unregistered.
func (w *Worker) WorkerID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workerID
}

// ActiveJobs returns the number of running jobs.
func (w *Worker) ActiveJobs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.jobs)
}

// Run keeps the worker registered until ctx is done, reconnecting after
// connection loss. Running jobs are cancelled and awaited before it returns.
func (w *Worker) Run(ctx context.Context) error {
	endpoint, err := agentURL(w.cfg.URL)
	if err != nil {
		return err
	}

	defer w.wg.Wait()
	for {
		err := w.runConnection(ctx, endpoint)
		if ctx.Err() != nil {
			w.logger.Info().Msg("Worker stopped")
			return nil
		}
		w.logger.Warn().Err(err).Dur("retryIn", w.cfg.ReconnectDelay).Msg("Worker connection lost")
		w.metrics.RecordReconnect()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.ReconnectDelay):
		}
	}
}

func (w *Worker) runConnection(ctx context.Context, endpoint string) error {
	token, err := w.tokens.WorkerToken(tokenTTL)
	if err != nil {
		return fmt.Errorf("mint worker token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := w.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer w.disconnect(conn)

	if err := w.send(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Register{
			Register: &livekit.RegisterWorkerRequest{
				Type:      livekit.JobType_JT_ROOM,
				AgentName: w.cfg.AgentName,
				Version:   w.cfg.Version,
			},
		},
	}); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	msgs := make(chan *livekit.ServerMessage, 16)
	errCh := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go readLoop(conn, msgs, errCh, stop)

	ticker := time.NewTicker(w.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-errCh:
			return err
		case msg := <-msgs:
			w.handleMessage(ctx, msg)
		case <-ticker.C:
			w.sendStatus()
			w.sendPing()
		}
	}
}

func (w *Worker) disconnect(conn *websocket.Conn) {
	conn.Close()

	w.mu.Lock()
	registered := w.workerID != ""
	w.conn = nil
	w.workerID = ""
	clear(w.pending)
	w.mu.Unlock()

	if registered && w.onState != nil {
		w.onState(false)
	}
}

func readLoop(conn *websocket.Conn, msgs chan<- *livekit.ServerMessage, errCh chan<- error, stop <-chan struct{}) {
	for {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
				err = errors.New("server closed connection")
			}
			errCh <- err
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		msg := &livekit.ServerMessage{}
		if err := proto.Unmarshal(payload, msg); err != nil {
			errCh <- fmt.Errorf("decode server message: %w", err)
			return
		}
		select {
		case msgs <- msg:
		case <-stop:
			return
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg *livekit.ServerMessage) {
	switch m := msg.Message.(type) {
	case *livekit.ServerMessage_Register:
		w.mu.Lock()
		w.workerID = m.Register.GetWorkerId()
		w.mu.Unlock()
		w.logger.Info().
			Str("workerId", m.Register.GetWorkerId()).
			Str("agentName", w.cfg.AgentName).
			Msg("Worker registered")
		if w.onState != nil {
			w.onState(true)
		}
		w.sendStatus()

	case *livekit.ServerMessage_Availability:
		w.answerAvailability(m.Availability.GetJob())

	case *livekit.ServerMessage_Assignment:
		w.startJob(ctx, m.Assignment)

	case *livekit.ServerMessage_Termination:
		w.terminateJob(m.Termination.GetJobId())

	case *livekit.ServerMessage_Pong:
		// keepalive

	default:
		w.logger.Debug().Msg("Ignoring unknown server message")
	}
}

func (w *Worker) answerAvailability(j *livekit.Job) {
	now := time.Now()
	w.mu.Lock()
	w.expirePendingLocked(now)
	_, held := w.pending[j.GetId()]
	available := held || len(w.jobs)+len(w.pending) < w.cfg.MaxJobs
	if available {
		w.pending[j.GetId()] = now.Add(w.cfg.AssignmentTimeout)
	}
	w.mu.Unlock()

	w.metrics.RecordAvailability(available)
	logger := logging.WithJob(w.logger, j.GetId(), j.GetRoom().GetName())
	logger.Debug().Bool("available", available).Msg("Availability requested")

	resp := &livekit.AvailabilityResponse{
		JobId:     j.GetId(),
		Available: available,
	}
	if available {
		resp.ParticipantIdentity = w.cfg.IdentityPrefix + "-" + j.GetId()
		resp.ParticipantName = w.participantName()
	}
	if err := w.send(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Availability{Availability: resp},
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to answer availability")
	}
}

// expirePendingLocked releases slots whose assignment never arrived.
func (w *Worker) expirePendingLocked(now time.Time) {
	for id, expiry := range w.pending {
		if now.After(expiry) {
			delete(w.pending, id)
			w.logger.Debug().Str("jobId", id).Msg("Job slot released, no assignment received")
		}
	}
}

func (w *Worker) participantName() string {
	if w.cfg.AgentName != "" {
		return w.cfg.AgentName
	}
	return w.cfg.IdentityPrefix
}

func (w *Worker) startJob(ctx context.Context, a *livekit.JobAssignment) {
	j := a.GetJob()
	serverURL := w.cfg.URL
	if a.Url != nil && a.GetUrl() != "" {
		serverURL = a.GetUrl()
	}
	inv := room.Invitation{
		JobID:    j.GetId(),
		RoomName: j.GetRoom().GetName(),
		URL:      serverURL,
		Token:    a.GetToken(),
		Metadata: j.GetMetadata(),
	}

	jobCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	delete(w.pending, inv.JobID)
	w.jobs[inv.JobID] = &job{id: inv.JobID, cancel: cancel}
	w.mu.Unlock()

	w.wg.Add(1)
	go w.runJob(jobCtx, cancel, inv)
}

func (w *Worker) runJob(ctx context.Context, cancel context.CancelFunc, inv room.Invitation) {
	defer w.wg.Done()
	defer cancel()
	logger := logging.WithJob(w.logger, inv.JobID, inv.RoomName)
	logger.Info().Msg("Job assigned")

	sess, err := w.handler(ctx, inv)
	if err != nil {
		logger.Error().Err(err).Msg("Job failed")
		w.finishJob(inv.JobID)
		w.updateJob(inv.JobID, livekit.JobStatus_JS_FAILED, err.Error())
		w.metrics.RecordJob("failed")
		return
	}
	w.updateJob(inv.JobID, livekit.JobStatus_JS_RUNNING, "")

	select {
	case <-sess.Done():
	case <-ctx.Done():
		sess.Close()
	}

	w.finishJob(inv.JobID)
	w.updateJob(inv.JobID, livekit.JobStatus_JS_SUCCESS, "")
	w.metrics.RecordJob("success")
	logger.Info().Msg("Job finished")
}

func (w *Worker) finishJob(id string) {
	w.mu.Lock()
	delete(w.jobs, id)
	w.mu.Unlock()
	w.sendStatus()
}

func (w *Worker) terminateJob(id string) {
	w.mu.Lock()
	j, ok := w.jobs[id]
	if _, held := w.pending[id]; held {
		delete(w.pending, id)
		w.mu.Unlock()
		w.logger.Debug().Str("jobId", id).Msg("Job terminated before assignment")
		return
	}
	w.mu.Unlock()
	if !ok {
		w.logger.Debug().Str("jobId", id).Msg("Termination for unknown job")
		return
	}
	w.logger.Info().Str("jobId", id).Msg("Job terminated by server")
	j.cancel()
}

func (w *Worker) updateJob(id string, status livekit.JobStatus, errText string) {
	err := w.send(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_UpdateJob{
			UpdateJob: &livekit.UpdateJobStatus{
				JobId:  id,
				Status: status,
				Error:  errText,
			},
		},
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("jobId", id).Str("status", status.String()).Msg("Failed to report job status")
	}
}

func (w *Worker) sendStatus() {
	w.mu.Lock()
	count := len(w.jobs)
	w.mu.Unlock()

	status := livekit.WorkerStatus_WS_AVAILABLE
	if count >= w.cfg.MaxJobs {
		status = livekit.WorkerStatus_WS_FULL
	}
	_ = w.send(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_UpdateWorker{
			UpdateWorker: &livekit.UpdateWorkerStatus{
				Status:   &status,
				Load:     float32(count) / float32(w.cfg.MaxJobs),
				JobCount: uint32(count),
			},
		},
	})
}

func (w *Worker) sendPing() {
	_ = w.send(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Ping{
			Ping: &livekit.WorkerPing{Timestamp: time.Now().UnixMilli()},
		},
	})
}

var errNotConnected = errors.New("worker: not connected")

func (w *Worker) send(msg *livekit.WorkerMessage) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	payload, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode worker message: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// agentURL converts a server URL into the worker endpoint.
func agentURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse livekit url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported livekit url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/agent"
	return u.String(), nil
}
