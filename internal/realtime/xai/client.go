// Package xai connects the primary realtime backend, xAI's Grok voice API,
// through its OpenAI-compatible realtime websocket protocol.
package xai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"ai-voice-agent/internal/models"
	"ai-voice-agent/internal/realtime"

	"github.com/gorilla/websocket"
	"github.com/openai/openai-go/v3/packages/param"
	oairealtime "github.com/openai/openai-go/v3/realtime"
	"github.com/rs/zerolog"
)

const (
	sampleRate         = 24000
	transcriptionModel = "whisper-1"
	handshakeTimeout   = 15 * time.Second
)

// Server event types handled by the client. Both the GA and beta names of
// the audio events are accepted.
const (
	eventError                  = "error"
	eventSpeechStarted          = "input_audio_buffer.speech_started"
	eventInputTranscriptDone    = "conversation.item.input_audio_transcription.completed"
	eventOutputTranscriptDone   = "response.output_audio_transcript.done"
	eventOutputTranscriptDoneV1 = "response.audio_transcript.done"
	eventOutputAudioDelta       = "response.output_audio.delta"
	eventOutputAudioDeltaV1     = "response.audio.delta"
)

// Client is a realtime.Model backed by one websocket connection.
type Client struct {
	conn    *websocket.Conn
	opts    realtime.Options
	logger  zerolog.Logger
	writeMu sync.Mutex

	mu      sync.Mutex
	handler realtime.Handler
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects with the default websocket dialer.
func Dial(ctx context.Context, opts realtime.Options) (realtime.Model, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	c, err := DialWith(ctx, dialer, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DialWith connects using dialer and sends the initial session update.
func DialWith(ctx context.Context, dialer *websocket.Dialer, opts realtime.Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, realtime.ErrMissingCredential
	}

	rawURL, err := endpointURL(opts.Endpoint, opts.Model)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+opts.APIKey)

	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", opts.Endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", opts.Endpoint, err)
	}

	c := &Client{
		conn:   conn,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "xai").Logger(),
		done:   make(chan struct{}),
	}
	if err := c.send(sessionUpdate(opts)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send session update: %w", err)
	}
	return c, nil
}

func endpointURL(endpoint, model string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func sessionUpdate(opts realtime.Options) map[string]any {
	session := oairealtime.RealtimeSessionCreateRequestParam{
		Type:             "realtime",
		Model:            oairealtime.RealtimeSessionCreateRequestModel(opts.Model),
		OutputModalities: []string{"audio"},
		Audio: oairealtime.RealtimeAudioConfigParam{
			Input: oairealtime.RealtimeAudioConfigInputParam{
				Transcription: oairealtime.AudioTranscriptionParam{
					Model: oairealtime.AudioTranscriptionModel(transcriptionModel),
				},
			},
			Output: oairealtime.RealtimeAudioConfigOutputParam{
				Voice: oairealtime.RealtimeAudioConfigOutputVoice(opts.Voice),
			},
		},
	}
	if opts.Instructions != "" {
		session.Instructions = param.NewOpt(opts.Instructions)
	}
	return map[string]any{
		"type":    "session.update",
		"session": &session,
	}
}

func (c *Client) Provider() string {
	return c.opts.Provider
}

func (c *Client) SampleRates() (in, out int) {
	return sampleRate, sampleRate
}

// Start begins reading server events. The connection is closed when ctx is
// cancelled.
func (c *Client) Start(ctx context.Context, h realtime.Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return realtime.ErrClosed
	}
	if c.handler != nil {
		c.mu.Unlock()
		return errors.New("xai: already started")
	}
	c.handler = h
	c.mu.Unlock()

	go c.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	return nil
}

func (c *Client) readLoop() {
	defer c.closeOnce.Do(func() { close(c.done) })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.handler.OnError(fmt.Errorf("xai: read: %w", err))
			}
			return
		}
		c.handleEvent(data)
	}
}

type serverEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Delta      string `json:"delta"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) handleEvent(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Debug().Err(err).Msg("Ignoring undecodable realtime event")
		return
	}

	switch ev.Type {
	case eventInputTranscriptDone:
		c.handler.OnUtterance(models.RoleUser, ev.Transcript)
	case eventOutputTranscriptDone, eventOutputTranscriptDoneV1:
		c.handler.OnUtterance(models.RoleAssistant, ev.Transcript)
	case eventOutputAudioDelta, eventOutputAudioDeltaV1:
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			c.handler.OnError(fmt.Errorf("xai: decode audio delta: %w", err))
			return
		}
		c.handler.OnAudio(realtime.DecodePCM16(pcm))
	case eventSpeechStarted:
		c.handler.OnSpeechStarted()
	case eventError:
		if ev.Error != nil {
			c.handler.OnError(fmt.Errorf("xai: %s: %s", ev.Error.Type, ev.Error.Message))
		} else {
			c.handler.OnError(errors.New("xai: unspecified server error"))
		}
	}
}

func (c *Client) SendAudio(ctx context.Context, samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	return c.send(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(realtime.EncodePCM16(samples)),
	})
}

func (c *Client) SendText(ctx context.Context, text string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := c.send(item); err != nil {
		return err
	}
	return c.send(map[string]any{"type": "response.create"})
}

func (c *Client) send(event any) error {
	if c.isClosed() {
		return realtime.ErrClosed
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the session. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.handler != nil
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	if started {
		<-c.done
	} else {
		c.closeOnce.Do(func() { close(c.done) })
	}
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
