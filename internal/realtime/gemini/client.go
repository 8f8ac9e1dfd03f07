// Package gemini connects the secondary realtime backend, the Gemini Live
// API, through the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ai-voice-agent/internal/models"
	"ai-voice-agent/internal/realtime"

	"google.golang.org/genai"
)

const (
	inputSampleRate  = 16000
	outputSampleRate = 24000
	inputMIMEType    = "audio/pcm;rate=16000"
)

// liveSession is the subset of *genai.Session the client uses.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Client is a realtime.Model backed by a Gemini Live session.
type Client struct {
	session  liveSession
	provider string

	// The SDK session writes straight to its websocket, which allows a
	// single writer at a time.
	writeMu sync.Mutex

	mu      sync.Mutex
	handler realtime.Handler
	closed  bool

	// Transcription arrives in fragments; these collect the current turn.
	userText  strings.Builder
	agentText strings.Builder

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a Live session. An empty APIKey lets the SDK read
// GOOGLE_API_KEY or GEMINI_API_KEY itself.
func Dial(ctx context.Context, opts realtime.Options) (realtime.Model, error) {
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.Endpoint}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	session, err := client.Live.Connect(ctx, opts.Model, connectConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("gemini: connect %s: %w", opts.Model, err)
	}
	return newClient(session, opts.Provider), nil
}

func newClient(session liveSession, provider string) *Client {
	return &Client{
		session:  session,
		provider: provider,
		done:     make(chan struct{}),
	}
}

func connectConfig(opts realtime.Options) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: opts.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	// No system instruction keeps the model's built-in persona.
	if opts.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.Instructions, genai.RoleUser)
	}
	return cfg
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) SampleRates() (in, out int) {
	return inputSampleRate, outputSampleRate
}

func (c *Client) Start(ctx context.Context, h realtime.Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return realtime.ErrClosed
	}
	if c.handler != nil {
		c.mu.Unlock()
		return errors.New("gemini: already started")
	}
	c.handler = h
	c.mu.Unlock()

	go c.receiveLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	return nil
}

func (c *Client) receiveLoop() {
	defer c.closeOnce.Do(func() { close(c.done) })
	for {
		msg, err := c.session.Receive()
		if err != nil {
			if !c.isClosed() {
				c.handler.OnError(fmt.Errorf("gemini: receive: %w", err))
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg *genai.LiveServerMessage) {
	if msg == nil || msg.ServerContent == nil {
		return
	}
	sc := msg.ServerContent

	if sc.Interrupted {
		c.handler.OnSpeechStarted()
	}

	if t := sc.InputTranscription; t != nil {
		c.userText.WriteString(t.Text)
		if t.Finished {
			c.flush(models.RoleUser, &c.userText)
		}
	}

	if sc.ModelTurn != nil {
		// The user turn is over once the model starts answering.
		c.flush(models.RoleUser, &c.userText)
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil {
				continue
			}
			if strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
				c.handler.OnAudio(realtime.DecodePCM16(part.InlineData.Data))
			}
		}
	}

	if t := sc.OutputTranscription; t != nil {
		c.flush(models.RoleUser, &c.userText)
		c.agentText.WriteString(t.Text)
		if t.Finished {
			c.flush(models.RoleAssistant, &c.agentText)
		}
	}

	if sc.TurnComplete || sc.Interrupted {
		c.flush(models.RoleAssistant, &c.agentText)
	}
}

func (c *Client) flush(role models.Role, buf *strings.Builder) {
	text := strings.TrimSpace(buf.String())
	buf.Reset()
	if text != "" {
		c.handler.OnUtterance(role, text)
	}
}

func (c *Client) SendAudio(ctx context.Context, samples []int16) error {
	if c.isClosed() {
		return realtime.ErrClosed
	}
	if len(samples) == 0 {
		return nil
	}
	return c.send(genai.LiveRealtimeInput{
		Audio: &genai.Blob{
			Data:     realtime.EncodePCM16(samples),
			MIMEType: inputMIMEType,
		},
	})
}

func (c *Client) SendText(ctx context.Context, text string) error {
	if c.isClosed() {
		return realtime.ErrClosed
	}
	return c.send(genai.LiveRealtimeInput{Text: text})
}

func (c *Client) send(input genai.LiveRealtimeInput) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendRealtimeInput(input)
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.handler != nil
	c.mu.Unlock()

	err := c.session.Close()
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
