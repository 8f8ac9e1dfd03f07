// Package roomtest provides an in-memory room for tests.
package roomtest

import (
	"context"
	"sync"

	"ai-voice-agent/internal/room"
)

// Room records everything published to it.
type Room struct {
	RoomName     string
	Identity     string
	Participants []room.Participant

	// FailPublishOn maps a 1-based PublishData call number to the error
	// that call returns.
	FailPublishOn map[int]error
	AudioErr      error

	mu        sync.Mutex
	published [][]byte
	calls     int
	audio     *AudioOutput
	audioIn   room.AudioInput
	audioRate int
	textIn    room.TextInput

	done     chan struct{}
	doneOnce sync.Once
	leaves   int
}

// New returns a connected fake room.
func New(name string, participants ...room.Participant) *Room {
	return &Room{
		RoomName:     name,
		Identity:     "agent-test",
		Participants: participants,
		done:         make(chan struct{}),
	}
}

func (r *Room) Name() string          { return r.RoomName }
func (r *Room) LocalIdentity() string { return r.Identity }

func (r *Room) RemoteParticipants() []room.Participant {
	out := append([]room.Participant(nil), r.Participants...)
	room.SortParticipants(out)
	return out
}

func (r *Room) PublishData(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err := r.FailPublishOn[r.calls]; err != nil {
		return err
	}
	r.published = append(r.published, append([]byte(nil), payload...))
	return nil
}

// Published returns the payloads published so far.
func (r *Room) Published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.published))
	for i, p := range r.published {
		out[i] = string(p)
	}
	return out
}

func (r *Room) PublishAudio(sampleRate int) (room.AudioOutput, error) {
	if r.AudioErr != nil {
		return nil, r.AudioErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = &AudioOutput{SampleRate: sampleRate}
	return r.audio, nil
}

// Audio returns the last published audio output.
func (r *Room) Audio() *AudioOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audio
}

func (r *Room) SetAudioInput(sampleRate int, in room.AudioInput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioIn = in
	r.audioRate = sampleRate
}

func (r *Room) SetTextInput(in room.TextInput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textIn = in
}

// SpeakAs delivers microphone audio as if participant were talking.
func (r *Room) SpeakAs(participant string, samples []int16) bool {
	r.mu.Lock()
	in := r.audioIn
	r.mu.Unlock()
	if in == nil {
		return false
	}
	in(participant, samples)
	return true
}

// ChatAs delivers a chat message as if sent by sender.
func (r *Room) ChatAs(sender, text string) bool {
	r.mu.Lock()
	in := r.textIn
	r.mu.Unlock()
	if in == nil {
		return false
	}
	in(sender, text)
	return true
}

// Inputs reports whether audio and text inputs are routed.
func (r *Room) Inputs() (audio, text bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioIn != nil, r.textIn != nil
}

func (r *Room) Done() <-chan struct{} { return r.done }

// Close simulates the room going away.
func (r *Room) Close() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *Room) Disconnect() {
	r.mu.Lock()
	r.leaves++
	r.mu.Unlock()
	r.Close()
}

// Disconnects returns how often Disconnect was called.
func (r *Room) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaves
}

// AudioOutput records agent audio.
type AudioOutput struct {
	SampleRate int

	mu      sync.Mutex
	samples int
	clears  int
	closed  bool
}

func (o *AudioOutput) WriteAudio(samples []int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples += len(samples)
	return nil
}

func (o *AudioOutput) ClearQueue() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clears++
}

func (o *AudioOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// Stats returns samples written, queue clears and whether the track closed.
func (o *AudioOutput) Stats() (samples, clears int, closed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.samples, o.clears, o.closed
}

// Connector hands out a prepared room or fails.
type Connector struct {
	Room *Room
	Err  error

	mu          sync.Mutex
	invitations []room.Invitation
}

func (c *Connector) Connect(ctx context.Context, inv room.Invitation) (room.Room, error) {
	c.mu.Lock()
	c.invitations = append(c.invitations, inv)
	c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Room, nil
}

// Invitations returns the invitations seen so far.
func (c *Connector) Invitations() []room.Invitation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]room.Invitation(nil), c.invitations...)
}
