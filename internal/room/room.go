// Package room defines the room capability a voice session runs against.
//
// The LiveKit implementation lives in the livekit subpackage; tests use
// in-memory fakes.
package room

import (
	"context"
	"sort"
)

// TopicChat is the data topic carrying typed chat messages from participants.
const TopicChat = "lk.chat"

// Participant is a remote member of a room.
type Participant struct {
	Identity string
	Name     string
	Metadata string
}

// Invitation asks the agent to join a room. It is produced by the worker
// from a job assignment, or built directly for one-off sessions.
type Invitation struct {
	JobID    string
	RoomName string
	URL      string
	Token    string
	Metadata string
}

// AudioOutput is a published agent audio track accepting PCM16 mono frames.
type AudioOutput interface {
	WriteAudio(samples []int16) error
	// ClearQueue drops audio that has been written but not yet played.
	ClearQueue()
	Close() error
}

// AudioInput receives PCM16 mono frames from a remote participant.
type AudioInput func(participant string, samples []int16)

// TextInput receives chat text sent by a remote participant.
type TextInput func(sender, text string)

// Room is a connected room. Implementations must be safe for concurrent use.
type Room interface {
	Name() string
	LocalIdentity() string
	// RemoteParticipants returns the current remote members sorted by identity.
	RemoteParticipants() []Participant
	// PublishData sends payload reliably to every participant.
	PublishData(ctx context.Context, payload []byte) error
	PublishAudio(sampleRate int) (AudioOutput, error)
	// SetAudioInput routes remote microphone audio, resampled to sampleRate,
	// to in. A nil in stops routing.
	SetAudioInput(sampleRate int, in AudioInput)
	// SetTextInput routes chat messages to in. A nil in stops routing.
	SetTextInput(in TextInput)
	// Done is closed once the room connection is gone.
	Done() <-chan struct{}
	Disconnect()
}

// Connector joins rooms.
type Connector interface {
	Connect(ctx context.Context, inv Invitation) (Room, error)
}

// SortParticipants orders participants by identity in place.
func SortParticipants(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].Identity < ps[j].Identity
	})
}
