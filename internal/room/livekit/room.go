// Package livekit implements the room capability on top of the LiveKit
// server SDK.
package livekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ai-voice-agent/internal/room"

	media "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const agentTrackName = "agent-voice"

// Connector joins LiveKit rooms with the token carried by an invitation.
type Connector struct {
	logger zerolog.Logger
}

func NewConnector(logger zerolog.Logger) *Connector {
	return &Connector{
		logger: logger.With().Str("component", "livekit").Logger(),
	}
}

// Connect joins the room. Tracks are subscribed on demand once an audio
// input is set, so only microphone audio is pulled.
func (c *Connector) Connect(ctx context.Context, inv room.Invitation) (room.Room, error) {
	if inv.URL == "" || inv.Token == "" {
		return nil, errors.New("livekit: invitation is missing url or token")
	}

	r := newRoom(c.logger.With().Str("room", inv.RoomName).Logger())

	type result struct {
		lk  *lksdk.Room
		err error
	}
	ch := make(chan result, 1)
	go func() {
		lk, err := lksdk.ConnectToRoomWithToken(inv.URL, inv.Token, r.callback(), lksdk.WithAutoSubscribe(false))
		ch <- result{lk: lk, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("livekit: connect to %s: %w", inv.RoomName, res.err)
		}
		r.attach(res.lk)
		return r, nil
	case <-ctx.Done():
		// Leave once the pending connect finishes.
		go func() {
			if res := <-ch; res.lk != nil {
				res.lk.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

// Room is a connected LiveKit room.
type Room struct {
	logger zerolog.Logger

	mu           sync.RWMutex
	lk           *lksdk.Room
	audioIn      room.AudioInput
	audioRate    int
	textIn       room.TextInput
	remoteTracks map[string]*lkmedia.PCMRemoteTrack

	done      chan struct{}
	doneOnce  sync.Once
	leaveOnce sync.Once
}

func newRoom(logger zerolog.Logger) *Room {
	return &Room{
		logger:       logger,
		remoteTracks: make(map[string]*lkmedia.PCMRemoteTrack),
		done:         make(chan struct{}),
	}
}

func (r *Room) attach(lk *lksdk.Room) {
	r.mu.Lock()
	r.lk = lk
	r.mu.Unlock()
}

func (r *Room) client() *lksdk.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lk
}

func (r *Room) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.maybeSubscribe(pub, rp)
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() == webrtc.RTPCodecTypeAudio {
					r.startReader(track, pub.SID(), rp.Identity())
				}
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.stopReader(pub.SID())
			},
			OnDataPacket: r.handleDataPacket,
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			lk := r.client()
			if lk == nil {
				return
			}
			if len(lk.GetRemoteParticipants()) == 0 {
				r.logger.Info().Str("participant", rp.Identity()).Msg("Last participant left, leaving room")
				go r.Disconnect()
			}
		},
		OnDisconnected: func() {
			r.logger.Info().Msg("Disconnected from room")
			r.markDone()
		},
	}
}

func (r *Room) Name() string {
	if lk := r.client(); lk != nil {
		return lk.Name()
	}
	return ""
}

func (r *Room) LocalIdentity() string {
	if lk := r.client(); lk != nil {
		return lk.LocalParticipant.Identity()
	}
	return ""
}

func (r *Room) RemoteParticipants() []room.Participant {
	lk := r.client()
	if lk == nil {
		return nil
	}
	remotes := lk.GetRemoteParticipants()
	out := make([]room.Participant, 0, len(remotes))
	for _, rp := range remotes {
		out = append(out, room.Participant{
			Identity: rp.Identity(),
			Name:     rp.Name(),
			Metadata: rp.Metadata(),
		})
	}
	room.SortParticipants(out)
	return out
}

func (r *Room) PublishData(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lk := r.client()
	if lk == nil {
		return errors.New("livekit: room not connected")
	}
	return lk.LocalParticipant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
	)
}

func (r *Room) PublishAudio(sampleRate int) (room.AudioOutput, error) {
	lk := r.client()
	if lk == nil {
		return nil, errors.New("livekit: room not connected")
	}

	track, err := lkmedia.NewPCMLocalTrack(sampleRate, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	pub, err := lk.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   agentTrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		track.Close()
		return nil, fmt.Errorf("publish audio track: %w", err)
	}

	r.logger.Info().Int("sampleRate", sampleRate).Str("trackSid", pub.SID()).Msg("Agent audio track published")
	return &audioOutput{track: track, participant: lk.LocalParticipant, sid: pub.SID()}, nil
}

func (r *Room) SetAudioInput(sampleRate int, in room.AudioInput) {
	r.mu.Lock()
	r.audioIn = in
	r.audioRate = sampleRate
	var stale []*lkmedia.PCMRemoteTrack
	if in == nil {
		for sid, t := range r.remoteTracks {
			stale = append(stale, t)
			delete(r.remoteTracks, sid)
		}
	}
	lk := r.lk
	r.mu.Unlock()

	for _, t := range stale {
		t.Close()
	}
	if in == nil || lk == nil {
		return
	}

	for _, rp := range lk.GetRemoteParticipants() {
		for _, pub := range rp.TrackPublications() {
			if remotePub, ok := pub.(*lksdk.RemoteTrackPublication); ok {
				r.maybeSubscribe(remotePub, rp)
			}
		}
	}
}

func (r *Room) SetTextInput(in room.TextInput) {
	r.mu.Lock()
	r.textIn = in
	r.mu.Unlock()
}

func (r *Room) maybeSubscribe(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	r.mu.RLock()
	wantAudio := r.audioIn != nil
	r.mu.RUnlock()

	if !wantAudio || pub.Kind() != lksdk.TrackKindAudio || pub.Source() != livekit.TrackSource_MICROPHONE {
		return
	}
	if pub.IsSubscribed() {
		if track := pub.TrackRemote(); track != nil {
			r.startReader(track, pub.SID(), rp.Identity())
		}
		return
	}
	if err := pub.SetSubscribed(true); err != nil {
		r.logger.Warn().Err(err).Str("participant", rp.Identity()).Msg("Failed to subscribe to microphone")
	}
}

func (r *Room) startReader(track *webrtc.TrackRemote, sid, participant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audioIn == nil {
		return
	}
	if _, ok := r.remoteTracks[sid]; ok {
		return
	}

	sink := &pcmSink{participant: participant, sampleRate: r.audioRate, room: r}
	pcm, err := lkmedia.NewPCMRemoteTrack(track, sink, lkmedia.WithTargetSampleRate(r.audioRate))
	if err != nil {
		r.logger.Error().Err(err).Str("participant", participant).Msg("Failed to decode remote audio")
		return
	}
	r.remoteTracks[sid] = pcm
	r.logger.Info().Str("participant", participant).Str("trackSid", sid).Msg("Listening to participant audio")
}

func (r *Room) stopReader(sid string) {
	r.mu.Lock()
	t, ok := r.remoteTracks[sid]
	delete(r.remoteTracks, sid)
	r.mu.Unlock()
	if ok {
		t.Close()
	}
}

func (r *Room) deliverAudio(participant string, samples []int16) {
	r.mu.RLock()
	in := r.audioIn
	r.mu.RUnlock()
	if in != nil {
		in(participant, samples)
	}
}

func (r *Room) handleDataPacket(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
	user := data.ToProto().GetUser()
	if user == nil || user.GetTopic() != room.TopicChat {
		return
	}

	r.mu.RLock()
	in := r.textIn
	r.mu.RUnlock()
	if in == nil {
		return
	}

	if text := chatText(user.GetPayload()); text != "" {
		in(params.SenderIdentity, text)
	}
}

// chatText extracts the message from a chat packet. Clients send either a
// JSON envelope with a "message" field or the bare text.
func chatText(payload []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(payload, &envelope) == nil && envelope.Message != "" {
		return strings.TrimSpace(envelope.Message)
	}
	return strings.TrimSpace(string(payload))
}

func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) markDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

// Disconnect leaves the room and stops all audio readers. It is idempotent.
func (r *Room) Disconnect() {
	r.leaveOnce.Do(func() {
		r.SetAudioInput(0, nil)
		r.SetTextInput(nil)
		if lk := r.client(); lk != nil {
			lk.Disconnect()
		}
		r.markDone()
	})
}

// pcmSink receives decoded remote audio.
type pcmSink struct {
	participant string
	sampleRate  int
	room        *Room
}

func (s *pcmSink) String() string {
	return "pcmSink(" + s.participant + ")"
}

func (s *pcmSink) SampleRate() int {
	return s.sampleRate
}

func (s *pcmSink) WriteSample(sample media.PCM16Sample) error {
	s.room.deliverAudio(s.participant, sample)
	return nil
}

func (s *pcmSink) Close() error {
	return nil
}

// audioOutput is the published agent voice track.
type audioOutput struct {
	track       *lkmedia.PCMLocalTrack
	participant *lksdk.LocalParticipant
	sid         string
	closeOnce   sync.Once
}

func (o *audioOutput) WriteAudio(samples []int16) error {
	return o.track.WriteSample(media.PCM16Sample(samples))
}

func (o *audioOutput) ClearQueue() {
	o.track.ClearQueue()
}

func (o *audioOutput) Close() error {
	var err error
	o.closeOnce.Do(func() {
		err = o.participant.UnpublishTrack(o.sid)
		o.track.Close()
	})
	return err
}
