package livekit

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
)

// ErrMissingCredentials is returned when no API key or secret is configured.
var ErrMissingCredentials = errors.New("livekit: api key and secret are required")

// TokenGenerator mints LiveKit access tokens.
type TokenGenerator struct {
	apiKey    string
	apiSecret string
}

func NewTokenGenerator(apiKey, apiSecret string) *TokenGenerator {
	return &TokenGenerator{
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

// ParticipantToken describes a room join token.
type ParticipantToken struct {
	Room     string
	Identity string
	Name     string
	Metadata string
	TTL      time.Duration
	Agent    bool
}

// Generate creates a join token allowed to publish, subscribe and send data.
func (g *TokenGenerator) Generate(p ParticipantToken) (string, error) {
	if g.apiKey == "" || g.apiSecret == "" {
		return "", ErrMissingCredentials
	}

	at := auth.NewAccessToken(g.apiKey, g.apiSecret)

	canPublish := true
	canSubscribe := true
	canPublishData := true

	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           p.Room,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
		Agent:          p.Agent,
	}

	at.AddGrant(grant).
		SetIdentity(p.Identity).
		SetValidFor(p.TTL)
	if p.Name != "" {
		at.SetName(p.Name)
	}
	if p.Metadata != "" {
		at.SetMetadata(p.Metadata)
	}

	return at.ToJWT()
}

// WorkerToken creates the token a worker presents when registering with the
// server's agent endpoint.
func (g *TokenGenerator) WorkerToken(ttl time.Duration) (string, error) {
	if g.apiKey == "" || g.apiSecret == "" {
		return "", ErrMissingCredentials
	}

	at := auth.NewAccessToken(g.apiKey, g.apiSecret)
	at.AddGrant(&auth.VideoGrant{Agent: true}).
		SetValidFor(ttl)
	return at.ToJWT()
}
