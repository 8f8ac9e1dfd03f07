package schema

import (
	"errors"
	"fmt"

	"ai-voice-agent/internal/models"

	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrUnknownRole = errors.New("unknown role")
	ErrEmptyText   = errors.New("empty transcript text")
	ErrNotFinal    = errors.New("transcript is not final")
)

// Validator checks outbound room messages before they are published.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

func (v *Validator) Validate(msg models.TranscriptMessage) error {
	var err error
	switch {
	case msg.Type != models.MessageTypeTranscript:
		err = fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	case !msg.Role.Valid():
		err = fmt.Errorf("%w: %q", ErrUnknownRole, msg.Role)
	case msg.Text == "":
		err = ErrEmptyText
	case !msg.IsFinal:
		err = ErrNotFinal
	}

	if err != nil {
		log.Debug().Err(err).Str("role", string(msg.Role)).Msg("Schema validation failed")
	}
	return err
}
