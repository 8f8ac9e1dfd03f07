package session

import (
	"errors"
	"fmt"
)

// ErrRoomConnection is returned when the room cannot be joined.
var ErrRoomConnection = errors.New("room connection failed")

// Stage names the orchestrator step that failed.
type Stage string

const (
	StageConnect Stage = "connect"
	StageBackend Stage = "backend"
	StageStart   Stage = "start"
)

// Error is returned by Orchestrator.Run.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
