package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable matches every error returned by Factory.Build.
	ErrBackendUnavailable = errors.New("realtime backend unavailable")
	ErrMissingCredential  = errors.New("missing provider credential")
	ErrNoDialer           = errors.New("no dialer registered for provider")
	ErrClosed             = errors.New("realtime model closed")
)

// BackendError reports a failure to construct or connect a backend.
type BackendError struct {
	Provider string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("realtime backend %s unavailable: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() []error {
	return []error{ErrBackendUnavailable, e.Err}
}
