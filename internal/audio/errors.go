package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrNotImplemented is returned by Pause, Resume and the error and
	// interruption hook registrations.
	ErrNotImplemented = errors.New("not implemented")

	// ErrConfigurationMismatch reports a configuration outside the supported
	// set, or audio whose shape does not match the session configuration.
	ErrConfigurationMismatch = errors.New("configuration mismatch")

	// ErrAlreadyRecording is returned by Start while a recording is active.
	ErrAlreadyRecording = errors.New("recording already in progress")

	// ErrSessionClosed is returned by Start after Close.
	ErrSessionClosed = errors.New("session closed")
)

// AcquisitionError reports that the input device could not be opened.
// It leaves the session in its previous non-recording state.
type AcquisitionError struct {
	DeviceID string
	Err      error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire input device %q: %v", e.DeviceID, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}
