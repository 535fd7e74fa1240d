package tutor

import (
	"fmt"

	"github.com/ashureev/visual-study-buddy/internal/domain"
)

// SessionInitError reports that a session could not be constructed.
type SessionInitError struct {
	Subject domain.Subject
	Err     error
}

func (e *SessionInitError) Error() string {
	return e.Err.Error()
}

func (e *SessionInitError) Unwrap() error {
	return e.Err
}

// RemoteError carries the HTTP status of a failed remote call.
type RemoteError struct {
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("remote call failed with status %d", e.Status)
	}
	return e.Err.Error()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status reported by the remote service.
func (e *RemoteError) StatusCode() int {
	return e.Status
}
