package client

import (
	"github.com/google/uuid"
)

// RemoteError is a job that failed on a worker. Its message is the trace
// captured there.
type RemoteError struct {
	JobID string
	Trace string
}

func (e *RemoteError) Error() string {
	return e.Trace
}

// NewJobID returns a fresh random job id.
func NewJobID() string {
	return uuid.NewString()
}
