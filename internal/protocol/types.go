package protocol

import "fmt"

// Message tags as they appear on the wire.
const (
	TagTask           = "TaskMessage"
	TagResult         = "ResultMessage"
	TagWorkerRegister = "WorkerRegisterMessage"
	TagWorkerDepart   = "WorkerDepartMessage"
)

// Message is implemented by the four message kinds exchanged between
// clients, the master and workers.
type Message interface {
	Tag() string
}

// TaskMessage describes one job. The three blobs are opaque to the master.
type TaskMessage struct {
	JobID      string
	Func       []byte
	Args       []byte
	Kwargs     []byte
	Dir        string
	SearchPath []string
}

// ResultMessage carries the outcome of a TaskMessage back to its client.
// Payload is the encoded return value when Success is true and the encoded
// failure trace otherwise.
type ResultMessage struct {
	JobID   string
	Success bool
	Payload []byte
}

// WorkerRegisterMessage marks a worker connection as idle.
type WorkerRegisterMessage struct{}

// WorkerDepartMessage withdraws a worker connection from the idle pool.
type WorkerDepartMessage struct{}

func (*TaskMessage) Tag() string           { return TagTask }
func (*ResultMessage) Tag() string         { return TagResult }
func (*WorkerRegisterMessage) Tag() string { return TagWorkerRegister }
func (*WorkerDepartMessage) Tag() string   { return TagWorkerDepart }

// ProtocolError reports a frame that could not be decoded. It is fatal for
// the connection it was read from.
type ProtocolError struct {
	Tag    string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "protocol violation"
	if e.Tag != "" {
		msg += fmt.Sprintf(" in %s", e.Tag)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }
