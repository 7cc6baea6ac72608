package domain

import "errors"

var (
	// ErrMasterNotFound is returned by a HostResolver when no running master
	// can be located.
	ErrMasterNotFound = errors.New("no master found")

	// ErrFuncNotFound is returned when a job names a function the worker has
	// not registered.
	ErrFuncNotFound = errors.New("function not registered")

	// ErrBridgeStopped is returned by submissions made after a client has
	// been stopped or after its connection has closed.
	ErrBridgeStopped = errors.New("client bridge stopped")
)
