package bridge

import "errors"

var (
	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")

	// ErrUnknownCommand is returned for an unrecognised control payload.
	ErrUnknownCommand = errors.New("bridge: unknown control command")
)
