package state

import "errors"

var (
	// ErrStreamNotFound indicates the stream id is not in the registry.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamExists indicates the stream id is already registered.
	ErrStreamExists = errors.New("stream already exists")

	// ErrNotUploading indicates an operation that requires the Uploading
	// state was attempted on a stream in another state.
	ErrNotUploading = errors.New("stream is not in uploading state")
)
