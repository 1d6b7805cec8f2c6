package llm

import (
	"context"
)

// Client is a provider-neutral chat completion client.
type Client interface {
	// Synchronous sends a request and blocks for the complete response.
	Synchronous(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a request and returns an event stream. The caller must
	// drain the stream with Next and Close it when finished.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream is an iterator over streaming completion events.
type Stream interface {
	// Next advances to the next event, returning false at end of stream or
	// on error.
	Next() bool

	// Event returns the current event. Valid only after Next returns true.
	Event() *StreamEvent

	// Err returns the error that terminated the stream, if any.
	Err() error

	// Close releases the underlying connection.
	Close() error
}
