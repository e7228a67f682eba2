package client

import "errors"

var (
	// ErrTransportUnavailable is returned when the server cannot be reached
	// or the connection drops before the join is acknowledged. The session
	// keeps retrying.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrTimeout is returned when the join is not acknowledged in time. The
	// session keeps retrying.
	ErrTimeout = errors.New("join acknowledgement timed out")
	// ErrClosed is returned when the session is disconnected before the
	// join is acknowledged.
	ErrClosed = errors.New("session closed")
)
