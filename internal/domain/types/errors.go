package types

import "errors"

// Error kinds shared by the service and its transports.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("recompute queue is full")
)
