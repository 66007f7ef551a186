package service

import "github.com/okian/errquotient/internal/domain/types"

var (
	// ErrNotStarted is returned by operations that need the running components.
	ErrNotStarted = types.ErrNotStarted
	// ErrBadRequest marks caller input the service refuses.
	ErrBadRequest = types.ErrBadRequest
	// ErrBackpressure means the recompute queue is full; the event is stored.
	ErrBackpressure = types.ErrBackpressure
)
