package pipeline

import "errors"

var (
	// ErrEmptyUserID is returned for a blank user id.
	ErrEmptyUserID = errors.New("empty user id")
	// ErrPersist wraps a failed write of a user's recomputed state.
	ErrPersist = errors.New("persist user state")
)
