package repository

import (
	"errors"

	"github.com/okian/errquotient/internal/domain/model"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound     = model.ErrNotFound
	ErrInvalidLimit = errors.New("invalid page limit")
	ErrClosed       = errors.New("store closed")
	ErrInvalidEvent = errors.New("invalid event")
)
