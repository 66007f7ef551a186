package api

import (
	"errors"
	"fmt"

	"github.com/okian/errquotient/internal/domain/types"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = types.ErrBadRequest
	ErrBackpressure = types.ErrBackpressure
	ErrNotFound     = errors.New("not found")
)

// KindError tags an error with the operation that produced it and the kind
// the transport maps to a status code.
type KindError struct {
	Op   string
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKind returns a bare error of kind for op.
func NewKind(op string, kind error) error {
	return &KindError{Op: op, Kind: kind}
}

// WrapKind tags err with op and kind.
func WrapKind(op string, kind, err error) error {
	return &KindError{Op: op, Kind: kind, Err: err}
}
