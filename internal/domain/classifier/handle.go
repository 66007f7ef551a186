package classifier

import (
	"sync/atomic"

	"github.com/okian/errquotient/internal/domain/model"
)

// State is the lifecycle stage of the process-wide model.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateDefault       State = "default"
	StateFitted        State = "fitted"
)

// Handle publishes immutable snapshots. Readers always observe a complete
// snapshot; retraining builds a new one and swaps it in.
type Handle struct {
	current atomic.Pointer[Snapshot]
}

// NewHandle returns a handle holding snap, or an uninitialized one if nil.
func NewHandle(snap *Snapshot) *Handle {
	h := &Handle{}
	if snap != nil {
		h.current.Store(snap)
	}
	return h
}

// Load returns the current snapshot or ErrModelUnavailable.
func (h *Handle) Load() (*Snapshot, error) {
	s := h.current.Load()
	if s == nil {
		return nil, ErrModelUnavailable
	}
	return s, nil
}

// Swap installs snap and returns the previous snapshot.
func (h *Handle) Swap(snap *Snapshot) *Snapshot {
	return h.current.Swap(snap)
}

// State reports the lifecycle stage.
func (h *Handle) State() State {
	s := h.current.Load()
	switch {
	case s == nil:
		return StateUninitialized
	case s.Fitted():
		return StateFitted
	default:
		return StateDefault
	}
}

// Predict loads the current snapshot and predicts with it.
func (h *Handle) Predict(features []float64) (model.Performance, int, error) {
	s, err := h.Load()
	if err != nil {
		return "", 0, err
	}
	return s.Predict(features)
}
