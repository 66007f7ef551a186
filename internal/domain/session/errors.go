package session

import "errors"

// ErrInvalidTimestamp is returned when a timestamp cannot be parsed even
// after normalisation.
var ErrInvalidTimestamp = errors.New("invalid timestamp")
