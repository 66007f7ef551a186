package model

import "errors"

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")
