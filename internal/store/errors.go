package store

import "errors"

// ErrNotFound is returned when a requested token does not exist in the store.
var ErrNotFound = errors.New("not found")
