package tokenstore

import "errors"

var (
	// ErrNotFound indicates no token row exists for the given userID.
	ErrNotFound = errors.New("tokenstore: not found")

	// ErrAlreadyExists indicates a unique constraint was violated on insert.
	ErrAlreadyExists = errors.New("tokenstore: already exists")
)
