package service

import "errors"

var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized means the entity exists but does not belong to
	// the caller's company, or its credentials are no longer usable.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation rejects a request before any row is created.
	ErrValidation = errors.New("validation failed")
)
