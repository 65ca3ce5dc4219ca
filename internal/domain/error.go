package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid exec context")

	// Pipeline errors
	ErrArtifactMissing = errors.New("artifact missing")
	ErrLeaseHeld       = errors.New("stage lease held by another delivery")
	ErrEmptyAudio      = errors.New("empty audio buffer")
	ErrNoProvider      = errors.New("no provider configured")
)
