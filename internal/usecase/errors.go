package usecase

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrSourceUnavailable     = errors.New("source unavailable")
	ErrSchemaViolation       = errors.New("source schema violation")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
