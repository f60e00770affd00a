package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateAgent indicates that an agent with the same id is already registered
	ErrDuplicateAgent = errors.New("agent already registered")

	// ErrInvalidAgent indicates that an agent is missing required identity fields
	ErrInvalidAgent = errors.New("invalid agent definition")

	// ErrSessionNotFound indicates that no session exists for a conversation id
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded indicates that the conversation session has been closed
	ErrSessionEnded = errors.New("session ended")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)
