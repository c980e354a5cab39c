package audit

import (
	"errors"
	"fmt"
)

// ErrRecorderClosed is returned when recording on a closed recorder.
var ErrRecorderClosed = errors.New("audit recorder closed")

// ErrBufferFull is returned when an event is dropped because the buffer is full.
var ErrBufferFull = errors.New("audit buffer full")

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}
