package integration

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedType     = errors.New("integration: unsupported type")
	ErrCredentialSetAbsent = errors.New("integration: credential set not found")

	ErrUnitNotFound     = errors.New("integration: dispatch unit not found")
	ErrUnitNotClaimable = errors.New("integration: dispatch unit is not pending")
	ErrUnitStale        = errors.New("integration: dispatch unit was modified concurrently")
	ErrUnitNotRetryable = errors.New("integration: dispatch unit is not permanently failed")

	ErrBatchNotFound  = errors.New("integration: batch not found")
	ErrBatchFinalized = errors.New("integration: batch already finalized")
	ErrBatchEmpty     = errors.New("integration: batch has no units")
	ErrBatchStale     = errors.New("integration: batch was modified concurrently")
)

// UnsupportedTypeError is returned when no channel is registered for a type.
// errors.Is(err, ErrUnsupportedType) holds for it.
type UnsupportedTypeError struct {
	Type string
}

// NewUnsupportedTypeError creates an UnsupportedTypeError
func NewUnsupportedTypeError(t string) *UnsupportedTypeError {
	return &UnsupportedTypeError{Type: t}
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("Integration type '%s' not supported", e.Type)
}

// Is matches ErrUnsupportedType
func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}
