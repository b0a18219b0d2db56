package qdrant

import (
	"errors"
	"fmt"
)

type OperationErrorCode string

const (
	OperationErrorValidation      OperationErrorCode = "validation"
	OperationErrorEncodeFailed    OperationErrorCode = "encode_failed"
	OperationErrorDecodeFailed    OperationErrorCode = "decode_failed"
	OperationErrorTransportFailed OperationErrorCode = "transport_failed"
	OperationErrorTimeout         OperationErrorCode = "timeout"
	OperationErrorQueryFailed     OperationErrorCode = "query_failed"
)

type OperationError struct {
	Code       OperationErrorCode
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("qdrant %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("qdrant %s: %s", e.Operation, e.Message)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func opError(op string, code OperationErrorCode, message string, err error) *OperationError {
	return &OperationError{
		Code:      code,
		Operation: op,
		Message:   message,
		Err:       err,
	}
}

// IsTransient reports whether a retry has a chance of succeeding.
// Server-side 5xx responses and transport failures qualify, everything
// else is treated as permanent.
func IsTransient(err error) bool {
	var opErrValue *OperationError
	if !errors.As(err, &opErrValue) {
		return false
	}
	switch opErrValue.Code {
	case OperationErrorTimeout, OperationErrorTransportFailed:
		return true
	case OperationErrorQueryFailed:
		return opErrValue.StatusCode >= 500
	default:
		return false
	}
}
