package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for retry and response-mapping decisions.
type Kind string

const (
	KindValidation Kind = "validation"
	KindTransient  Kind = "transient"
	KindConflict   Kind = "conflict"
	KindGeneration Kind = "generation"
	KindInternal   Kind = "internal"
)

type CustomizedError struct {
	cause   error
	message string
	trace   []string
	wrap    error
	code    int
	kind    Kind
	data    map[string]interface{}
}

func New(trace, message string, err error) *CustomizedError {
	return &CustomizedError{
		cause:   err,
		message: message,
		trace:   []string{trace},
		code:    http.StatusInternalServerError,
		kind:    KindInternal,
	}
}

func Wrap(err error, trace, message string) *CustomizedError {
	ce := &CustomizedError{
		cause:   err,
		message: message,
		trace:   []string{trace},
		wrap:    err,
		kind:    KindInternal,
	}
	if income, ok := err.(*CustomizedError); ok {
		ce.code = income.code
		ce.kind = income.kind
	}
	return ce
}

func Trace(trace string, err error) *CustomizedError {
	if ce, ok := err.(*CustomizedError); ok {
		ce.trace = append(ce.trace, trace)
		return ce
	}
	return Wrap(err, trace, err.Error())
}

func (e *CustomizedError) WithData(data map[string]interface{}) *CustomizedError {
	e.data = data
	return e
}

func (e *CustomizedError) Code(c int) *CustomizedError {
	e.code = c
	return e
}

func (e *CustomizedError) GetCode() int {
	return e.code
}

func (e *CustomizedError) Kind(k Kind) *CustomizedError {
	e.kind = k
	return e
}

func (e *CustomizedError) GetKind() Kind {
	return e.kind
}

func (e *CustomizedError) Unwrap() error {
	if e.wrap != nil {
		return e.wrap
	}
	return e.cause
}

func (e *CustomizedError) Message() string {
	if e.message == "" {
		return e.cause.Error()
	}
	return e.message
}

func (e *CustomizedError) Error() string {
	otherDetails := `""`
	if ce, ok := e.wrap.(*CustomizedError); ok {
		otherDetails = ce.Error()
	} else if e.wrap != nil {
		otherDetails = fmt.Sprint("\"", e.wrap.Error(), "\"")
	}
	return fmt.Sprintf(`{"trace":"%s","code":%d,"kind":"%s","msg":"%s","error":"%v","wrapd":%s}`, strings.Join(e.trace, "->"), e.code, e.kind, e.message, e.cause, otherDetails)
}

func kindOf(err error) Kind {
	if ce, ok := err.(*CustomizedError); ok {
		return ce.kind
	}
	return KindInternal
}

// IsValidation reports whether err was rejected before any side effect.
func IsValidation(err error) bool {
	return kindOf(err) == KindValidation
}

// IsTransient reports whether the operation may succeed if retried.
func IsTransient(err error) bool {
	return kindOf(err) == KindTransient
}

// IsConflict reports whether err lost a concurrency race, such as a
// held conversation lock or a duplicate active task.
func IsConflict(err error) bool {
	return kindOf(err) == KindConflict
}

// IsGeneration reports whether a model call failed after prior steps
// already committed their effects.
func IsGeneration(err error) bool {
	return kindOf(err) == KindGeneration
}
