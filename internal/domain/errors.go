package domain

import "errors"

// Error kinds shared by every task. Concrete errors wrap or match these so
// callers can classify a failure with errors.Is.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrExternalProcess = errors.New("external process failed")
	ErrCancelled       = errors.New("task cancelled")
	ErrTimeout         = errors.New("task timed out")
)

// ErrorKind is the coarse classification carried on failed events.
type ErrorKind string

const (
	ErrorKindNone            ErrorKind = ""
	ErrorKindConfiguration   ErrorKind = "configuration"
	ErrorKindExternalProcess ErrorKind = "external-process"
	ErrorKindCancelled       ErrorKind = "cancelled"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindInternal        ErrorKind = "internal"
)

// ClassifyError maps an error chain onto an ErrorKind.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrCancelled):
		return ErrorKindCancelled
	case errors.Is(err, ErrTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrExternalProcess):
		return ErrorKindExternalProcess
	default:
		return ErrorKindInternal
	}
}
