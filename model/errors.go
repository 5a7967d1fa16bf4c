package model

import "errors"

var (
	ErrUnavailable           = errors.New("service unavailable")
	ErrNotFound              = errors.New("not found")
	ErrTranscriptUnavailable = errors.New("transcript unavailable")
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrConfiguration         = errors.New("configuration error")
	ErrIntegrity             = errors.New("store integrity violation")
	// ErrInterrupted marks a run whose process stopped before finishing it.
	ErrInterrupted = errors.New("interrupted")
)

type ErrorKind string

const (
	KindTransient     ErrorKind = "transient"
	KindTerminal      ErrorKind = "terminal"
	KindQuota         ErrorKind = "quota"
	KindConfiguration ErrorKind = "configuration"
	KindIntegrity     ErrorKind = "integrity"
)

// KindOf maps an error onto the failure taxonomy. Anything unrecognized,
// timeouts included, is treated as transient.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuota
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTranscriptUnavailable):
		return KindTerminal
	default:
		return KindTransient
	}
}
