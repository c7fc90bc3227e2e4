// Package errs classifies failures into the three kinds the orchestrator reacts to:
// transient failures are retried, validation failures degrade the output, fatal
// failures abort the run.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindValidation
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Reason codes surfaced on failed or degraded runs.
const (
	CodeRetryExhausted        = "retry_exhausted"
	CodeCheckpointUnavailable = "checkpoint_unavailable"
	CodeIdentityMismatch      = "identity_mismatch"
	CodeStageFailed           = "stage_failed"
	CodeUnknownStage          = "unknown_stage"
	CodeInvalidOutput         = "invalid_output"
	CodeCancelled             = "cancelled"
	CodeLockUnavailable       = "lock_unavailable"
	CodeBrokerUnavailable     = "broker_unavailable"
	CodeInvalidRequest        = "invalid_request"
)

// Error carries a kind and reason code through wrap chains.
type Error struct {
	Kind Kind
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Code != "" {
		b.WriteString(e.Code)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Code: CodeInvalidOutput, Op: op, Err: err}
}

func Fatal(code, op string, err error) error {
	return &Error{Kind: KindFatal, Code: code, Op: op, Err: err}
}

func Fatalf(code, op, format string, args ...any) error {
	return Fatal(code, op, fmt.Errorf(format, args...))
}

// KindOf reports the kind of err. Unclassified errors are inspected: context
// deadlines, network timeouts and well-known vendor messages count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	if looksTransient(err.Error()) {
		return KindTransient
	}
	return KindUnknown
}

func IsTransient(err error) bool  { return KindOf(err) == KindTransient }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsFatal(err error) bool      { return KindOf(err) == KindFatal }

// CodeOf returns the outermost reason code in the chain, or "" if none.
func CodeOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Code != "" {
			return e.Code
		}
		err = e.Err
	}
	return ""
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"rate limit",
	"too many requests",
	"429",
	"502",
	"503",
	"504",
	"unavailable",
}

func looksTransient(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
