package apperr

import (
	"errors"
	"fmt"
)

// Code categorizes errors returned by the closing engine.
type Code string

const (
	// CodeValidation marks malformed input: identifiers, categories, thresholds.
	CodeValidation Code = "VALIDATION"

	// CodeNotFound marks a referenced period, incidence or upload that does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodePrecondition marks a user-actionable state problem such as a missing
	// baseline period or a source that has not finished ingestion.
	CodePrecondition Code = "PRECONDITION"

	// CodeConcurrency marks lock contention on a period. Callers retry the whole
	// operation.
	CodeConcurrency Code = "CONCURRENCY"
)

// Error carries enough context for a caller to retry or fix the request.
type Error struct {
	Code     Code
	Reason   string
	Message  string
	PeriodID string
	Key      string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.PeriodID != "" {
		msg += fmt.Sprintf(" (period=%s", e.PeriodID)
		if e.Key != "" {
			msg += fmt.Sprintf(", key=%s", e.Key)
		}
		msg += ")"
	} else if e.Key != "" {
		msg += fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithPeriod returns a copy of e scoped to a period.
func (e *Error) WithPeriod(periodID string) *Error {
	c := *e
	c.PeriodID = periodID
	return &c
}

func Validation(key, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Key: key, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity, id string) *Error {
	return &Error{Code: CodeNotFound, Key: id, Message: entity + " not found"}
}

// Precondition builds a precondition error; reason is a stable machine code
// such as "NO_BASELINE".
func Precondition(reason, format string, args ...any) *Error {
	return &Error{Code: CodePrecondition, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func Concurrency(key string, err error) *Error {
	return &Error{Code: CodeConcurrency, Key: key, Message: "period is locked by another run", Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// ReasonOf returns the precondition reason of err, or "".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
