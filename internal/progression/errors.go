package progression

import "fmt"

// Kind classifies engine errors so callers can react without parsing messages.
type Kind string

const (
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
)

// Error is the typed error returned by the engine and its stores.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind and Code, so a sentinel matches any error built from it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// withf returns a copy of the sentinel carrying a specific message.
func (e *Error) withf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// wrap returns a copy of the sentinel wrapping a cause.
func (e *Error) wrap(err error, format string, args ...any) *Error {
	out := e.withf(format, args...)
	out.Err = err
	return out
}

var (
	ErrInvalidInput           = &Error{Kind: KindValidation, Code: "invalid_input"}
	ErrInvalidWatchPercentage = &Error{Kind: KindValidation, Code: "invalid_watch_percentage"}
	ErrInvalidAnswer          = &Error{Kind: KindValidation, Code: "invalid_answer"}

	ErrSessionLocked       = &Error{Kind: KindState, Code: "session_locked"}
	ErrEnrollmentNotActive = &Error{Kind: KindState, Code: "enrollment_not_active"}
	ErrLearnerMismatch     = &Error{Kind: KindState, Code: "learner_mismatch"}

	ErrAttemptLimitExceeded       = &Error{Kind: KindConflict, Code: "attempt_limit_exceeded"}
	ErrDuplicateAttempt           = &Error{Kind: KindConflict, Code: "duplicate_attempt"}
	ErrSubmissionInProgress       = &Error{Kind: KindConflict, Code: "submission_in_progress"}
	ErrDuplicateCertificate       = &Error{Kind: KindConflict, Code: "duplicate_certificate"}
	ErrDuplicateCertificateNumber = &Error{Kind: KindConflict, Code: "duplicate_certificate_number"}
	ErrDuplicateEnrollment        = &Error{Kind: KindConflict, Code: "duplicate_enrollment"}

	ErrNotFound = &Error{Kind: KindNotFound, Code: "not_found"}
)

func notFound(what, id string) error {
	return ErrNotFound.withf("%s %q not found", what, id)
}
