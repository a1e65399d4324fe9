package apperr

import (
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
)

// Kind separates failures by how callers are expected to react to them.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindBusiness   Kind = "BUSINESS"
	KindConflict   Kind = "CONFLICT"
	KindExternal   Kind = "EXTERNAL"
	KindInvariant  Kind = "INVARIANT"
	KindSecurity   Kind = "SECURITY"
	KindInternal   Kind = "INTERNAL"
)

// Severity ranks how urgently a failure needs attention.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the structured error carried across the ledger.
type Error struct {
	Code          Code
	Kind          Kind
	Severity      Severity
	Message       string         // user-facing
	Context       map[string]any // machine-readable details
	CorrelationID string
	Fields        []FieldError
	Retryable     bool
	Cause         error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by code so sentinel-style comparisons work:
//
//	errors.Is(err, apperr.New(apperr.CodeInsufficientBalance, "", nil))
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Code == t.Code
}

// New builds an error for code, filling kind, severity and retryability from
// the registry. An empty message falls back to the registry message.
func New(code Code, message string, context map[string]any) *Error {
	def, ok := Lookup(code)
	if !ok {
		def = registry[CodeInternal]
	}

	if message == "" {
		message = def.Message
	}

	return &Error{
		Code:          code,
		Kind:          def.Kind,
		Severity:      def.Severity,
		Message:       message,
		Context:       context,
		CorrelationID: uuid.NewString(),
		Retryable:     def.Retryable,
	}
}

// Wrap is New with an underlying cause.
func Wrap(code Code, message string, context map[string]any, cause error) *Error {
	e := New(code, message, context)
	e.Cause = cause

	return e
}

// WithSeverity returns a copy escalated (or lowered) to s.
func (e *Error) WithSeverity(s Severity) *Error {
	cp := *e
	cp.Context = maps.Clone(e.Context)

	cp.Severity = s

	return &cp
}

// WithContext returns a copy with key set in the context map.
func (e *Error) WithContext(key string, value any) *Error {
	cp := *e
	cp.Context = maps.Clone(e.Context)

	if cp.Context == nil {
		cp.Context = make(map[string]any, 1)
	}

	cp.Context[key] = value

	return &cp
}

// Validation builds a multi-field validation error.
func Validation(fields ...FieldError) *Error {
	e := New(CodeValidationFailed, "", nil)
	e.Fields = fields

	return e
}

// Invariant reports a defect: state that must never exist was observed.
func Invariant(message string, context map[string]any) *Error {
	return New(CodeInvariantViolation, message, context)
}

// ConcurrentModification reports a lost optimistic-concurrency race.
func ConcurrentModification(aggregate string, id any, cause error) *Error {
	return Wrap(CodeConcurrentModification, "", map[string]any{
		"aggregate": aggregate,
		"id":        id,
	}, cause)
}

// ConcurrentOperationExceeded reports a per-user throttling rejection.
func ConcurrentOperationExceeded(current, limit int64) *Error {
	return New(CodeConcurrentOperationExceeded, "", map[string]any{
		"current": current,
		"max":     limit,
	})
}

// From extracts an *Error from err, or wraps err as an internal error with
// a generic message so the original text is never shown to users.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return Wrap(CodeInternal, "", nil, err)
}

// IsCode reports whether err carries code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.Code == code
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if !errors.As(err, &e) {
		return CodeInternal
	}

	return e.Code
}

// IsRetryable reports whether the caller may reload and try again.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.Retryable
}
