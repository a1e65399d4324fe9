package apperr

// Violation classifies authentication and authorization failures.
type Violation string

const (
	ViolationUnauthenticated     Violation = "UNAUTHENTICATED"
	ViolationUnauthorized        Violation = "UNAUTHORIZED"
	ViolationPrivilegeEscalation Violation = "PRIVILEGE_ESCALATION"
	ViolationTampering           Violation = "TAMPERING"
	ViolationRateAbuse           Violation = "RATE_ABUSE"
)

// Security builds a security violation error.
func Security(v Violation, message string, context map[string]any) *Error {
	e := New(CodeSecurityViolation, message, context)

	return e.WithContext("violation", v)
}

// UnauthorizedAdminOperation is raised when a non-admin actor attempts an
// administrative balance operation.
func UnauthorizedAdminOperation(actorID int64, operation string) *Error {
	return New(CodeUnauthorizedAdminOperation, "", map[string]any{
		"actor_id":  actorID,
		"operation": operation,
		"violation": ViolationPrivilegeEscalation,
	})
}

// ViolationOf returns the violation type carried by a security error.
func ViolationOf(err error) (Violation, bool) {
	e := From(err)
	if e == nil || e.Kind != KindSecurity {
		return "", false
	}

	v, ok := e.Context["violation"].(Violation)

	return v, ok
}
