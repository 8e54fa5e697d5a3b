package types

import "errors"

// ErrConfigurationIntegrity marks failures caused by a broken deployment:
// malformed graphs, missing handlers, unresolvable transitions.
var ErrConfigurationIntegrity = errors.New("configuration integrity violation")

// ErrorType classifies an unsuccessful ProcessChangeResult.
type ErrorType string

const (
	ErrorTypeConflict     ErrorType = "Conflict"
	ErrorTypeUnauthorized ErrorType = "Unauthorized"
	ErrorTypeBadRequest   ErrorType = "BadRequest"
	ErrorTypeInternal     ErrorType = "Internal"
	// ErrorTypeFailure reports a task hook that refused the transition.
	ErrorTypeFailure ErrorType = "Failure"
)

// Validation severities.
const (
	SeverityError   = "Error"
	SeverityWarning = "Warning"
	SeverityInfo    = "Informational"
)

// ValidationIssue is a single finding reported by task validation.
type ValidationIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code,omitempty"`
	Field       string `json:"field,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProcessChangeResult is returned by Start and Next for every expected business outcome.
type ProcessChangeResult struct {
	Success            bool                `json:"success"`
	ErrorType          ErrorType           `json:"error_type,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	ErrorTitle         string              `json:"error_title,omitempty"`
	ProcessStateChange *ProcessStateChange `json:"process_state_change,omitempty"`
	ValidationIssues   []ValidationIssue   `json:"validation_issues,omitempty"`
}

// Failed builds an unsuccessful result.
func Failed(errType ErrorType, message string) ProcessChangeResult {
	return ProcessChangeResult{ErrorType: errType, ErrorMessage: message}
}

// HasErrors reports whether any issue carries Error severity.
func HasErrors(issues []ValidationIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}
