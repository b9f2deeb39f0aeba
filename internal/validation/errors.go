package validation

import "strings"

// ValidationError carries the business-rule violations of a request.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invoice validation failed: " + strings.Join(e.Errors, "; ")
}

// SchemaError reports a field that is missing, malformed or out of range
// for storage. Message is safe to return to clients.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string {
	return e.Message
}
