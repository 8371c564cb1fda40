package pac

import (
	"fmt"

	"github.com/hypernova-labs/dgi-service/internal/validation"
)

// ValidationError reports a document that failed local shape checks before any
// network I/O. It is never retried automatically.
type ValidationError struct {
	Violations validation.Violations
}

func (e *ValidationError) Error() string {
	return "document validation failed: " + e.Violations.String()
}

// TransportError reports a network failure or a non-2xx HTTP response from the
// PAC gateway. Status is 0 when the request never reached the gateway.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pac transport failure: %v", e.Err)
	}
	return fmt.Sprintf("pac returned HTTP %d: %s", e.Status, truncate(e.Body, 200))
}

func (e *TransportError) Unwrap() error { return e.Err }

// SchemaError reports a PAC response body that does not match the expected
// shape. The authority's true intent cannot be safely inferred from it.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "pac response schema mismatch: " + e.Reason
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
