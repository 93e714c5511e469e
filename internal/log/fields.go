// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldCaseID    = "case_id"
	FieldGUID      = "guid"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldOutcome   = "outcome"

	// HTTP fields
	FieldMethod  = "method"
	FieldTarget  = "target"
	FieldStatus  = "status"
	FieldElapsed = "elapsed_ms"
)
