package intent

// RejectCode classifies an intake-time rejection. No side effect occurs and
// nothing is persisted as an executable record for any of these.
type RejectCode string

const (
	// RejectValidation: the payload is structurally invalid.
	RejectValidation RejectCode = "VALIDATION_FAILED"
	// RejectSignature: the HMAC does not verify. Never retried, never
	// partially trusted; computation errors map here too (fail closed).
	RejectSignature RejectCode = "SIGNATURE_INVALID"
	// RejectStateConflict: the caller's state_hash is stale.
	RejectStateConflict RejectCode = "STATE_CONFLICT"
	// RejectInFlight: another intent of the same type is non-terminal.
	RejectInFlight RejectCode = "INTENT_IN_FLIGHT"
	// RejectRBAC: the operator's role does not permit the intent type.
	RejectRBAC RejectCode = "RBAC_DENIED"
)

// Violation is one field-level structural validation failure. Callers get
// the full itemized list so a console can render per-field errors.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
