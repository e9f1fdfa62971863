package handlers

// Machine-readable codes carried in ErrorResponse.Code. Clients branch on
// these rather than on the human message.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	ErrCodeInvalidThreadID   = "invalid_thread_id"
	ErrCodeVerifierFailed    = "verifier_unavailable"
	ErrCodeMissingAttributes = "missing_attributes"
	ErrCodeUnknownThread     = "unknown_thread"
	ErrCodeIdentityFailed    = "identity_failed"
)
