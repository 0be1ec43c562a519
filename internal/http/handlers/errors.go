package handlers

// Machine-readable values for the "code" field of the error envelope
// {"error": ..., "code": ..., "request_id": ...}. Clients branch on these,
// never on the message text.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// ErrCodeConflict is sent with 400: duplicate username, second calendar,
	// repeated or blocked friend request.
	ErrCodeConflict = "conflict"

	// ErrCodeUpstream means the AI provider failed or timed out.
	ErrCodeUpstream = "ai_unavailable"
)
