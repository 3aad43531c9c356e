package api

// ErrorCode is a machine-readable error classification carried alongside the
// human-readable message in ErrorResponse, so clients can branch on the
// failure kind without matching on message text.
type ErrorCode string

const (
	ErrForbidden        ErrorCode = "forbidden"
	ErrRateLimited      ErrorCode = "rate_limited"
	ErrInvalidParameter ErrorCode = "invalid_parameter"
	ErrInvalidBody      ErrorCode = "invalid_body"
	ErrInvalidTimeRange ErrorCode = "invalid_time_range"
	ErrNotFound         ErrorCode = "not_found"
	ErrConflict         ErrorCode = "conflict"
	ErrNotWritable      ErrorCode = "not_writable"
)
