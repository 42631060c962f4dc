package feed

import "errors"

// Sentinel errors from spec §4.A / §7. Callers use errors.Is against these,
// never string matching.
var (
	ErrUnavailable = errors.New("upstream unavailable")
	ErrMalformed   = errors.New("upstream malformed")
	ErrRateLimited = errors.New("upstream rate limited")
)
