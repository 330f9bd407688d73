package rate

import "errors"

var (
	// ErrRateLimited is returned by Check when the class ceiling is reached.
	ErrRateLimited = errors.New("rate limited")
)
