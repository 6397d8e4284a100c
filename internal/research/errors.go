package research

import "errors"

// Errors callers may receive. Everything else is reported inside a Result.
var (
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
)
