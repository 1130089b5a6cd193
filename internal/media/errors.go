package media

import "errors"

var (
	// ErrInvalidMedia indicates a missing payload buffer or MIME type.
	ErrInvalidMedia = errors.New("invalid media payload")
	// ErrTooLarge indicates the payload exceeds the configured max size.
	ErrTooLarge = errors.New("media payload too large")
)
