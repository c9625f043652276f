package collection

import "errors"

var (
	ErrInvalidThreshold = errors.New("collection threshold must be positive")
	ErrInvalidInterval  = errors.New("collection interval must be at least one minute")
)
