// internal/core/errors.go
package core

import "errors"

var (
	ErrConfig               = errors.New("invalid camera configuration")
	ErrFetchTimeout         = errors.New("snapshot fetch timed out")
	ErrFetchFailure         = errors.New("snapshot fetch failed")
	ErrStreamProcess        = errors.New("stream process failed")
	ErrUnknownCamera        = errors.New("unknown camera")
	ErrNotRegistered        = errors.New("not registered")
	ErrStreamingUnsupported = errors.New("camera does not support streaming")
)
