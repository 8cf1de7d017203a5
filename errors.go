package pollsync

import "errors"

var (
	ErrInvalidManifest    = errors.New("invalid manifest")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrLocked             = errors.New("local directory is locked by another client")

	// ErrSession wraps any failure that makes the session unusable. It is the
	// only error Run returns once the loop has started.
	ErrSession = errors.New("session error")
)
