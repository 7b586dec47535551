package storage

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnsupported indicates that a driver's primitive is not available in
	// the current environment.
	ErrUnsupported = errors.New("storage backend not supported")

	// ErrUserDeclined indicates that the user dismissed a one time resource
	// grant, e.g. the directory selection.
	ErrUserDeclined = errors.New("user declined storage resource grant")

	// ErrQuotaExceeded indicates that a write would exceed the backend capacity.
	ErrQuotaExceeded = errors.New("storage quota exceeded, delete some templates or export a backup")

	// ErrMalformedImport indicates that an import payload is not a sequence of templates.
	ErrMalformedImport = errors.New("invalid template file format")

	// ErrNotInitialized indicates that a driver was used before Init succeeded.
	ErrNotInitialized = errors.New("storage backend not initialized")
)
