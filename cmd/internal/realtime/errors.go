package realtime

import "errors"

var (
	errClientClosed = errors.New("realtime: client closed")

	// ErrNotAuthorized is returned by Attach for clients that did not
	// authenticate.
	ErrNotAuthorized = errors.New("realtime: client not authorized")
)
