package bots

import "errors"

var (
	ErrUnsupported        = errors.New("bots: capability not supported")
	ErrConnectionNotFound = errors.New("bots: connection not found")
	ErrUnknownPlatform    = errors.New("bots: unknown platform")
	ErrInvalidConfig      = errors.New("bots: invalid connection config")
	ErrUnknownMethod      = errors.New("bots: unknown internal method")
	ErrBadArguments       = errors.New("bots: bad internal arguments")
)
