package messages

import "errors"

var (
	ErrInvalidInput = errors.New("messages: invalid input")
	ErrNotFound     = errors.New("messages: not found")
	ErrStoreClosed  = errors.New("messages: store closed")
)
