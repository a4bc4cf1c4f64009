package types

import "errors"

var (
	ErrInvalidClientID = errors.New("client ID must be non-empty printable text of at most 256 bytes without surrounding whitespace")
	ErrUnknownMode     = errors.New("unknown transport mode")
	ErrEmptyText       = errors.New("message text cannot be empty")
	ErrTextTooLarge    = errors.New("message text exceeds 64KB limit")
)
