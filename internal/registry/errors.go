package registry

import "errors"

var (
	ErrNilHandle     = errors.New("registry: handle cannot be nil")
	ErrInvalidMode   = errors.New("registry: mode cannot be activated")
	ErrAlreadyActive = errors.New("registry: client already has an active transport")
	ErrInvalidClient = errors.New("registry: client ID cannot be empty")
)
