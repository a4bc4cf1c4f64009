package relay

import "github.com/pkg/errors"

var (
	ErrHubAlreadyRunning = errors.New("relay: hub is already running")
	ErrHubNotRunning     = errors.New("relay: hub is not running")
	ErrRateLimited       = errors.New("relay: rate limit exceeded")
	ErrConnectionClosed  = errors.New("relay: connection closed")
	ErrWriteTimeout      = errors.New("relay: write timeout")
	ErrNilConnection     = errors.New("relay: connection cannot be nil")
)
