package transport

import "github.com/pkg/errors"

var (
	ErrInvalidServerURL = errors.New("transport: server URL must be an absolute http(s) URL")
	ErrInvalidClient    = errors.New("transport: client ID cannot be empty")
	ErrNilSink          = errors.New("transport: delivery sink cannot be nil")
	ErrUnexpectedStatus = errors.New("transport: unexpected response status")
	ErrMalformedMessage = errors.New("transport: malformed message")
	ErrConnectionClosed = errors.New("transport: connection closed")
	ErrStrategyClosed   = errors.New("transport: strategy closed")
)
