package app

import "github.com/pkg/errors"

var (
	ErrTranscriptDisabled = errors.New("app: transcript is disabled")
	ErrClientClosed       = errors.New("app: client is closed")
	ErrRelayRunning       = errors.New("app: relay is already running")
)
