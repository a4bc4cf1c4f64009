package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrMailboxClosed    = errors.New("mailbox closed")
	ErrTranscriptClosed = errors.New("transcript store closed")
)
