package interfaces

import (
	"context"

	"chatlink/pkg/types"
)

// TranscriptStore keeps a local record of delivered messages.
type TranscriptStore interface {
	// StoreMessage appends one delivered message.
	StoreMessage(ctx context.Context, entry *types.TranscriptEntry) error

	// History returns the newest limit entries for clientID, oldest first.
	History(ctx context.Context, clientID types.ClientID, limit int) ([]*types.TranscriptEntry, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
