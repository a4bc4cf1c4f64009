package interfaces

import (
	"context"
	"time"

	"chatlink/pkg/types"
)

// Mailbox queues messages per recipient on the relay side.
type Mailbox interface {
	// Push appends msg to the recipient's queue.
	Push(ctx context.Context, recipient types.ClientID, msg types.WireMessage) error

	// Pop removes the oldest queued message without waiting.
	Pop(ctx context.Context, recipient types.ClientID) (types.WireMessage, bool, error)

	// Wait blocks until a message is available, the timeout elapses or ctx
	// is done. A timeout is not an error: ok is false.
	Wait(ctx context.Context, recipient types.ClientID, timeout time.Duration) (types.WireMessage, bool, error)

	Close() error
}
