package interfaces

import (
	"context"

	"chatlink/pkg/types"
)

// Strategy is one way of receiving messages for a client.
type Strategy interface {
	// Mode identifies the strategy in the registry.
	Mode() types.TransportMode

	// Start begins delivering messages for clientID into sink. It returns an
	// error only when the underlying resource could not be established.
	Start(ctx context.Context, clientID types.ClientID, sink DeliverySink) (Handle, error)
}

// Handle owns the live resource of a started strategy.
type Handle interface {
	// Mode reports which strategy created the handle.
	Mode() types.TransportMode

	// Stop releases the resource. Once Stop returns the handle delivers
	// nothing further. Stop is idempotent.
	Stop()

	// Done is closed when the handle has ended, either through Stop or
	// because the transport ended on its own.
	Done() <-chan struct{}

	// Err reports why the transport ended on its own; nil after Stop.
	Err() error
}
