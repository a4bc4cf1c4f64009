package interfaces

import "chatlink/pkg/types"

// DeliverySink is the single entry point through which every transport
// reports an inbound message. Implementations must not switch transports
// synchronously from OnMessage; the delivering strategy holds its stop gate
// for the duration of the call.
type DeliverySink interface {
	OnMessage(msg types.InboundMessage)
}

// SinkFunc adapts a plain function to DeliverySink.
type SinkFunc func(msg types.InboundMessage)

// OnMessage calls f(msg).
func (f SinkFunc) OnMessage(msg types.InboundMessage) { f(msg) }
