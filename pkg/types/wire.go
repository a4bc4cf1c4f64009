package types

// HTTP surface shared by the client strategies and the relay.
const (
	HeaderClientID = "Client-Id"
	QueryClientID  = "client_id"

	PathMessage  = "/message"
	PathPoll     = "/poll-message"
	PathLongPoll = "/long-poll-message"
	PathSocket   = "/ws"
	PathHealth   = "/health"

	LegacyPathPoll     = "/poll_message"
	LegacyPathLongPoll = "/long_poll_message"
)

// IsZero reports whether w carries neither text nor sender, as when a server
// answers 200 with a JSON null body.
func (w WireMessage) IsZero() bool {
	return w.Text == "" && w.ClientID == ""
}
