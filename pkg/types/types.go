package types

import (
	"strings"
	"time"
)

// ClientID identifies one chat participant for the lifetime of a session.
type ClientID string

func (id ClientID) String() string { return string(id) }

// TransportMode selects how inbound messages reach a client.
type TransportMode int

const (
	ModeDisconnected TransportMode = iota
	ModeSocket
	ModeShortPoll
	ModeLongPoll
)

// Modes lists every selectable mode in display order.
var Modes = []TransportMode{ModeSocket, ModeShortPoll, ModeLongPoll, ModeDisconnected}

func (m TransportMode) String() string {
	switch m {
	case ModeDisconnected:
		return "disconnected"
	case ModeSocket:
		return "socket"
	case ModeShortPoll:
		return "poll"
	case ModeLongPoll:
		return "longpoll"
	default:
		return "unknown"
	}
}

// IsValid reports whether m is one of the declared modes.
func (m TransportMode) IsValid() bool {
	return m >= ModeDisconnected && m <= ModeLongPoll
}

// ParseMode accepts the canonical names plus the names the browser picker used
// ("websocket", "polling", "longpolling").
func ParseMode(s string) (TransportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "socket", "websocket", "ws":
		return ModeSocket, nil
	case "poll", "polling", "short-poll", "shortpoll":
		return ModeShortPoll, nil
	case "longpoll", "long-poll", "longpolling", "long-polling":
		return ModeLongPoll, nil
	case "disconnected", "off", "none":
		return ModeDisconnected, nil
	}
	return ModeDisconnected, ErrUnknownMode
}

// MarshalText implements encoding.TextMarshaler.
func (m TransportMode) MarshalText() ([]byte, error) {
	if !m.IsValid() {
		return nil, ErrUnknownMode
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *TransportMode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// InboundMessage is what every strategy hands to the delivery sink. Mode is
// the transport that received it.
type InboundMessage struct {
	SenderClientID ClientID
	Text           string
	Mode           TransportMode
}

// WireMessage is the JSON body shared by the poll endpoints, the socket frames
// and the relay's queues.
type WireMessage struct {
	Text     string `json:"message"`
	ClientID string `json:"client_id"`
}

// Inbound converts a wire payload received over mode to the sink
// representation.
func (w WireMessage) Inbound(mode TransportMode) InboundMessage {
	return InboundMessage{SenderClientID: ClientID(w.ClientID), Text: w.Text, Mode: mode}
}

// OutboundRequest is the body of POST /message.
type OutboundRequest struct {
	Message string `json:"message"`
}

// TranscriptEntry is one delivered message as kept by the transcript store.
type TranscriptEntry struct {
	ID          string        `json:"id"`
	ClientID    ClientID      `json:"client_id"`
	SenderID    ClientID      `json:"sender_id"`
	Text        string        `json:"text"`
	Mode        TransportMode `json:"mode"`
	DeliveredAt time.Time     `json:"delivered_at"`
}
