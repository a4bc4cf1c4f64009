// Package app assembles the chat client and the development relay from
// configuration.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatlink/internal/config"
	"chatlink/internal/database"
	"chatlink/internal/delivery"
	"chatlink/internal/outbound"
	"chatlink/internal/registry"
	"chatlink/internal/switcher"
	"chatlink/internal/transport"
	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

const sendTimeout = 10 * time.Second

// Client is one chat participant: a transport controller feeding display,
// an outbound sender and an optional transcript.
type Client struct {
	cfg        *config.Config
	id         types.ClientID
	log        *zap.Logger
	transcript interfaces.TranscriptStore
	recorder   *delivery.Recorder
	registry   *registry.Registry
	controller *switcher.Controller
	sender     *outbound.Sender
	pollers    []interface{ Close() error }

	mu     sync.Mutex
	closed bool
}

// NewClient wires a client for clientID. Messages are shown through
// display, which may be nil. Initialization order:
// transcript → registry → strategies → controller → sender.
func NewClient(cfg *config.Config, clientID types.ClientID, display interfaces.DeliverySink, log *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if err := clientID.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("client_id", clientID.String()))

	c := &Client{
		cfg:      cfg,
		id:       clientID,
		log:      log,
		registry: registry.New(),
	}

	// STEP 1: transcript
	if cfg.Transcript.Enabled {
		store, err := database.NewManager(database.FromTranscript(cfg.Transcript), log)
		if err != nil {
			return nil, errors.Wrap(err, "open transcript")
		}
		c.transcript = store
	}

	// STEP 2: strategies
	serverURL := cfg.Client.ServerURL
	socket, err := transport.NewSocket(serverURL, cfg.Socket, log)
	if err != nil {
		c.closeTranscript()
		return nil, err
	}
	shortPoll, err := transport.NewShortPoll(serverURL, cfg.ShortPoll, log)
	if err != nil {
		c.closeTranscript()
		return nil, err
	}
	longPoll, err := transport.NewLongPoll(serverURL, cfg.LongPoll, log)
	if err != nil {
		_ = shortPoll.Close()
		c.closeTranscript()
		return nil, err
	}
	c.pollers = []interface{ Close() error }{shortPoll, longPoll}

	// STEP 3: sink chain and controller
	var sink interfaces.DeliverySink = display
	if sink == nil {
		sink = interfaces.SinkFunc(func(types.InboundMessage) {})
	}
	if c.transcript != nil {
		c.recorder = delivery.NewRecorder(c.transcript, clientID, display, cfg.Transcript.Timeout, log)
		sink = c.recorder
	}
	c.controller = switcher.New(c.registry, sink, log, socket, shortPoll, longPoll)

	// STEP 4: outbound
	c.sender, err = outbound.NewSender(serverURL, sendTimeout, log)
	if err != nil {
		c.closePollers()
		c.closeTranscript()
		return nil, err
	}

	return c, nil
}

func (c *Client) ID() types.ClientID { return c.id }

// Mode reports the active transport.
func (c *Client) Mode() types.TransportMode {
	return c.registry.ActiveMode(c.id)
}

// Available lists the modes that can be selected.
func (c *Client) Available() []types.TransportMode {
	return c.controller.Available()
}

// OnStateChange registers fn for every mode change, including a transport
// ending on its own.
func (c *Client) OnStateChange(fn func(types.TransportMode)) {
	id := c.id
	c.controller.OnStateChange(func(clientID types.ClientID, mode types.TransportMode) {
		if clientID == id {
			fn(mode)
		}
	})
}

// SwitchTo changes the delivery transport.
func (c *Client) SwitchTo(ctx context.Context, mode types.TransportMode) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.controller.SwitchTo(ctx, c.id, mode)
}

// Start selects the configured initial mode.
func (c *Client) Start(ctx context.Context) error {
	mode, err := types.ParseMode(c.cfg.Client.InitialMode)
	if err != nil {
		return err
	}
	if mode == types.ModeDisconnected {
		return nil
	}
	return c.SwitchTo(ctx, mode)
}

// Send posts text to the relay.
func (c *Client) Send(ctx context.Context, text string) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.sender.Send(ctx, c.id, text)
}

// History returns the newest limit delivered messages, oldest first.
func (c *Client) History(ctx context.Context, limit int) ([]*types.TranscriptEntry, error) {
	if c.transcript == nil {
		return nil, ErrTranscriptDisabled
	}
	return c.transcript.History(ctx, c.id, limit)
}

// Stats reports registry counts.
func (c *Client) Stats() map[string]int {
	return c.registry.Stats()
}

// Close stops delivery, aborts in-flight poll requests and closes the
// transcript. Reverse order of construction.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.controller.Shutdown()
	c.closePollers()

	err := c.closeTranscript()
	c.log.Info("client closed")
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) closePollers() {
	for _, p := range c.pollers {
		_ = p.Close()
	}
}

// closeTranscript flushes pending recordings before closing the store.
func (c *Client) closeTranscript() error {
	if c.recorder != nil {
		c.recorder.Close()
	}
	if c.transcript != nil {
		return c.transcript.Close()
	}
	return nil
}
