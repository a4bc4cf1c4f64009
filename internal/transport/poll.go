package transport

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// poller holds what the two HTTP strategies share: the relay address, one
// http.Client and a root context that only Close cancels. Handle.Stop never
// aborts a request in flight; its result is discarded instead.
type poller struct {
	base   *url.URL
	client *http.Client
	log    *zap.Logger

	root   context.Context
	cancel context.CancelFunc
}

func newPoller(serverURL string, log *zap.Logger) (*poller, error) {
	base, err := ParseServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &poller{
		base:   base,
		client: &http.Client{},
		log:    log,
		root:   root,
		cancel: cancel,
	}, nil
}

// Close aborts every request in flight and ends all handles started by the
// strategy.
func (p *poller) Close() error {
	p.cancel()
	p.client.CloseIdleConnections()
	return nil
}

func (p *poller) validate(ctx context.Context, clientID types.ClientID, sink interfaces.DeliverySink) error {
	if clientID == "" {
		return ErrInvalidClient
	}
	if sink == nil {
		return ErrNilSink
	}
	if err := p.root.Err(); err != nil {
		return ErrStrategyClosed
	}
	return ctx.Err()
}

func (p *poller) fetch(h *pollHandle, target string, timeout time.Duration) (types.WireMessage, bool, error) {
	ctx, cancel := context.WithTimeout(p.root, timeout)
	defer cancel()
	return fetchMessage(ctx, p.client, target, h.clientID)
}

type pollHandle struct {
	lifecycle

	mode     types.TransportMode
	clientID types.ClientID
	sink     interfaces.DeliverySink
	log      *zap.Logger

	mu    sync.Mutex
	state PollState

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newPollHandle(mode types.TransportMode, clientID types.ClientID, sink interfaces.DeliverySink, log *zap.Logger) *pollHandle {
	return &pollHandle{
		lifecycle: newLifecycle(),
		mode:      mode,
		clientID:  clientID,
		sink:      sink,
		state:     PollWaiting,
		stopCh:    make(chan struct{}),
		log:       log.With(zap.String("client_id", clientID.String())),
	}
}

func (h *pollHandle) Mode() types.TransportMode { return h.mode }

// State reports the current lifecycle state.
func (h *pollHandle) State() PollState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *pollHandle) Stop() {
	h.halt(nil)
}

// halt moves the handle to PollStopped. err is reported through Err when
// the strategy, not the caller, ended the handle.
func (h *pollHandle) halt(err error) {
	h.mu.Lock()
	h.state = PollStopped
	h.mu.Unlock()

	h.stopOnce.Do(func() { close(h.stopCh) })
	h.end(err)
}

func (h *pollHandle) waiting() bool {
	return h.State() == PollWaiting
}

// deliver hands msg to the sink unless the handle has been stopped. It
// reports whether the chain may continue.
func (h *pollHandle) deliver(msg types.WireMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != PollWaiting {
		return false
	}
	h.sink.OnMessage(msg.Inbound(h.mode))
	return true
}
