package transport

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatlink/internal/config"
	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

const controlWriteWait = time.Second

// Socket receives messages over a persistent WebSocket connection. A
// dropped connection is reported through Handle.Done and never redialed.
type Socket struct {
	base        *url.URL
	dialer      *websocket.Dialer
	readTimeout time.Duration
	log         *zap.Logger
}

// NewSocket builds the strategy for the relay at serverURL.
func NewSocket(serverURL string, cfg *config.SocketConfig, log *zap.Logger) (*Socket, error) {
	base, err := ParseServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.DefaultConfig().Socket
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Socket{
		base: base,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		readTimeout: cfg.ReadTimeout,
		log:         log.Named("socket"),
	}, nil
}

func (s *Socket) Mode() types.TransportMode { return types.ModeSocket }

// URL returns the ws(s) address dialed for clientID.
func (s *Socket) URL(clientID types.ClientID) string {
	u := resolve(s.base, types.PathSocket)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	query := u.Query()
	query.Set(types.QueryClientID, clientID.String())
	u.RawQuery = query.Encode()
	return u.String()
}

// Start dials the relay. A failed dial is returned and nothing is retried.
func (s *Socket) Start(ctx context.Context, clientID types.ClientID, sink interfaces.DeliverySink) (interfaces.Handle, error) {
	if clientID == "" {
		return nil, ErrInvalidClient
	}
	if sink == nil {
		return nil, ErrNilSink
	}

	h := &socketHandle{
		lifecycle:   newLifecycle(),
		clientID:    clientID,
		sink:        sink,
		readTimeout: s.readTimeout,
		state:       SocketConnecting,
		readDone:    make(chan struct{}),
		log:         s.log.With(zap.String("client_id", clientID.String())),
	}

	target := s.URL(clientID)
	conn, resp, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			err = errors.Wrapf(err, "handshake status %d", resp.StatusCode)
		}
		h.state = SocketClosed
		return nil, errors.Wrapf(err, "dial %s", target)
	}

	h.conn = conn
	conn.SetCloseHandler(h.onClose)
	conn.SetPingHandler(h.onPing)
	conn.SetPongHandler(func(string) error {
		h.extendDeadline()
		return nil
	})
	h.extendDeadline()

	h.mu.Lock()
	h.state = SocketOpen
	h.mu.Unlock()

	go h.readLoop()

	h.log.Info("socket opened", zap.String("url", target))
	return h, nil
}

type socketHandle struct {
	lifecycle

	clientID    types.ClientID
	sink        interfaces.DeliverySink
	conn        *websocket.Conn
	readTimeout time.Duration
	log         *zap.Logger

	mu    sync.Mutex
	state SocketState

	readDone chan struct{}
}

func (h *socketHandle) Mode() types.TransportMode { return types.ModeSocket }

// State reports the current lifecycle state.
func (h *socketHandle) State() SocketState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Stop marks the handle closed before touching the connection so the close
// handler and read loop treat the teardown as ours, then waits for the read
// loop to exit.
func (h *socketHandle) Stop() {
	h.mu.Lock()
	wasOpen := h.state == SocketOpen
	h.state = SocketClosed
	h.mu.Unlock()

	if wasOpen {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = h.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait))
		_ = h.conn.Close()
		h.log.Info("socket closed")
	}

	<-h.readDone
	h.end(nil)
}

func (h *socketHandle) readLoop() {
	defer close(h.readDone)

	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			h.closeFromRead(err)
			return
		}
		h.extendDeadline()

		var msg types.WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Warn("skipping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		h.deliver(msg)
	}
}

func (h *socketHandle) deliver(msg types.WireMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != SocketOpen {
		return
	}
	h.sink.OnMessage(msg.Inbound(types.ModeSocket))
}

func (h *socketHandle) closeFromRead(err error) {
	h.mu.Lock()
	wasOpen := h.state == SocketOpen
	h.state = SocketClosed
	h.mu.Unlock()

	if !wasOpen {
		return
	}

	_ = h.conn.Close()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.log.Info("socket closed by server", zap.Error(err))
	} else {
		h.log.Warn("socket read failed", zap.Error(err))
	}
	h.end(errors.Wrapf(ErrConnectionClosed, "%v", err))
}

func (h *socketHandle) onClose(code int, text string) error {
	h.mu.Lock()
	open := h.state == SocketOpen
	h.mu.Unlock()

	if open {
		h.log.Debug("close frame received", zap.Int("code", code), zap.String("reason", text))
	}
	msg := websocket.FormatCloseMessage(code, "")
	_ = h.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait))
	return nil
}

func (h *socketHandle) onPing(appData string) error {
	h.extendDeadline()
	_ = h.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteWait))
	return nil
}

func (h *socketHandle) extendDeadline() {
	if h.readTimeout > 0 {
		_ = h.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}
