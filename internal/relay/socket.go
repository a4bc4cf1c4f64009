package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

const (
	socketWriteWait = 5 * time.Second
	socketReadLimit = 4096
)

// socketConn serializes every data frame through one writer goroutine.
type socketConn struct {
	conn      *websocket.Conn
	clientID  types.ClientID
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	log       *zap.Logger
}

func newSocketConn(parent context.Context, conn *websocket.Conn, clientID types.ClientID, log *zap.Logger) *socketConn {
	ctx, cancel := context.WithCancel(parent)
	c := &socketConn{
		conn:     conn,
		clientID: clientID,
		writeCh:  make(chan []byte, 100),
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With(zap.String("client_id", clientID.String())),
	}
	go c.writeLoop()
	return c
}

func (c *socketConn) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("socket write failed", zap.Error(err))
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer.
func (c *socketConn) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	timer := time.NewTimer(socketWriteWait)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

func (c *socketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *socketConn) Done() <-chan struct{} { return c.ctx.Done() }

// readLoop discards inbound frames and keeps the read deadline fresh from
// pongs. Any read error closes the connection.
func (c *socketConn) readLoop(pongWait time.Duration) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(socketReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("socket read ended", zap.Error(err))
			}
			return
		}
	}
}

func (c *socketConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// pump moves queued messages onto the socket until the connection ends. A
// message taken from the mailbox but not written is queued again.
func (c *socketConn) pump(mailbox interfaces.Mailbox, hold time.Duration) {
	for {
		msg, ok, err := mailbox.Wait(c.ctx, c.clientID, hold)
		if c.ctx.Err() != nil {
			if ok {
				c.requeue(mailbox, msg)
			}
			return
		}
		if err != nil {
			c.log.Warn("mailbox wait failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-c.ctx.Done():
				return
			}
		}
		if !ok {
			continue
		}
		if err := c.WriteJSON(msg); err != nil {
			c.requeue(mailbox, msg)
			return
		}
	}
}

func (c *socketConn) requeue(mailbox interfaces.Mailbox, msg types.WireMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mailbox.Push(ctx, c.clientID, msg); err != nil {
		c.log.Warn("dropped undelivered message", zap.Error(err))
	}
}

// Sockets tracks the live push connection per client. A new connection for
// a client replaces and closes the previous one.
type Sockets struct {
	mu    sync.RWMutex
	conns map[types.ClientID]*socketConn
}

func NewSockets() *Sockets {
	return &Sockets{conns: make(map[types.ClientID]*socketConn)}
}

func (s *Sockets) Register(c *socketConn) error {
	if c == nil {
		return ErrNilConnection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.conns[c.clientID]; ok && existing != c {
		go func() { _ = existing.Close() }()
	}
	s.conns[c.clientID] = c
	return nil
}

// Unregister removes c only if it is still the registered connection.
func (s *Sockets) Unregister(c *socketConn) {
	if c == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if registered, ok := s.conns[c.clientID]; ok && registered == c {
		delete(s.conns, c.clientID)
	}
}

func (s *Sockets) Connected(clientID types.ClientID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conns[clientID]
	return ok
}

func (s *Sockets) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// CloseAll closes every live connection.
func (s *Sockets) CloseAll() {
	s.mu.Lock()
	conns := make([]*socketConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[types.ClientID]*socketConn)
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
