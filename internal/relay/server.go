package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatlink/internal/config"
	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = "X-Request-Id"

type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Uptime       string    `json:"uptime"`
	Mailbox      string    `json:"mailbox"`
	Hub          bool      `json:"hub_running"`
	Participants int       `json:"participants"`
	Sockets      int       `json:"sockets"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type postRequest struct {
	Message string `json:"message"`
}

// Server exposes the relay endpoints over HTTP and WebSocket.
type Server struct {
	cfg       *config.RelayConfig
	hub       *Hub
	mailbox   interfaces.Mailbox
	directory *Directory
	sockets   *Sockets
	upgrader  websocket.Upgrader
	engine    *gin.Engine
	http      *http.Server
	log       *zap.Logger
	started   time.Time

	root   context.Context
	cancel context.CancelFunc
}

func NewServer(cfg *config.RelayConfig, hub *Hub, mailbox interfaces.Mailbox, directory *Directory, log *zap.Logger) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig().Relay
	}
	if log == nil {
		log = zap.NewNop()
	}

	root, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		hub:       hub,
		mailbox:   mailbox,
		directory: directory,
		sockets:   NewSockets(),
		log:       log.Named("relay"),
		started:   time.Now(),
		root:      root,
		cancel:    cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestID(), requestLogger(s.log), cors.New(s.corsConfig()))
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.POST(types.PathMessage, s.handlePost)
	s.engine.GET(types.PathPoll, s.handlePoll)
	s.engine.GET(types.PathLongPoll, s.handleLongPoll)
	s.engine.GET(types.PathSocket, s.handleSocket)
	s.engine.GET(types.PathHealth, s.handleHealth)

	if s.cfg.LegacyRoutes {
		s.engine.GET(types.LegacyPathPoll, s.handlePoll)
		s.engine.GET(types.LegacyPathLongPoll, s.handleLongPoll)
	}
}

func (s *Server) corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = append(c.AllowHeaders, types.HeaderClientID, HeaderRequestID)
	c.ExposeHeaders = []string{HeaderRequestID}
	if len(s.cfg.AllowedOrigin) == 0 || containsWildcard(s.cfg.AllowedOrigin) {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = s.cfg.AllowedOrigin
	}
	return c
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigin) == 0 || containsWildcard(s.cfg.AllowedOrigin) {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigin {
		if allowed == origin {
			return true
		}
	}
	return false
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Handler returns the routed engine, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.http.Addr }

// Sockets exposes the live socket table.
func (s *Server) Sockets() *Sockets { return s.sockets }

// ListenAndServe blocks until the server stops. Shutdown makes it return
// nil.
func (s *Server) ListenAndServe() error {
	s.log.Info("relay listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("relay listening", zap.String("addr", l.Addr().String()))
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown releases held long polls and live sockets, then drains the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.sockets.CloseAll()
	return s.http.Shutdown(ctx)
}

// clientID reads and validates the Client-Id header, falling back to the
// client_id query parameter. The participant is recorded on success.
func (s *Server) clientID(c *gin.Context) (types.ClientID, bool) {
	raw := c.GetHeader(types.HeaderClientID)
	if raw == "" {
		raw = c.Query(types.QueryClientID)
	}
	id := types.ClientID(raw)
	if err := id.Validate(); err != nil {
		s.sendError(c, http.StatusBadRequest, "missing or invalid client id")
		return "", false
	}
	s.directory.Touch(id)
	return id, true
}

func (s *Server) handlePost(c *gin.Context) {
	sender, ok := s.clientID(c)
	if !ok {
		return
	}

	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, http.StatusBadRequest, "invalid request")
		return
	}

	recipients, err := s.hub.Post(c.Request.Context(), sender, req.Message)
	switch {
	case err == nil:
	case errors.Is(err, ErrRateLimited):
		s.sendError(c, http.StatusTooManyRequests, "rate limit exceeded")
		return
	case errors.Is(err, types.ErrEmptyText), errors.Is(err, types.ErrTextTooLarge):
		s.sendError(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrHubNotRunning):
		s.sendError(c, http.StatusServiceUnavailable, "relay is not running")
		return
	default:
		if recipients == 0 {
			s.sendError(c, http.StatusInternalServerError, "failed to queue message")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) handlePoll(c *gin.Context) {
	id, ok := s.clientID(c)
	if !ok {
		return
	}

	msg, ok, err := s.mailbox.Pop(c.Request.Context(), id)
	if err != nil {
		s.log.Error("poll failed", zap.String("client_id", id.String()), zap.Error(err))
		s.sendError(c, http.StatusInternalServerError, "mailbox unavailable")
		return
	}
	s.respondMessage(c, msg, ok)
}

func (s *Server) handleLongPoll(c *gin.Context) {
	id, ok := s.clientID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(s.root, cancel)
	defer stop()

	msg, ok, err := s.mailbox.Wait(ctx, id, s.cfg.LongPollHold)
	if err != nil && ctx.Err() == nil {
		s.log.Error("long poll failed", zap.String("client_id", id.String()), zap.Error(err))
		s.sendError(c, http.StatusInternalServerError, "mailbox unavailable")
		return
	}
	if ok && c.Request.Context().Err() != nil {
		// The caller is gone; keep the message for the next request.
		pushCtx, pushCancel := context.WithTimeout(context.Background(), time.Second)
		defer pushCancel()
		if err := s.mailbox.Push(pushCtx, id, msg); err != nil {
			s.log.Warn("dropped undelivered message", zap.String("client_id", id.String()), zap.Error(err))
		}
		return
	}
	s.respondMessage(c, msg, ok)
}

func (s *Server) respondMessage(c *gin.Context, msg types.WireMessage, ok bool) {
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handleSocket(c *gin.Context) {
	id, ok := s.clientID(c)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("socket upgrade failed", zap.String("client_id", id.String()), zap.Error(err))
		return
	}

	sc := newSocketConn(s.root, conn, id, s.log)
	if err := s.sockets.Register(sc); err != nil {
		_ = sc.Close()
		return
	}
	s.log.Info("socket connected", zap.String("client_id", id.String()))

	go sc.readLoop(2 * s.cfg.PingInterval)
	go sc.pingLoop(s.cfg.PingInterval)

	sc.pump(s.mailbox, s.cfg.LongPollHold)

	_ = sc.Close()
	s.sockets.Unregister(sc)
	s.log.Info("socket disconnected", zap.String("client_id", id.String()))
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	mailboxStatus := "healthy"
	if checker, ok := s.mailbox.(interface{ HealthCheck(context.Context) error }); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			mailboxStatus = fmt.Sprintf("error: %v", err)
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:       status,
		Timestamp:    time.Now(),
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Mailbox:      mailboxStatus,
		Hub:          s.hub.IsRunning(),
		Participants: s.directory.Count(),
		Sockets:      s.sockets.Count(),
	})
}

func (s *Server) sendError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		}
		if id := c.GetHeader(types.HeaderClientID); id != "" {
			fields = append(fields, zap.String("client_id", id))
		}
		log.Debug("request", fields...)
	}
}
