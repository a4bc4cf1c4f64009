package app

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatlink/internal/config"
	"chatlink/internal/relay"
	"chatlink/pkg/interfaces"
)

// Relay runs the development relay: mailbox, participant directory, hub
// and HTTP server.
type Relay struct {
	cfg       *config.Config
	log       *zap.Logger
	mailbox   interfaces.Mailbox
	directory *relay.Directory
	hub       *relay.Hub
	server    *relay.Server

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
}

// NewRelay builds every relay component. Initialization order:
// mailbox → directory → rate limiter → hub → server.
func NewRelay(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Relay, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if log == nil {
		log = zap.NewNop()
	}

	// STEP 1: mailbox backend
	var mailbox interfaces.Mailbox
	switch cfg.Relay.Mailbox {
	case config.MailboxRedis:
		mb, err := relay.NewRedisMailbox(ctx, cfg.Redis, cfg.Relay.QueueLimit)
		if err != nil {
			return nil, errors.Wrap(err, "open redis mailbox")
		}
		mailbox = mb
	default:
		mailbox = relay.NewMemoryMailbox(cfg.Relay.QueueLimit)
	}

	// STEP 2: fan-out and admission
	directory := relay.NewDirectory()
	limiter := relay.NewRateLimiter(cfg.Relay.RateLimit, time.Minute)
	hub := relay.NewHub(mailbox, directory, limiter, 0, log)

	// STEP 3: HTTP surface
	server := relay.NewServer(cfg.Relay, hub, mailbox, directory, log)

	log.Info("relay configured",
		zap.String("addr", server.Addr()),
		zap.String("mailbox", cfg.Relay.Mailbox),
		zap.Int("rate_limit", cfg.Relay.RateLimit))

	return &Relay{
		cfg:       cfg,
		log:       log,
		mailbox:   mailbox,
		directory: directory,
		hub:       hub,
		server:    server,
	}, nil
}

// Start binds the configured address and serves in the background.
func (r *Relay) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", r.server.Addr())
	if err != nil {
		return errors.Wrapf(err, "listen on %s", r.server.Addr())
	}
	return r.Serve(ctx, l)
}

// Serve runs the relay on l in the background. Runtime failures are
// reported on Errors.
func (r *Relay) Serve(ctx context.Context, l net.Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listener != nil {
		_ = l.Close()
		return ErrRelayRunning
	}

	// STEP 1: hub before accepting connections
	if err := r.hub.Start(ctx); err != nil {
		_ = l.Close()
		return errors.Wrap(err, "start hub")
	}

	// STEP 2: HTTP server
	r.listener = l
	r.errCh = make(chan error, 1)
	go func(errCh chan<- error) {
		if err := r.server.Serve(l); err != nil {
			errCh <- errors.Wrap(err, "relay server")
		}
		close(errCh)
	}(r.errCh)

	r.log.Info("relay started", zap.String("addr", l.Addr().String()))
	return nil
}

// Addr is the bound address once started, otherwise the configured one.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.server.Addr()
}

// Errors delivers a server failure, or closes when the server stops.
func (r *Relay) Errors() <-chan error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errCh
}

// Stop shuts the relay down in reverse order: HTTP → hub → mailbox.
func (r *Relay) Stop(ctx context.Context) error {
	r.log.Info("shutting down relay")

	var firstErr error
	if err := r.server.Shutdown(ctx); err != nil {
		r.log.Error("http shutdown failed", zap.Error(err))
		firstErr = err
	}
	if err := r.hub.Stop(); err != nil && !errors.Is(err, relay.ErrHubNotRunning) {
		r.log.Error("hub shutdown failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := r.mailbox.Close(); err != nil {
		r.log.Error("mailbox close failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	r.log.Info("relay shutdown complete")
	return firstErr
}

// Participants reports how many clients the relay has seen.
func (r *Relay) Participants() int {
	return r.directory.Count()
}
