// Package relay is a development chat relay serving the message, poll,
// long-poll and socket endpoints the client strategies talk to.
package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// Hub accepts posted messages and queues them for every other participant.
// While running it also sweeps idle rate-limit state.
type Hub struct {
	mailbox   interfaces.Mailbox
	directory *Directory
	limiter   *RateLimiter
	log       *zap.Logger

	sweepInterval time.Duration
	idleTTL       time.Duration

	running  bool
	mu       sync.RWMutex
	shutdown chan struct{}
	done     chan struct{}
}

// NewHub wires the hub to its collaborators. idleTTL of zero keeps
// participants forever.
func NewHub(mailbox interfaces.Mailbox, directory *Directory, limiter *RateLimiter, idleTTL time.Duration, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		mailbox:       mailbox,
		directory:     directory,
		limiter:       limiter,
		log:           log.Named("hub"),
		sweepInterval: time.Minute,
		idleTTL:       idleTTL,
	}
}

func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	h.log.Info("hub started")
	go h.run(ctx, h.shutdown, h.done)
	return nil
}

func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.log.Info("hub stopped")
	return nil
}

func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Post queues text from sender for every other known participant and
// returns how many recipients it was queued for.
func (h *Hub) Post(ctx context.Context, sender types.ClientID, text string) (int, error) {
	if !h.IsRunning() {
		return 0, ErrHubNotRunning
	}
	if err := sender.Validate(); err != nil {
		return 0, err
	}
	if err := types.ValidateText(text); err != nil {
		return 0, err
	}
	if h.limiter != nil && !h.limiter.Allow(sender) {
		return 0, ErrRateLimited
	}

	h.directory.Touch(sender)
	msg := types.WireMessage{Text: text, ClientID: sender.String()}

	var firstErr error
	queued := 0
	for _, recipient := range h.directory.Others(sender) {
		if err := h.mailbox.Push(ctx, recipient, msg); err != nil {
			h.log.Error("failed to queue message",
				zap.String("sender", sender.String()),
				zap.String("recipient", recipient.String()),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		queued++
	}

	h.log.Debug("message posted", zap.String("sender", sender.String()), zap.Int("recipients", queued))
	return queued, firstErr
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-shutdown:
			return
		case <-ctx.Done():
			h.mu.Lock()
			if h.running {
				h.running = false
				close(h.shutdown)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) sweep() {
	limits := 0
	if h.limiter != nil {
		limits = h.limiter.Cleanup()
	}
	idle := h.directory.Prune(h.idleTTL)
	if limits > 0 || idle > 0 {
		h.log.Debug("swept idle state", zap.Int("rate_limits", limits), zap.Int("participants", idle))
	}
}
