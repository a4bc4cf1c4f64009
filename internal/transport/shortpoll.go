package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatlink/internal/config"
	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// ShortPoll asks the relay for one message on a fixed interval. Requests
// are serialized: a tick that fires while a request is outstanding is
// dropped.
type ShortPoll struct {
	*poller
	interval       time.Duration
	requestTimeout time.Duration
}

// NewShortPoll builds the strategy for the relay at serverURL.
func NewShortPoll(serverURL string, cfg *config.ShortPollConfig, log *zap.Logger) (*ShortPoll, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p, err := newPoller(serverURL, log.Named("poll"))
	if err != nil {
		return nil, err
	}
	defaults := config.DefaultConfig().ShortPoll
	if cfg == nil {
		cfg = defaults
	}
	s := &ShortPoll{
		poller:         p,
		interval:       cfg.Interval,
		requestTimeout: cfg.RequestTimeout,
	}
	if s.interval <= 0 {
		s.interval = defaults.Interval
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = defaults.RequestTimeout
	}
	return s, nil
}

func (s *ShortPoll) Mode() types.TransportMode { return types.ModeShortPoll }

// Start issues the first poll immediately and then one per interval.
func (s *ShortPoll) Start(ctx context.Context, clientID types.ClientID, sink interfaces.DeliverySink) (interfaces.Handle, error) {
	if err := s.validate(ctx, clientID, sink); err != nil {
		return nil, err
	}

	h := newPollHandle(types.ModeShortPoll, clientID, sink, s.log)
	go s.run(h)

	h.log.Info("polling started", zap.Duration("interval", s.interval))
	return h, nil
}

func (s *ShortPoll) run(h *pollHandle) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	target := resolve(s.base, types.PathPoll).String()

	for {
		if !h.waiting() {
			return
		}
		s.pollOnce(h, target)

		select {
		case <-ticker.C:
		default:
		}

		select {
		case <-h.stopCh:
			return
		case <-s.root.Done():
			h.halt(ErrStrategyClosed)
			return
		case <-ticker.C:
		}
	}
}

func (s *ShortPoll) pollOnce(h *pollHandle, target string) {
	msg, ok, err := s.fetch(h, target, s.requestTimeout)
	if err != nil {
		if h.waiting() && s.root.Err() == nil {
			h.log.Warn("poll failed", zap.Error(err))
		}
		return
	}
	if ok {
		h.deliver(msg)
	}
}
