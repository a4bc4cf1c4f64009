package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatlink/internal/config"
	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// LongPoll keeps exactly one held request outstanding and re-issues it as
// soon as it completes, whatever the outcome.
type LongPoll struct {
	*poller
	requestTimeout time.Duration
	retryDelay     time.Duration
}

// NewLongPoll builds the strategy for the relay at serverURL.
func NewLongPoll(serverURL string, cfg *config.LongPollConfig, log *zap.Logger) (*LongPoll, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p, err := newPoller(serverURL, log.Named("longpoll"))
	if err != nil {
		return nil, err
	}
	defaults := config.DefaultConfig().LongPoll
	if cfg == nil {
		cfg = defaults
	}
	l := &LongPoll{
		poller:         p,
		requestTimeout: cfg.RequestTimeout,
		retryDelay:     cfg.RetryDelay,
	}
	if l.requestTimeout <= 0 {
		l.requestTimeout = defaults.RequestTimeout
	}
	return l, nil
}

func (l *LongPoll) Mode() types.TransportMode { return types.ModeLongPoll }

// Start issues the first held request and returns.
func (l *LongPoll) Start(ctx context.Context, clientID types.ClientID, sink interfaces.DeliverySink) (interfaces.Handle, error) {
	if err := l.validate(ctx, clientID, sink); err != nil {
		return nil, err
	}

	h := newPollHandle(types.ModeLongPoll, clientID, sink, l.log)
	go l.run(h)

	h.log.Info("long polling started")
	return h, nil
}

func (l *LongPoll) run(h *pollHandle) {
	target := resolve(l.base, types.PathLongPoll).String()

	for {
		if !h.waiting() {
			return
		}

		msg, ok, err := l.fetch(h, target, l.requestTimeout)
		if l.root.Err() != nil {
			h.halt(ErrStrategyClosed)
			return
		}

		switch {
		case err != nil:
			if !h.waiting() {
				return
			}
			h.log.Warn("long poll failed", zap.Error(err))
			if !l.pause(h) {
				return
			}
		case ok:
			if !h.deliver(msg) {
				return
			}
		}
	}
}

// pause waits retryDelay before the next request. It reports false when
// the handle or the strategy ended meanwhile.
func (l *LongPoll) pause(h *pollHandle) bool {
	if l.retryDelay <= 0 {
		return true
	}
	timer := time.NewTimer(l.retryDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-h.stopCh:
		return false
	case <-l.root.Done():
		h.halt(ErrStrategyClosed)
		return false
	}
}
