// Package switcher moves a client between transport strategies.
package switcher

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatlink/internal/registry"
	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// StateObserver is told about every mode change, including the drop to
// ModeDisconnected after a failed start or a transport that ended on its
// own. It runs under the client's switch lock and must not call SwitchTo.
type StateObserver func(clientID types.ClientID, mode types.TransportMode)

// Controller serializes switches per client: the previous strategy is fully
// stopped before the next one starts, so at most one strategy ever delivers
// for a client. Different clients switch independently.
type Controller struct {
	registry   *registry.Registry
	strategies map[types.TransportMode]interfaces.Strategy
	sink       interfaces.DeliverySink
	log        *zap.Logger

	// state is read-held by every switch and write-held by Shutdown.
	state    sync.RWMutex
	shutdown bool
	closed   chan struct{}
	watchers sync.WaitGroup

	locksMu sync.Mutex
	locks   map[types.ClientID]*sync.Mutex

	observersMu sync.RWMutex
	observers   []StateObserver
}

// New builds a controller delivering into sink. Each strategy is keyed by
// its Mode; a later strategy for the same mode replaces an earlier one.
func New(reg *registry.Registry, sink interfaces.DeliverySink, log *zap.Logger, strategies ...interfaces.Strategy) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		registry:   reg,
		strategies: make(map[types.TransportMode]interfaces.Strategy, len(strategies)),
		sink:       sink,
		log:        log.Named("switcher"),
		closed:     make(chan struct{}),
		locks:      make(map[types.ClientID]*sync.Mutex),
	}
	for _, s := range strategies {
		if s != nil {
			c.strategies[s.Mode()] = s
		}
	}
	return c
}

// OnStateChange registers fn for every subsequent mode change.
func (c *Controller) OnStateChange(fn StateObserver) {
	if fn == nil {
		return
	}
	c.observersMu.Lock()
	c.observers = append(c.observers, fn)
	c.observersMu.Unlock()
}

// Available lists the modes that can be selected, in display order.
func (c *Controller) Available() []types.TransportMode {
	modes := make([]types.TransportMode, 0, len(types.Modes))
	for _, mode := range types.Modes {
		if _, ok := c.strategies[mode]; ok || mode == types.ModeDisconnected {
			modes = append(modes, mode)
		}
	}
	return modes
}

// Mode reports the client's active mode.
func (c *Controller) Mode(clientID types.ClientID) types.TransportMode {
	return c.registry.ActiveMode(clientID)
}

// SwitchTo deactivates whatever the client has active and, unless mode is
// ModeDisconnected, starts and registers the requested strategy. A start
// failure is returned once and leaves the client disconnected.
func (c *Controller) SwitchTo(ctx context.Context, clientID types.ClientID, mode types.TransportMode) error {
	if !mode.IsValid() {
		return errors.Wrapf(ErrUnknownMode, "mode %d", int(mode))
	}
	if err := clientID.Validate(); err != nil {
		return err
	}

	strategy, ok := c.strategies[mode]
	if !ok && mode != types.ModeDisconnected {
		return errors.Wrapf(ErrStrategyUnavailable, "%s", mode)
	}

	c.state.RLock()
	defer c.state.RUnlock()
	if c.shutdown {
		return ErrShutdown
	}

	lock := c.clientLock(clientID)
	lock.Lock()
	defer lock.Unlock()

	log := c.log.With(zap.String("client_id", clientID.String()), zap.Stringer("mode", mode))

	released := c.registry.Deactivate(clientID)
	if released != types.ModeDisconnected {
		log.Debug("released previous transport", zap.Stringer("previous", released))
	}

	if mode == types.ModeDisconnected {
		if released != types.ModeDisconnected {
			c.notify(clientID, types.ModeDisconnected)
		}
		log.Info("client disconnected")
		return nil
	}

	handle, err := strategy.Start(ctx, clientID, c.sink)
	if err != nil {
		log.Warn("transport start failed", zap.Error(err))
		if released != types.ModeDisconnected {
			c.notify(clientID, types.ModeDisconnected)
		}
		return &StartError{Mode: mode, Err: err}
	}

	if _, err := c.registry.Activate(clientID, mode, handle); err != nil {
		handle.Stop()
		log.Error("transport registration failed", zap.Error(err))
		return errors.Wrap(err, "register transport")
	}

	c.watch(clientID, handle)
	c.notify(clientID, mode)
	log.Info("transport active")
	return nil
}

// Shutdown stops every active transport. Later switches fail with
// ErrShutdown.
func (c *Controller) Shutdown() {
	c.state.Lock()
	if c.shutdown {
		c.state.Unlock()
		return
	}
	c.shutdown = true
	close(c.closed)
	c.state.Unlock()

	n := c.registry.DeactivateAll()
	c.watchers.Wait()
	c.log.Info("controller shut down", zap.Int("released", n))
}

// watch releases the entry when the handle ends without a switch, as when
// the server drops a socket.
func (c *Controller) watch(clientID types.ClientID, handle interfaces.Handle) {
	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()

		select {
		case <-handle.Done():
		case <-c.closed:
			return
		}

		lock := c.clientLock(clientID)
		lock.Lock()
		defer lock.Unlock()

		if !c.registry.Release(clientID, handle) {
			return
		}
		c.log.Warn("transport ended",
			zap.String("client_id", clientID.String()),
			zap.Stringer("mode", handle.Mode()),
			zap.Error(handle.Err()))
		c.notify(clientID, types.ModeDisconnected)
	}()
}

func (c *Controller) clientLock(clientID types.ClientID) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	lock, ok := c.locks[clientID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[clientID] = lock
	}
	return lock
}

func (c *Controller) notify(clientID types.ClientID, mode types.TransportMode) {
	c.observersMu.RLock()
	observers := make([]StateObserver, len(c.observers))
	copy(observers, c.observers)
	c.observersMu.RUnlock()

	for _, fn := range observers {
		fn(clientID, mode)
	}
}
