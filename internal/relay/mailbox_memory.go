package relay

import (
	"context"
	"sync"
	"time"

	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// MemoryMailbox keeps per-recipient FIFO queues in process memory. Waiters
// are woken by closing the recipient's signal channel on every push.
type MemoryMailbox struct {
	mu      sync.Mutex
	queues  map[types.ClientID][]types.WireMessage
	signals map[types.ClientID]chan struct{}
	limit   int
	closed  bool
}

var _ interfaces.Mailbox = (*MemoryMailbox)(nil)

// NewMemoryMailbox keeps at most limit messages per recipient, dropping the
// oldest when full.
func NewMemoryMailbox(limit int) *MemoryMailbox {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryMailbox{
		queues:  make(map[types.ClientID][]types.WireMessage),
		signals: make(map[types.ClientID]chan struct{}),
		limit:   limit,
	}
}

func (m *MemoryMailbox) Push(ctx context.Context, recipient types.ClientID, msg types.WireMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return interfaces.ErrMailboxClosed
	}

	queue := append(m.queues[recipient], msg)
	if len(queue) > m.limit {
		queue = queue[len(queue)-m.limit:]
	}
	m.queues[recipient] = queue

	if signal, ok := m.signals[recipient]; ok {
		close(signal)
		delete(m.signals, recipient)
	}
	return nil
}

func (m *MemoryMailbox) Pop(ctx context.Context, recipient types.ClientID) (types.WireMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.WireMessage{}, false, interfaces.ErrMailboxClosed
	}
	msg, ok := m.popLocked(recipient)
	return msg, ok, nil
}

func (m *MemoryMailbox) Wait(ctx context.Context, recipient types.ClientID, timeout time.Duration) (types.WireMessage, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return types.WireMessage{}, false, interfaces.ErrMailboxClosed
		}
		if msg, ok := m.popLocked(recipient); ok {
			m.mu.Unlock()
			return msg, true, nil
		}
		signal, exists := m.signals[recipient]
		if !exists {
			signal = make(chan struct{})
			m.signals[recipient] = signal
		}
		m.mu.Unlock()

		select {
		case <-signal:
		case <-timer.C:
			return types.WireMessage{}, false, nil
		case <-ctx.Done():
			return types.WireMessage{}, false, ctx.Err()
		}
	}
}

// Len reports how many messages are queued for recipient.
func (m *MemoryMailbox) Len(recipient types.ClientID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[recipient])
}

func (m *MemoryMailbox) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return interfaces.ErrMailboxClosed
	}
	return nil
}

func (m *MemoryMailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for id, signal := range m.signals {
		close(signal)
		delete(m.signals, id)
	}
	return nil
}

func (m *MemoryMailbox) popLocked(recipient types.ClientID) (types.WireMessage, bool) {
	queue := m.queues[recipient]
	if len(queue) == 0 {
		return types.WireMessage{}, false
	}
	msg := queue[0]
	if len(queue) == 1 {
		delete(m.queues, recipient)
	} else {
		m.queues[recipient] = queue[1:]
	}
	return msg, true
}
