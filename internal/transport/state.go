package transport

import "sync"

// SocketState is the lifecycle of one socket handle.
type SocketState int

const (
	SocketConnecting SocketState = iota
	SocketOpen
	SocketClosed
)

func (s SocketState) String() string {
	switch s {
	case SocketConnecting:
		return "connecting"
	case SocketOpen:
		return "open"
	case SocketClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PollState is the lifecycle of one short-poll or long-poll handle.
type PollState int

const (
	PollWaiting PollState = iota
	PollStopped
)

func (s PollState) String() string {
	switch s {
	case PollWaiting:
		return "waiting"
	case PollStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// lifecycle implements Handle.Done and Handle.Err.
type lifecycle struct {
	done    chan struct{}
	endOnce sync.Once
	errMu   sync.Mutex
	err     error
}

func newLifecycle() lifecycle {
	return lifecycle{done: make(chan struct{})}
}

// end records err and closes Done. Only the first call has any effect.
func (l *lifecycle) end(err error) {
	l.endOnce.Do(func() {
		l.errMu.Lock()
		l.err = err
		l.errMu.Unlock()
		close(l.done)
	})
}

func (l *lifecycle) Done() <-chan struct{} { return l.done }

func (l *lifecycle) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}
