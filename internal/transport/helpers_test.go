package transport

import (
	"sync"
	"testing"
	"time"

	"chatlink/pkg/types"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []types.InboundMessage
	ch   chan types.InboundMessage
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan types.InboundMessage, 100)}
}

func (s *recordingSink) OnMessage(msg types.InboundMessage) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()

	select {
	case s.ch <- msg:
	default:
	}
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *recordingSink) waitFor(t *testing.T, timeout time.Duration) types.InboundMessage {
	t.Helper()
	select {
	case msg := <-s.ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("no message delivered within %v", timeout)
		return types.InboundMessage{}
	}
}

// eventually polls cond until it holds or timeout elapses.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func waitDone(t *testing.T, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("handle not done within %v", timeout)
	}
}
