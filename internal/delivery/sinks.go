// Package delivery holds the DeliverySink implementations used by the chat
// client.
package delivery

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// Printer renders each message as a "sender: text" line.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) OnMessage(msg types.InboundMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s: %s\n", msg.SenderClientID, msg.Text)
}

// Fanout forwards every message to each sink in order.
type Fanout []interfaces.DeliverySink

func (f Fanout) OnMessage(msg types.InboundMessage) {
	for _, sink := range f {
		if sink != nil {
			sink.OnMessage(msg)
		}
	}
}

// recordQueueSize bounds the entries waiting for the transcript writer.
const recordQueueSize = 256

// Recorder queues each delivered message for the transcript and passes it
// on without waiting for the write. Failed or dropped writes are logged and
// never block delivery.
type Recorder struct {
	store    interfaces.TranscriptStore
	clientID types.ClientID
	next     interfaces.DeliverySink
	timeout  time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan *types.TranscriptEntry
	done   chan struct{}
}

// NewRecorder records messages received by clientID and starts the writer.
// next may be nil. Close must be called to flush and stop the writer.
func NewRecorder(store interfaces.TranscriptStore, clientID types.ClientID, next interfaces.DeliverySink, timeout time.Duration, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Recorder{
		store:    store,
		clientID: clientID,
		next:     next,
		timeout:  timeout,
		log:      log.Named("recorder"),
		now:      time.Now,
		queue:    make(chan *types.TranscriptEntry, recordQueueSize),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) OnMessage(msg types.InboundMessage) {
	r.enqueue(&types.TranscriptEntry{
		ID:          uuid.NewString(),
		ClientID:    r.clientID,
		SenderID:    msg.SenderClientID,
		Text:        msg.Text,
		Mode:        msg.Mode,
		DeliveredAt: r.now().UTC(),
	})

	if r.next != nil {
		r.next.OnMessage(msg)
	}
}

func (r *Recorder) enqueue(entry *types.TranscriptEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.log.Warn("transcript queue full, dropping message",
			zap.String("client_id", r.clientID.String()),
			zap.String("sender", entry.SenderID.String()))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.store.StoreMessage(ctx, entry)
		cancel()
		if err != nil {
			r.log.Warn("failed to record message",
				zap.String("client_id", r.clientID.String()),
				zap.String("sender", entry.SenderID.String()),
				zap.Error(err))
		}
	}
}

// Close stops accepting messages and waits for queued entries to be
// written. Safe to call more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
