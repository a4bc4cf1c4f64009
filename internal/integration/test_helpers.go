// Package integration exercises the client and the relay together over real
// sockets.
package integration

import (
	"context"
	"database/sql"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap/zaptest"

	"chatlink/internal/app"
	"chatlink/internal/config"
	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// settle outlasts the relay's long-poll hold so a request abandoned by a
// switch cannot take the next message.
const settle = 300 * time.Millisecond

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Transcript.Path = filepath.Join(t.TempDir(), "chatlink.db")
	cfg.ShortPoll.Interval = 50 * time.Millisecond
	cfg.LongPoll.RequestTimeout = 2 * time.Second
	cfg.Relay.LongPollHold = 200 * time.Millisecond
	cfg.Relay.PingInterval = time.Second
	return cfg
}

func startRelay(t *testing.T, cfg *config.Config) *app.Relay {
	t.Helper()

	r, err := app.NewRelay(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create relay: %v", err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	if err := r.Serve(context.Background(), l); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.Stop(ctx); err != nil {
			t.Logf("Failed to stop relay: %v", err)
		}
	})

	cfg.Client.ServerURL = "http://" + r.Addr()
	return r
}

// inbox collects delivered messages.
type inbox struct {
	mu       sync.Mutex
	messages []types.InboundMessage
	notify   chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 64)}
}

func (i *inbox) OnMessage(msg types.InboundMessage) {
	i.mu.Lock()
	i.messages = append(i.messages, msg)
	i.mu.Unlock()
	select {
	case i.notify <- struct{}{}:
	default:
	}
}

var _ interfaces.DeliverySink = (*inbox)(nil)

func (i *inbox) snapshot() []types.InboundMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]types.InboundMessage(nil), i.messages...)
}

// waitFor blocks until n messages have arrived.
func (i *inbox) waitFor(t *testing.T, n int, timeout time.Duration) []types.InboundMessage {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if got := i.snapshot(); len(got) >= n {
			return got
		}
		select {
		case <-i.notify:
		case <-deadline:
			t.Fatalf("received %d messages, want %d: %+v", len(i.snapshot()), n, i.snapshot())
		}
	}
}

func newClient(t *testing.T, cfg *config.Config, id types.ClientID, sink interfaces.DeliverySink) *app.Client {
	t.Helper()
	c, err := app.NewClient(cfg, id, sink, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create client %s: %v", id, err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Logf("Failed to close client %s: %v", id, err)
		}
	})
	return c
}

func waitParticipants(t *testing.T, r *app.Relay, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for r.Participants() < n {
		if time.Now().After(deadline) {
			t.Fatalf("relay saw %d participants, want %d", r.Participants(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// countTranscriptRows reads the transcript database directly.
func countTranscriptRows(t *testing.T, dbPath string, clientID types.ClientID) int {
	t.Helper()

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	}()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM transcript WHERE client_id = ?`, clientID.String()).Scan(&n); err != nil {
		t.Fatalf("Failed to count transcript rows: %v", err)
	}
	return n
}

// waitTranscriptRows polls until clientID has at least n rows or the
// deadline passes, and returns the last count.
func waitTranscriptRows(t *testing.T, dbPath string, clientID types.ClientID, n int) int {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got := countTranscriptRows(t, dbPath, clientID)
		if got >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// waitHistory polls the client's transcript until it holds n entries.
func waitHistory(t *testing.T, c *app.Client, n int) []*types.TranscriptEntry {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		history, err := c.History(context.Background(), 0)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) >= n || time.Now().After(deadline) {
			return history
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// withoutTranscript copies cfg with the transcript turned off, for senders
// that share a test database path.
func withoutTranscript(cfg *config.Config) *config.Config {
	c := *cfg
	transcript := *cfg.Transcript
	transcript.Enabled = false
	c.Transcript = &transcript
	return &c
}
