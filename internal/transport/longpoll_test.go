package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"chatlink/internal/config"
	"chatlink/pkg/types"
)

func newTestLongPoll(t *testing.T, serverURL string) *LongPoll {
	t.Helper()
	l, err := NewLongPoll(serverURL, &config.LongPollConfig{RequestTimeout: 2 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLongPoll failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func writeWire(w http.ResponseWriter, msg types.WireMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(msg)
}

func TestLongPoll_EmptyResponsesThenMessage(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != types.PathLongPoll {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get(types.HeaderClientID); got != "alice" {
			t.Errorf("expected Client-Id alice, got %q", got)
		}
		switch n := requests.Add(1); {
		case n <= 3:
			w.WriteHeader(http.StatusNoContent)
		case n == 4:
			writeWire(w, types.WireMessage{Text: "hello", ClientID: "bob"})
		default:
			time.Sleep(10 * time.Millisecond)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	sink := newRecordingSink()
	h, err := newTestLongPoll(t, srv.URL).Start(context.Background(), "alice", sink)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	msg := sink.waitFor(t, 2*time.Second)
	if msg.SenderClientID != "bob" || msg.Text != "hello" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Mode != types.ModeLongPoll {
		t.Errorf("message mode = %v, want longpoll", msg.Mode)
	}

	eventually(t, 2*time.Second, func() bool { return requests.Load() >= 6 }, "chain should keep re-issuing")
	if sink.count() != 1 {
		t.Errorf("Expected exactly one delivery, got %d", sink.count())
	}
}

func TestLongPoll_StopWhileRequestOutstanding(t *testing.T) {
	var requests atomic.Int32
	arrived := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			close(arrived)
		}
		<-release
		writeWire(w, types.WireMessage{Text: "late", ClientID: "bob"})
	}))
	defer srv.Close()

	sink := newRecordingSink()
	h, err := newTestLongPoll(t, srv.URL).Start(context.Background(), "alice", sink)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("first request never arrived")
	}

	h.Stop()
	if state := h.(*pollHandle).State(); state != PollStopped {
		t.Errorf("Expected stopped state, got %v", state)
	}
	close(release)

	time.Sleep(100 * time.Millisecond)
	if sink.count() != 0 {
		t.Errorf("Response after Stop must be discarded, got %d deliveries", sink.count())
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("Chain must not continue after Stop, saw %d requests", n)
	}
	if h.Err() != nil {
		t.Errorf("Err should be nil after Stop, got %v", h.Err())
	}
}

func TestLongPoll_ErrorsAreRetried(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch n := requests.Add(1); {
		case n <= 2:
			http.Error(w, "boom", http.StatusInternalServerError)
		case n == 3:
			writeWire(w, types.WireMessage{Text: "recovered", ClientID: "bob"})
		default:
			time.Sleep(10 * time.Millisecond)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	sink := newRecordingSink()
	h, err := newTestLongPoll(t, srv.URL).Start(context.Background(), "alice", sink)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	if msg := sink.waitFor(t, 2*time.Second); msg.Text != "recovered" {
		t.Errorf("unexpected message %+v", msg)
	}
	select {
	case <-h.Done():
		t.Error("Transient failures must not end the handle")
	default:
	}
}

func TestLongPoll_RetryDelay(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	l, err := NewLongPoll(srv.URL, &config.LongPollConfig{RequestTimeout: time.Second, RetryDelay: time.Hour}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLongPoll failed: %v", err)
	}
	defer l.Close()

	h, err := l.Start(context.Background(), "alice", newRecordingSink())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	eventually(t, 2*time.Second, func() bool { return requests.Load() == 1 }, "first request")
	time.Sleep(50 * time.Millisecond)
	if n := requests.Load(); n != 1 {
		t.Errorf("Retry delay should hold the chain, saw %d requests", n)
	}

	h.Stop()
	waitDone(t, h.Done(), time.Second)
}

func TestLongPoll_CloseAbortsInFlight(t *testing.T) {
	arrived := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case arrived <- struct{}{}:
		default:
		}
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	l := newTestLongPoll(t, srv.URL)
	h, err := l.Start(context.Background(), "alice", newRecordingSink())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("request never arrived")
	}

	_ = l.Close()
	waitDone(t, h.Done(), 2*time.Second)
	if !errors.Is(h.Err(), ErrStrategyClosed) {
		t.Errorf("Expected ErrStrategyClosed, got %v", h.Err())
	}

	if _, err := l.Start(context.Background(), "alice", newRecordingSink()); err != ErrStrategyClosed {
		t.Errorf("Start after Close should fail with ErrStrategyClosed, got %v", err)
	}
}

func TestLongPoll_StartValidation(t *testing.T) {
	l := newTestLongPoll(t, "http://localhost:5000")

	if _, err := l.Start(context.Background(), "", newRecordingSink()); err != ErrInvalidClient {
		t.Errorf("Expected ErrInvalidClient, got %v", err)
	}
	if _, err := l.Start(context.Background(), "alice", nil); err != ErrNilSink {
		t.Errorf("Expected ErrNilSink, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Start(ctx, "alice", newRecordingSink()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
