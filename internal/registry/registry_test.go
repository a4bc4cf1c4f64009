package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"chatlink/pkg/types"
)

type fakeHandle struct {
	mode  types.TransportMode
	stops atomic.Int32
	once  sync.Once
	done  chan struct{}
}

func newFakeHandle(mode types.TransportMode) *fakeHandle {
	return &fakeHandle{mode: mode, done: make(chan struct{})}
}

func (h *fakeHandle) Mode() types.TransportMode { return h.mode }
func (h *fakeHandle) Done() <-chan struct{}     { return h.done }
func (h *fakeHandle) Err() error                { return nil }
func (h *fakeHandle) Stop() {
	h.stops.Add(1)
	h.once.Do(func() { close(h.done) })
}

func TestRegistry_NewRegistryInitialization(t *testing.T) {
	r := New()

	stats := r.Stats()
	if stats["total_active"] != 0 {
		t.Errorf("Expected 0 initial entries, got %d", stats["total_active"])
	}
	if r.ActiveMode("alice") != types.ModeDisconnected {
		t.Error("Unknown client should be disconnected")
	}
}

func TestRegistry_ActivateValidation(t *testing.T) {
	r := New()

	if _, err := r.Activate("alice", types.ModeSocket, nil); err != ErrNilHandle {
		t.Errorf("Expected ErrNilHandle, got %v", err)
	}
	if _, err := r.Activate("", types.ModeSocket, newFakeHandle(types.ModeSocket)); err != ErrInvalidClient {
		t.Errorf("Expected ErrInvalidClient, got %v", err)
	}
	if _, err := r.Activate("alice", types.ModeDisconnected, newFakeHandle(types.ModeDisconnected)); err != ErrInvalidMode {
		t.Errorf("Expected ErrInvalidMode for disconnected, got %v", err)
	}
	if _, err := r.Activate("alice", types.TransportMode(42), newFakeHandle(types.ModeSocket)); err != ErrInvalidMode {
		t.Errorf("Expected ErrInvalidMode for out-of-range mode, got %v", err)
	}
}

func TestRegistry_ActivateRejectsSecondEntry(t *testing.T) {
	r := New()
	first := newFakeHandle(types.ModeSocket)

	entry, err := r.Activate("alice", types.ModeSocket, first)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if entry.ClientID != "alice" || entry.Mode != types.ModeSocket || entry.ActivatedAt.IsZero() {
		t.Errorf("unexpected entry %+v", entry)
	}

	if _, err := r.Activate("alice", types.ModeLongPoll, newFakeHandle(types.ModeLongPoll)); err != ErrAlreadyActive {
		t.Errorf("Expected ErrAlreadyActive, got %v", err)
	}
	if r.ActiveMode("alice") != types.ModeSocket {
		t.Error("Rejected activation must not replace the existing entry")
	}
	if first.stops.Load() != 0 {
		t.Error("Rejected activation must not stop the existing handle")
	}
}

func TestRegistry_DeactivateStopsHandle(t *testing.T) {
	r := New()
	h := newFakeHandle(types.ModeShortPoll)
	if _, err := r.Activate("alice", types.ModeShortPoll, h); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if released := r.Deactivate("alice"); released != types.ModeShortPoll {
		t.Errorf("Expected poll released, got %v", released)
	}
	if h.stops.Load() != 1 {
		t.Errorf("Expected Stop called once, got %d", h.stops.Load())
	}
	if r.ActiveMode("alice") != types.ModeDisconnected {
		t.Error("Client should be disconnected after Deactivate")
	}

	// Idempotent.
	if released := r.Deactivate("alice"); released != types.ModeDisconnected {
		t.Errorf("Second Deactivate should release nothing, got %v", released)
	}
	if h.stops.Load() != 1 {
		t.Error("Second Deactivate must not stop the handle again")
	}

	if _, err := r.Activate("alice", types.ModeLongPoll, newFakeHandle(types.ModeLongPoll)); err != nil {
		t.Errorf("Activate after Deactivate should succeed: %v", err)
	}
}

func TestRegistry_ReleaseIsIdentityChecked(t *testing.T) {
	r := New()
	stale := newFakeHandle(types.ModeSocket)
	current := newFakeHandle(types.ModeLongPoll)

	if _, err := r.Activate("alice", types.ModeSocket, stale); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	r.Deactivate("alice")
	if _, err := r.Activate("alice", types.ModeLongPoll, current); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if r.Release("alice", stale) {
		t.Error("Stale handle must not release the current entry")
	}
	if r.ActiveMode("alice") != types.ModeLongPoll {
		t.Error("Current entry should survive a stale release")
	}

	if !r.Release("alice", current) {
		t.Error("Current handle should release its own entry")
	}
	if r.ActiveMode("alice") != types.ModeDisconnected {
		t.Error("Client should be disconnected after Release")
	}
	if r.Release("alice", nil) {
		t.Error("nil handle should never release")
	}
}

func TestRegistry_CurrentReturnsCopy(t *testing.T) {
	r := New()
	h := newFakeHandle(types.ModeSocket)
	if _, err := r.Activate("alice", types.ModeSocket, h); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	entry, ok := r.Current("alice")
	if !ok || entry.Handle != h {
		t.Fatalf("Expected current entry with handle, got %+v %v", entry, ok)
	}
	entry.Mode = types.ModeLongPoll
	if r.ActiveMode("alice") != types.ModeSocket {
		t.Error("Mutating the returned entry must not affect the registry")
	}

	if _, ok := r.Current("bob"); ok {
		t.Error("Unknown client should have no entry")
	}
}

func TestRegistry_StatsAndDeactivateAll(t *testing.T) {
	r := New()
	handles := []*fakeHandle{
		newFakeHandle(types.ModeSocket),
		newFakeHandle(types.ModeShortPoll),
		newFakeHandle(types.ModeShortPoll),
	}
	ids := []types.ClientID{"alice", "bob", "carol"}
	for i, h := range handles {
		if _, err := r.Activate(ids[i], h.mode, h); err != nil {
			t.Fatalf("Activate %s failed: %v", ids[i], err)
		}
	}

	stats := r.Stats()
	if stats["total_active"] != 3 || stats["socket"] != 1 || stats["poll"] != 2 || stats["longpoll"] != 0 {
		t.Errorf("unexpected stats %v", stats)
	}

	if n := r.DeactivateAll(); n != 3 {
		t.Errorf("Expected 3 deactivated, got %d", n)
	}
	for i, h := range handles {
		if h.stops.Load() != 1 {
			t.Errorf("handle %d stopped %d times", i, h.stops.Load())
		}
	}
	if r.Stats()["total_active"] != 0 {
		t.Error("Registry should be empty after DeactivateAll")
	}
}

func TestRegistry_ConcurrentActivateSingleWinner(t *testing.T) {
	r := New()
	const workers = 50

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Activate("alice", types.ModeSocket, newFakeHandle(types.ModeSocket)); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins.Load())
	}
}

func TestRegistry_ConcurrentClients(t *testing.T) {
	r := New()
	const clients = 100

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := types.ClientID(fmt.Sprintf("client-%d", i))
			if _, err := r.Activate(id, types.ModeLongPoll, newFakeHandle(types.ModeLongPoll)); err != nil {
				t.Errorf("Activate %s failed: %v", id, err)
			}
			_ = r.ActiveMode(id)
			if i%2 == 0 {
				r.Deactivate(id)
			}
		}(i)
	}
	wg.Wait()

	if got := r.Stats()["total_active"]; got != clients/2 {
		t.Errorf("Expected %d active, got %d", clients/2, got)
	}
}
