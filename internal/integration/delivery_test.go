package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chatlink/pkg/types"
)

func TestDelivery_EachMode(t *testing.T) {
	for _, mode := range []types.TransportMode{types.ModeSocket, types.ModeShortPoll, types.ModeLongPoll} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := newTestConfig(t)
			relay := startRelay(t, cfg)

			box := newInbox()
			bob := newClient(t, cfg, "bob", box)
			alice := newClient(t, withoutTranscript(cfg), "alice", nil)

			if err := bob.SwitchTo(context.Background(), mode); err != nil {
				t.Fatalf("SwitchTo(%v) failed: %v", mode, err)
			}
			waitParticipants(t, relay, 1)

			if err := alice.Send(context.Background(), "hello via "+mode.String()); err != nil {
				t.Fatalf("Send failed: %v", err)
			}

			got := box.waitFor(t, 1, 3*time.Second)
			if got[0].SenderClientID != "alice" || got[0].Text != "hello via "+mode.String() {
				t.Errorf("received %+v", got[0])
			}

			time.Sleep(settle)
			if n := len(box.snapshot()); n != 1 {
				t.Errorf("received %d messages, want exactly 1", n)
			}
			if n := waitTranscriptRows(t, cfg.Transcript.Path, "bob", 1); n != 1 {
				t.Errorf("transcript rows = %d, want 1", n)
			}
		})
	}
}

func TestDelivery_SwitchSequence(t *testing.T) {
	cfg := newTestConfig(t)
	relay := startRelay(t, cfg)

	box := newInbox()
	bob := newClient(t, cfg, "bob", box)
	alice := newClient(t, withoutTranscript(cfg), "alice", nil)

	var observed []types.TransportMode
	changes := make(chan types.TransportMode, 16)
	bob.OnStateChange(func(m types.TransportMode) { changes <- m })

	sequence := []types.TransportMode{types.ModeSocket, types.ModeShortPoll, types.ModeLongPoll, types.ModeSocket}
	for i, mode := range sequence {
		if err := bob.SwitchTo(context.Background(), mode); err != nil {
			t.Fatalf("SwitchTo(%v) failed: %v", mode, err)
		}
		if bob.Mode() != mode {
			t.Fatalf("Mode = %v, want %v", bob.Mode(), mode)
		}
		if stats := bob.Stats(); stats["total_active"] != 1 {
			t.Fatalf("active transports = %d, want 1", stats["total_active"])
		}
		waitParticipants(t, relay, 1)

		text := fmt.Sprintf("message %d", i)
		if err := alice.Send(context.Background(), text); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		got := box.waitFor(t, i+1, 3*time.Second)
		if got[i].Text != text {
			t.Errorf("message %d = %q, want %q", i, got[i].Text, text)
		}
		observed = append(observed, <-changes)
		time.Sleep(settle)
	}

	if n := len(box.snapshot()); n != len(sequence) {
		t.Errorf("received %d messages, want %d", n, len(sequence))
	}
	for i, mode := range sequence {
		if observed[i] != mode {
			t.Errorf("state change %d = %v, want %v", i, observed[i], mode)
		}
	}

	history := waitHistory(t, bob, len(sequence))
	if len(history) != len(sequence) {
		t.Fatalf("history has %d entries, want %d", len(history), len(sequence))
	}
	for i, entry := range history {
		if entry.Text != fmt.Sprintf("message %d", i) {
			t.Errorf("history[%d] = %q", i, entry.Text)
		}
		if entry.Mode != sequence[i] {
			t.Errorf("history[%d] mode = %v, want %v", i, entry.Mode, sequence[i])
		}
	}
}

func TestDelivery_DisconnectedQueuesAtRelay(t *testing.T) {
	cfg := newTestConfig(t)
	relay := startRelay(t, cfg)

	box := newInbox()
	bob := newClient(t, cfg, "bob", box)
	alice := newClient(t, withoutTranscript(cfg), "alice", nil)

	if err := bob.SwitchTo(context.Background(), types.ModeShortPoll); err != nil {
		t.Fatalf("SwitchTo failed: %v", err)
	}
	waitParticipants(t, relay, 1)

	if err := bob.SwitchTo(context.Background(), types.ModeDisconnected); err != nil {
		t.Fatalf("SwitchTo(disconnected) failed: %v", err)
	}
	if err := bob.SwitchTo(context.Background(), types.ModeDisconnected); err != nil {
		t.Fatalf("second SwitchTo(disconnected) failed: %v", err)
	}
	time.Sleep(settle)

	if err := alice.Send(context.Background(), "while away"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	time.Sleep(settle)
	if n := len(box.snapshot()); n != 0 {
		t.Fatalf("disconnected client received %d messages", n)
	}

	if err := bob.SwitchTo(context.Background(), types.ModeLongPoll); err != nil {
		t.Fatalf("SwitchTo(longpoll) failed: %v", err)
	}
	got := box.waitFor(t, 1, 3*time.Second)
	if got[0].Text != "while away" {
		t.Errorf("received %+v", got[0])
	}
}

func TestDelivery_SocketDropEndsTransport(t *testing.T) {
	cfg := newTestConfig(t)
	relay := startRelay(t, cfg)

	bob := newClient(t, cfg, "bob", newInbox())

	changes := make(chan types.TransportMode, 4)
	bob.OnStateChange(func(m types.TransportMode) { changes <- m })

	if err := bob.SwitchTo(context.Background(), types.ModeSocket); err != nil {
		t.Fatalf("SwitchTo failed: %v", err)
	}
	if m := <-changes; m != types.ModeSocket {
		t.Fatalf("state change = %v", m)
	}
	waitParticipants(t, relay, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := relay.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case m := <-changes:
		if m != types.ModeDisconnected {
			t.Errorf("state change = %v, want disconnected", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("dropped socket was not reported")
	}
	if bob.Mode() != types.ModeDisconnected {
		t.Errorf("Mode = %v, want disconnected", bob.Mode())
	}

	// No automatic reconnect: a new socket start fails while the relay is down.
	if err := bob.SwitchTo(context.Background(), types.ModeSocket); err == nil {
		t.Error("socket start should fail with the relay down")
	}
	if bob.Mode() != types.ModeDisconnected {
		t.Errorf("Mode after failed start = %v", bob.Mode())
	}
}
