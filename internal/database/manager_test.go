package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"chatlink/internal/config"
	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "nested", "transcript.db")
	cfg.RetryDelay = 10 * time.Millisecond

	m, err := NewManager(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func entry(id string, owner, sender types.ClientID, text string, at time.Time) *types.TranscriptEntry {
	return &types.TranscriptEntry{
		ID:          id,
		ClientID:    owner,
		SenderID:    sender,
		Text:        text,
		Mode:        types.ModeLongPoll,
		DeliveredAt: at,
	}
}

func TestManager_StoreAndHistory(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := entry(fmt.Sprintf("m%d", i), "alice", "bob", fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Second))
		if err := m.StoreMessage(ctx, e); err != nil {
			t.Fatalf("StoreMessage %d failed: %v", i, err)
		}
	}
	if err := m.StoreMessage(ctx, entry("other", "carol", "bob", "not alice's", base)); err != nil {
		t.Fatalf("StoreMessage failed: %v", err)
	}

	all, err := m.History(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 entries for alice, got %d", len(all))
	}
	if all[0].Text != "msg 0" || all[4].Text != "msg 4" {
		t.Errorf("History should be oldest first: %q .. %q", all[0].Text, all[4].Text)
	}
	if all[0].SenderID != "bob" || all[0].Mode != types.ModeLongPoll || !all[0].DeliveredAt.Equal(base) {
		t.Errorf("unexpected round-tripped entry %+v", all[0])
	}

	last, err := m.History(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(last) != 2 || last[0].Text != "msg 3" || last[1].Text != "msg 4" {
		t.Errorf("Expected the newest two oldest first, got %+v", last)
	}

	none, err := m.History(ctx, "nobody", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected empty history, got %v (%v)", none, err)
	}
}

func TestManager_StoreValidation(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	if err := m.StoreMessage(ctx, nil); err == nil {
		t.Error("nil entry should be rejected")
	}
	if err := m.StoreMessage(ctx, entry("x", "", "bob", "hi", time.Now())); !errors.Is(err, types.ErrInvalidClientID) {
		t.Errorf("Expected ErrInvalidClientID, got %v", err)
	}
	if err := m.StoreMessage(ctx, entry("", "alice", "bob", "hi", time.Now())); err == nil {
		t.Error("entry without ID should be rejected")
	}

	if err := m.StoreMessage(ctx, entry("dup", "alice", "bob", "hi", time.Now())); err != nil {
		t.Fatalf("StoreMessage failed: %v", err)
	}
	if err := m.StoreMessage(ctx, entry("dup", "alice", "bob", "again", time.Now())); err == nil {
		t.Error("duplicate ID should violate the unique constraint")
	}
}

func TestManager_ConcurrentWrites(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.StoreMessage(ctx, entry(fmt.Sprintf("c%d", i), "alice", "bob", "hi", time.Now())); err != nil {
				t.Errorf("StoreMessage %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	all, err := m.History(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(all) != 50 {
		t.Errorf("Expected 50 entries, got %d", len(all))
	}
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	if err := m.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	if err := m.StoreMessage(ctx, entry("late", "alice", "bob", "hi", time.Now())); !errors.Is(err, interfaces.ErrTranscriptClosed) {
		t.Errorf("Expected ErrTranscriptClosed, got %v", err)
	}
	if _, err := m.History(ctx, "alice", 1); !errors.Is(err, interfaces.ErrTranscriptClosed) {
		t.Errorf("Expected ErrTranscriptClosed from History, got %v", err)
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db); err != nil {
			t.Fatalf("Migrate run %d failed: %v", i, err)
		}
	}

	versions, err := AppliedVersions(ctx, db)
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != len(migrations) {
		t.Errorf("Expected %d applied versions, got %v", len(migrations), versions)
	}
}

func TestConfig_ValidateAndFromTranscript(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.MaxConnections = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero connections should fail validation")
	}

	derived := FromTranscript(&config.TranscriptConfig{Path: "/tmp/x.db", Timeout: time.Second})
	if derived.Path != "/tmp/x.db" || derived.WriteTimeout != time.Second {
		t.Errorf("unexpected derived config %+v", derived)
	}
	if FromTranscript(nil).Path != DefaultConfig().Path {
		t.Error("nil transcript config should yield defaults")
	}
}
