// Package database stores the client's transcript of delivered messages in
// SQLite.
package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// Manager implements interfaces.TranscriptStore. Reads run concurrently;
// all writes go through one goroutine because SQLite allows one writer.
type Manager struct {
	db           *sql.DB
	config       *Config
	log          *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(ctx context.Context, db *sql.DB) error
	result    chan error
}

var _ interfaces.TranscriptStore = (*Manager)(nil)

// NewManager opens the database, applies pending migrations and starts the
// writer.
func NewManager(cfg *Config, log *zap.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid database config")
	}
	if log == nil {
		log = zap.NewNop()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create database directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply SQLite optimizations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancel()
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	m := &Manager{
		db:           db,
		config:       cfg,
		log:          log.Named("transcript"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop runs every write; a failed write is retried once.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if err != nil && op.ctx.Err() == nil {
				m.log.Warn("write failed, retrying", zap.Error(err), zap.Duration("delay", m.config.RetryDelay))
				select {
				case <-time.After(m.config.RetryDelay):
					err = op.operation(op.ctx, m.db)
				case <-op.ctx.Done():
					err = op.ctx.Err()
				}
				if err != nil {
					m.log.Error("write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(ctx context.Context, db *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrTranscriptClosed
	}
	m.mu.RUnlock()

	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("transcript write timeout")
	case <-m.shutdown:
		return interfaces.ErrTranscriptClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return interfaces.ErrTranscriptClosed
	}
}

// StoreMessage appends one delivered message.
func (m *Manager) StoreMessage(ctx context.Context, entry *types.TranscriptEntry) error {
	if entry == nil {
		return errors.New("transcript entry cannot be nil")
	}
	if err := entry.ClientID.Validate(); err != nil {
		return err
	}
	if entry.ID == "" {
		return errors.New("transcript entry ID cannot be empty")
	}
	deliveredAt := entry.DeliveredAt
	if deliveredAt.IsZero() {
		deliveredAt = time.Now()
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO transcript (id, client_id, sender_id, text, mode, delivered_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			entry.ID,
			entry.ClientID.String(),
			entry.SenderID.String(),
			entry.Text,
			entry.Mode.String(),
			deliveredAt.UTC(),
		)
		return errors.Wrap(err, "insert transcript entry")
	})
}

// History returns the newest limit entries for clientID, oldest first. A
// limit of zero or less returns everything.
func (m *Manager) History(ctx context.Context, clientID types.ClientID, limit int) ([]*types.TranscriptEntry, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, interfaces.ErrTranscriptClosed
	}

	if limit <= 0 {
		limit = -1
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, client_id, sender_id, text, mode, delivered_at
		FROM transcript
		WHERE client_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, clientID.String(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query transcript")
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.TranscriptEntry
	for rows.Next() {
		var (
			entry    types.TranscriptEntry
			owner    string
			senderID string
			mode     string
		)
		if err := rows.Scan(&entry.ID, &owner, &senderID, &entry.Text, &mode, &entry.DeliveredAt); err != nil {
			return nil, errors.Wrap(err, "scan transcript row")
		}
		entry.ClientID = types.ClientID(owner)
		entry.SenderID = types.ClientID(senderID)
		if parsed, err := types.ParseMode(mode); err == nil {
			entry.Mode = parsed
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate transcript rows")
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// HealthCheck pings the database and runs a read against the transcript.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database ping failed")
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcript").Scan(&n); err != nil {
		return errors.Wrap(err, "database read test failed")
	}
	return nil
}

// Close stops the writer and closes the database. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return errors.Wrap(m.db.Close(), "close database")
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "execute %s", pragma)
		}
	}
	return nil
}
