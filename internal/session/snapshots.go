package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/candorvoice/candor/internal/store"
)

const (
	// DefaultSaveInterval is how often the autosaver persists the context.
	DefaultSaveInterval = 30 * time.Second

	// DefaultSnapshotTTL is the age past which stale snapshots are swept.
	DefaultSnapshotTTL = 4 * time.Hour
)

// snapshot is the persisted payload under a session_<id> key.
type snapshot struct {
	Context   []Turn    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// Autosaver periodically persists a conversation context under its session
// key and sweeps stale snapshots left behind by earlier runs.
type Autosaver struct {
	store     store.Store
	ctx       *Context
	sessionID string
	interval  time.Duration
	ttl       time.Duration
}

// AutosaverConfig configures an Autosaver.
type AutosaverConfig struct {
	// Store receives the snapshots. Must not be nil.
	Store store.Store

	// Context is the conversation to snapshot. Must not be nil.
	Context *Context

	// SessionID names the snapshot key ("session_<id>").
	SessionID string

	// Interval between saves. Zero means DefaultSaveInterval.
	Interval time.Duration

	// TTL is the snapshot age past which Sweep deletes it. Zero means
	// DefaultSnapshotTTL.
	TTL time.Duration
}

// NewAutosaver creates an Autosaver for the given conversation.
func NewAutosaver(cfg AutosaverConfig) *Autosaver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSaveInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSnapshotTTL
	}
	return &Autosaver{
		store:     cfg.Store,
		ctx:       cfg.Context,
		sessionID: cfg.SessionID,
		interval:  cfg.Interval,
		ttl:       cfg.TTL,
	}
}

// Run saves the context every interval until ctx is cancelled, writing a
// final snapshot on the way out. Save failures are logged, not fatal.
func (a *Autosaver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.Save(ctx); err != nil {
				slog.Warn("session autosave failed", "session", a.sessionID, "error", err)
			}
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.Save(saveCtx); err != nil {
				slog.Warn("final session save failed", "session", a.sessionID, "error", err)
			}
			cancel()
			return
		}
	}
}

// Save writes the current context snapshot to the store.
func (a *Autosaver) Save(ctx context.Context) error {
	data, err := json.Marshal(snapshot{
		Context:   a.ctx.Snapshot(),
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("session: marshal snapshot: %w", err)
	}
	return a.store.Set(ctx, store.SessionKeyPrefix+a.sessionID, data)
}

// Load restores a previously saved snapshot into the context. A missing
// snapshot leaves the context untouched and returns store.ErrNotFound.
func (a *Autosaver) Load(ctx context.Context) error {
	data, err := a.store.Get(ctx, store.SessionKeyPrefix+a.sessionID)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("session: unmarshal snapshot: %w", err)
	}
	a.ctx.Restore(snap.Context)
	return nil
}

// LoadLatest restores the newest unexpired snapshot in the store, whichever
// session wrote it, and adopts its session id so subsequent saves continue
// under the same key. Returns the adopted id, or store.ErrNotFound when no
// snapshot qualifies.
func (a *Autosaver) LoadLatest(ctx context.Context) (string, error) {
	keys, err := a.store.Keys(ctx, store.SessionKeyPrefix)
	if err != nil {
		return "", fmt.Errorf("session: list snapshots: %w", err)
	}

	cutoff := time.Now().Add(-a.ttl)
	var newestKey string
	var newest snapshot
	for _, key := range keys {
		data, err := a.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		if !snap.Timestamp.After(cutoff) {
			continue
		}
		if newestKey == "" || snap.Timestamp.After(newest.Timestamp) {
			newestKey, newest = key, snap
		}
	}
	if newestKey == "" {
		return "", store.ErrNotFound
	}

	a.ctx.Restore(newest.Context)
	a.sessionID = strings.TrimPrefix(newestKey, store.SessionKeyPrefix)
	return a.sessionID, nil
}

// Sweep deletes every stored session snapshot older than the TTL. Run it
// once at startup; snapshots that cannot be parsed are deleted too.
func (a *Autosaver) Sweep(ctx context.Context) error {
	keys, err := a.store.Keys(ctx, store.SessionKeyPrefix)
	if err != nil {
		return fmt.Errorf("session: list snapshots: %w", err)
	}

	cutoff := time.Now().Add(-a.ttl)
	for _, key := range keys {
		data, err := a.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err == nil && snap.Timestamp.After(cutoff) {
			continue
		}
		if err := a.store.Delete(ctx, key); err != nil {
			slog.Warn("sweep could not delete snapshot", "key", key, "error", err)
			continue
		}
		slog.Debug("swept stale session snapshot", "key", key)
	}
	return nil
}
