package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/matchpoint-server/internal/config"
	"github.com/matchpoint-server/internal/postgres"
	"github.com/matchpoint-server/internal/registry"
)

// Sweeper keeps the room-code registry consistent with the database: it
// rebuilds bindings on startup (Redis is not the source of truth), releases
// codes of matches that finished past the grace window so they can be
// reissued, and optionally deletes finished matches past retention.
type Sweeper struct {
	registry *registry.Registry
	postgres *postgres.Repository
	config   *config.SweepConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSweeper creates a new registry sweeper
func NewSweeper(
	reg *registry.Registry,
	pg *postgres.Repository,
	cfg *config.SweepConfig,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		registry: reg,
		postgres: pg,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sweep process
func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("registry sweeper started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sweep process
func (w *Sweeper) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("registry sweeper stopped")
	return nil
}

// run is the main worker loop
func (w *Sweeper) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// RebuildRegistry re-binds every active match's room code into Redis.
// Run at startup so a Redis loss never strands active matches.
func (w *Sweeper) RebuildRegistry(ctx context.Context) error {
	w.logger.Info("rebuilding room-code registry from database")

	matches, err := w.postgres.ListActiveMatches(ctx)
	if err != nil {
		return err
	}

	for _, m := range matches {
		if err := w.registry.Bind(ctx, m.RoomCode, m.ID); err != nil {
			w.logger.Error("failed to bind room code",
				"room_code", m.RoomCode,
				"match_id", m.ID,
				"error", err,
			)
			// Continue with other matches
		}
	}

	w.logger.Info("room-code registry rebuilt", "active_matches", len(matches))
	return nil
}

// sweep runs a single sweep cycle
func (w *Sweeper) sweep(ctx context.Context) {
	w.logger.Debug("starting sweep cycle")
	startTime := time.Now()

	releaseCutoff := time.Now().Add(-w.config.ReleaseAfter)
	finished, err := w.postgres.ListFinishedBefore(ctx, releaseCutoff)
	if err != nil {
		w.logger.Error("failed to list finished matches", "error", err)
		return
	}

	released := 0
	for _, m := range finished {
		if err := w.registry.Release(ctx, m.RoomCode, m.ID); err != nil {
			w.logger.Error("failed to release room code",
				"room_code", m.RoomCode,
				"match_id", m.ID,
				"error", err,
			)
			continue
		}
		released++
	}

	var deleted int64
	if w.config.Retention > 0 {
		retentionCutoff := time.Now().Add(-w.config.Retention)
		deleted, err = w.postgres.DeleteFinishedBefore(ctx, retentionCutoff)
		if err != nil {
			w.logger.Error("failed to delete expired matches", "error", err)
		}
	}

	w.logger.Info("sweep cycle completed",
		"duration", time.Since(startTime),
		"codes_released", released,
		"matches_deleted", deleted,
	)
}

// IsRunning returns whether the sweeper is currently running
func (w *Sweeper) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sweep cycle (useful for manual triggers)
func (w *Sweeper) RunOnce(ctx context.Context) {
	w.sweep(ctx)
}
