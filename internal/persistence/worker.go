package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"MarginVenue/internal/engine"
	"MarginVenue/internal/observability"
	"MarginVenue/internal/state"
)

// DefaultInterval is how often the worker snapshots engine state.
const DefaultInterval = 2 * time.Second

// Worker periodically captures a consistent copy of the engine state and
// upserts it to Postgres. Capture goes through the engine loop's snapshot
// channel, so the copy never races with command application. Save failures
// are logged and retried on the next tick; a crash loses at most the
// commands applied since the last successful save.
type Worker struct {
	store     *SnapshotStore
	snapshots chan<- engine.SnapshotRequest
	interval  time.Duration
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewWorker(
	store *SnapshotStore,
	snapshots chan<- engine.SnapshotRequest,
	interval time.Duration,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		store:     store,
		snapshots: snapshots,
		interval:  interval,
		log:       log,
		metrics:   metrics,
	}
}

// Run starts the snapshot loop. Blocks until ctx is cancelled, taking one
// final snapshot on the way out.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort final snapshot; the engine loop may already be gone.
			w.snapshot(context.Background())
			return ctx.Err()

		case <-ticker.C:
			w.snapshot(ctx)
		}
	}
}

func (w *Worker) snapshot(ctx context.Context) {
	start := time.Now()

	users, ok := w.capture(ctx)
	if !ok {
		return
	}

	snap := &SnapshotData{
		Users:     users,
		CreatedAt: time.Now().UTC(),
	}

	size, err := w.store.Save(ctx, snap)
	if err != nil {
		w.metrics.SnapshotErrors.Inc()
		w.log.Error().Err(err).Msg("snapshot save failed")
		return
	}

	w.metrics.SnapshotTaken.Inc()
	w.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	w.metrics.SnapshotSizeBytes.Set(float64(size))
	w.log.Debug().Int("users", len(users)).Int("size_bytes", size).Msg("snapshot saved")
}

// capture asks the engine loop for a deep copy of the user map.
func (w *Worker) capture(ctx context.Context) (map[string]*state.User, bool) {
	req := engine.SnapshotRequest{Reply: make(chan map[string]*state.User, 1)}

	select {
	case w.snapshots <- req:
	case <-ctx.Done():
		return nil, false
	case <-time.After(w.interval):
		w.log.Warn().Msg("engine loop not accepting snapshot requests")
		return nil, false
	}

	select {
	case users := <-req.Reply:
		return users, true
	case <-ctx.Done():
		return nil, false
	case <-time.After(w.interval):
		w.log.Warn().Msg("snapshot reply timed out")
		return nil, false
	}
}
