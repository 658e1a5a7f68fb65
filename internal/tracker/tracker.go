// Package tracker is the indexing heartbeat: it drains classifier batches,
// sweeps pending wallets and keeps the ordered index rebuilt on schedule.
package tracker

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

const (
	idleSleep    = 5 * time.Second
	errorSleep   = 10 * time.Second
	rebuildEvery = 6 * time.Hour
)

// Batcher settles one batch of candidates.
type Batcher interface {
	ProcessBatch(ctx context.Context) (int, error)
}

// Sweeper reconciles one batch of pending wallets.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Syncer rebuilds the ordered index from the database.
type Syncer interface {
	SyncIndex(ctx context.Context) error
}

// Index exposes the cardinality check used for the bootstrap rebuild.
type Index interface {
	Card(ctx context.Context) (int64, error)
}

type Tracker struct {
	classifier Batcher
	reconciler Sweeper
	syncer     Syncer
	index      Index

	// Overridable in tests.
	idle    time.Duration
	onError time.Duration
	rebuild time.Duration

	running atomic.Bool
}

func New(classifier Batcher, reconciler Sweeper, syncer Syncer, index Index) *Tracker {
	return &Tracker{
		classifier: classifier,
		reconciler: reconciler,
		syncer:     syncer,
		index:      index,
		idle:       idleSleep,
		onError:    errorSleep,
		rebuild:    rebuildEvery,
	}
}

// IsRunning reports whether the loop is active.
func (t *Tracker) IsRunning() bool {
	return t.running.Load()
}

// Run blocks until ctx is cancelled. An empty index at startup triggers an
// immediate rebuild so cold boots never serve an empty leaderboard while the
// database has wallets.
func (t *Tracker) Run(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		log.Println("[Tracker] Already running, ignoring duplicate start")
		return
	}
	defer t.running.Store(false)
	log.Println("[Tracker] Starting swap tracker loop")

	if card, err := t.index.Card(ctx); err != nil {
		log.Printf("[Tracker] Index cardinality check failed: %v", err)
	} else if card == 0 {
		if err := t.syncer.SyncIndex(ctx); err != nil {
			log.Printf("[Tracker] Bootstrap index rebuild failed: %v", err)
		}
	}

	rebuildTicker := time.NewTicker(t.rebuild)
	defer rebuildTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Tracker] Stopping swap tracker loop")
			return
		case <-rebuildTicker.C:
			if err := t.syncer.SyncIndex(ctx); err != nil {
				log.Printf("[Tracker] Scheduled index rebuild failed: %v", err)
			}
			continue
		default:
		}

		settled, err := t.classifier.ProcessBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("[Tracker] Classifier batch failed: %v", err)
			t.sleep(ctx, t.onError)
			continue
		}

		swept, err := t.reconciler.Sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("[Tracker] Reconciler sweep failed: %v", err)
			t.sleep(ctx, t.onError)
			continue
		}

		if settled == 0 && swept == 0 {
			t.sleep(ctx, t.idle)
		}
	}
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
