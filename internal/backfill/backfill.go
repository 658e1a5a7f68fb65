// Package backfill crawls a pool's entire transaction history newest-first,
// persisting candidate transactions and advancing the per-pool checkpoint so
// an interrupted run always resumes from a watermark, never from scratch.
package backfill

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonscope/lambo-indexer/internal/tonapi"
	"github.com/tonscope/lambo-indexer/pkg/models"
)

const maxPageRetries = 5

// Lister is the one upstream operation the backfill needs.
type Lister interface {
	ListPoolTransactions(ctx context.Context, account string, beforeLT uint64) ([]models.AccountTx, error)
}

// Store is the persistence surface the backfill writes through.
type Store interface {
	GetPoolByID(ctx context.Context, id int64) (*models.Pool, error)
	InsertCandidatesWithCheckpoint(ctx context.Context, poolID int64, txs []models.Transaction, maxLT uint64) (int, error)
}

// Progress is the crawl state exposed to the admin API.
type Progress struct {
	IsRunning          bool   `json:"isRunning"`
	PagesFetched       int64  `json:"pagesFetched"`
	CandidatesInserted int64  `json:"candidatesInserted"`
	CurrentLT          uint64 `json:"currentLt"`
}

// Backfiller crawls pool histories with adaptive page-fetch concurrency.
type Backfiller struct {
	client Lister
	store  Store
	epoch  time.Time
	ctrl   *Controller

	// Initial per-page retry backoff, doubled per attempt.
	retryBackoff time.Duration

	isRunning     atomic.Bool
	pagesFetched  atomic.Int64
	totalInserted atomic.Int64
	currentLT     atomic.Uint64
}

func New(client Lister, store Store, epoch time.Time, targetRPS float64) *Backfiller {
	return &Backfiller{
		client:       client,
		store:        store,
		epoch:        epoch,
		ctrl:         NewController(targetRPS),
		retryBackoff: time.Second,
	}
}

// GetProgress returns the current crawl progress (thread-safe).
func (b *Backfiller) GetProgress() Progress {
	return Progress{
		IsRunning:          b.isRunning.Load(),
		PagesFetched:       b.pagesFetched.Load(),
		CandidatesInserted: b.totalInserted.Load(),
		CurrentLT:          b.currentLT.Load(),
	}
}

// Run backfills every given pool, one goroutine per pool, page fetches
// bounded by the adaptive concurrency limit. Duplicate invocations while a
// run is in progress are ignored.
func (b *Backfiller) Run(ctx context.Context, pools []models.Pool) {
	if !b.isRunning.CompareAndSwap(false, true) {
		log.Println("[Backfill] Run already in progress, ignoring duplicate request")
		return
	}
	defer b.isRunning.Store(false)

	var wg sync.WaitGroup
	for _, pool := range pools {
		wg.Add(1)
		go func(p models.Pool) {
			defer wg.Done()
			if err := b.BackfillPool(ctx, p.ID); err != nil {
				log.Printf("[Backfill] Pool %s failed: %v", p.Address, err)
			}
		}(pool)
	}
	wg.Wait()
}

// BackfillPool crawls one pool from its newest transaction back to either the
// stored checkpoint (resume mode) or the configured epoch (first run).
func (b *Backfiller) BackfillPool(ctx context.Context, poolID int64) error {
	pool, err := b.store.GetPoolByID(ctx, poolID)
	if err != nil {
		return err
	}

	checkpoint := pool.LastProcessedLT
	resume := checkpoint > 0
	epoch := b.epoch.Unix()
	if resume {
		log.Printf("[Backfill] Pool %s: resuming above lt %d", pool.Address, checkpoint)
	} else {
		log.Printf("[Backfill] Pool %s: first run since %s", pool.Address, b.epoch.Format("2006-01-02"))
	}

	var beforeLT uint64
	pages := 0
	inserted := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		page, err := b.fetchPage(ctx, pool.Address, beforeLT)
		if err != nil {
			return err
		}
		pages++
		b.pagesFetched.Add(1)

		if len(page) == 0 {
			break // empty page: nothing to do, checkpoint unchanged
		}

		// Pages arrive newest-first; enforce the order before the stop
		// conditions look at the page boundary.
		sort.Slice(page, func(i, j int) bool { return page[i].LT > page[j].LT })
		minLT := page[len(page)-1].LT
		minUtime := page[len(page)-1].UTime
		b.currentLT.Store(minLT)

		stop := len(page) < tonapi.PageLimit ||
			(resume && minLT <= checkpoint) ||
			(!resume && minUtime <= epoch)

		keep := make([]models.Transaction, 0, len(page))
		var maxKeptLT uint64
		for _, tx := range page {
			if resume && tx.LT <= checkpoint {
				continue
			}
			if !resume && tx.UTime < epoch {
				continue
			}
			keep = append(keep, models.Transaction{
				TxHash:    tx.Hash,
				LT:        tx.LT,
				Timestamp: tx.UTime,
				PoolID:    poolID,
			})
			if tx.LT > maxKeptLT {
				maxKeptLT = tx.LT
			}
		}

		if len(keep) > 0 {
			n, err := b.store.InsertCandidatesWithCheckpoint(ctx, poolID, keep, maxKeptLT)
			if err != nil {
				return err
			}
			inserted += n
			b.totalInserted.Add(int64(n))
		}

		if stop {
			break
		}
		beforeLT = minLT
	}

	log.Printf("[Backfill] Pool %s: done, %d pages, %d candidates inserted",
		pool.Address, pages, inserted)
	return nil
}

// fetchPage fetches one page under the concurrency limit, retrying transient
// upstream failures with exponential backoff. A page that keeps failing
// aborts the pool crawl, not the whole run.
func (b *Backfiller) fetchPage(ctx context.Context, account string, beforeLT uint64) ([]models.AccountTx, error) {
	backoff := b.retryBackoff
	var lastErr error

	for attempt := 0; attempt < maxPageRetries; attempt++ {
		if err := b.ctrl.Acquire(ctx); err != nil {
			return nil, err
		}
		page, err := b.client.ListPoolTransactions(ctx, account, beforeLT)
		b.ctrl.Release()
		if err == nil {
			return page, nil
		}
		lastErr = err
		log.Printf("[Backfill] Page fetch failed (before_lt=%d, attempt %d): %v",
			beforeLT, attempt+1, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}
