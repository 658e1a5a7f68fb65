// Package reconciler settles wallets that linked after their swaps were
// classified: it recomputes the wallet's totals from the classified rows and
// seeds the ordered index with the result.
package reconciler

import (
	"context"
	"log"

	"github.com/tonscope/lambo-indexer/pkg/models"
)

// Store is the wallet persistence surface the reconciler drives.
type Store interface {
	FetchWalletsForSync(ctx context.Context, limit int) ([]models.Wallet, error)
	ClaimWalletSyncing(ctx context.Context, walletID int64) (bool, error)
	SumClassifiedVolumes(ctx context.Context, address string) (models.VolumeTotals, error)
	SetWalletTotals(ctx context.Context, walletID int64, t models.VolumeTotals) error
}

// Index is the ordered leaderboard seeded with the recomputed total.
type Index interface {
	Upsert(ctx context.Context, address string, totalUSD float64) error
}

// Reconciler sweeps pending wallets in small batches.
type Reconciler struct {
	store Store
	index Index
	batch int
}

func New(store Store, index Index, batch int) *Reconciler {
	return &Reconciler{store: store, index: index, batch: batch}
}

// Sweep reconciles one batch of pending wallets and returns how many it
// settled. A wallet claimed by a concurrent sweep is skipped, not an error.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	wallets, err := r.store.FetchWalletsForSync(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, w := range wallets {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if err := r.reconcile(ctx, w); err != nil {
			log.Printf("[Reconciler] Wallet %s failed: %v", w.Address, err)
			continue
		}
		settled++
	}
	return settled, nil
}

// reconcile recomputes one wallet's totals from the classified rows. The
// absolute set makes re-reconciling a no-op in effect: the same rows always
// sum to the same totals.
func (r *Reconciler) reconcile(ctx context.Context, w models.Wallet) error {
	claimed, err := r.store.ClaimWalletSyncing(ctx, w.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	totals, err := r.store.SumClassifiedVolumes(ctx, w.Address)
	if err != nil {
		return err
	}
	if err := r.store.SetWalletTotals(ctx, w.ID, totals); err != nil {
		return err
	}

	if err := r.index.Upsert(ctx, w.Address, totals.TotalUSD()); err != nil {
		log.Printf("[Reconciler] Leaderboard seed failed for %s: %v", w.Address, err)
	}

	log.Printf("[Reconciler] Wallet %s synced: %d buys, %d sells, %.2f USD",
		w.Address, totals.CountBuys, totals.CountSells, totals.TotalUSD())
	return nil
}
