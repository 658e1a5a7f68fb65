// Package volume applies classified-swap deltas to wallet running totals and
// mirrors the fiat total into the ordered leaderboard index.
package volume

import (
	"context"
	"log"

	"github.com/tonscope/lambo-indexer/internal/db"
	"github.com/tonscope/lambo-indexer/internal/leaderboard"
	"github.com/tonscope/lambo-indexer/pkg/models"
)

// Store is the wallet persistence surface.
type Store interface {
	AddWalletVolumes(ctx context.Context, u models.VolumeUpdate) (float64, bool, error)
	ListLeaderboardWallets(ctx context.Context) ([]db.LeaderboardRow, error)
}

// Index is the ordered leaderboard the aggregator mirrors into.
type Index interface {
	Upsert(ctx context.Context, address string, totalUSD float64) error
	Rebuild(ctx context.Context, rows []leaderboard.Entry) error
}

// Aggregator owns the wallet-volume write path outside the classifier's
// atomic promotion, used by webhook intake and manual corrections.
type Aggregator struct {
	store Store
	index Index
}

func New(store Store, index Index) *Aggregator {
	return &Aggregator{store: store, index: index}
}

// Apply increments one wallet's totals by a swap delta. Updates for addresses
// without a wallet row are dropped silently: the late-join reconciler settles
// those when the wallet appears.
func (a *Aggregator) Apply(ctx context.Context, u models.VolumeUpdate) error {
	total, found, err := a.store.AddWalletVolumes(ctx, u)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if err := a.index.Upsert(ctx, u.Address, total); err != nil {
		// The database already holds the truth; the index catches up on the
		// next scheduled rebuild.
		log.Printf("[Volume] Leaderboard update failed for %s: %v", u.Address, err)
	}
	return nil
}

// SyncIndex rewrites the ordered index from the wallet table.
func (a *Aggregator) SyncIndex(ctx context.Context) error {
	rows, err := a.store.ListLeaderboardWallets(ctx)
	if err != nil {
		return err
	}
	entries := make([]leaderboard.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, leaderboard.Entry{Address: row.Address, TotalUSD: row.TotalUSD})
	}
	if err := a.index.Rebuild(ctx, entries); err != nil {
		return err
	}
	log.Printf("[Volume] Leaderboard index rebuilt with %d wallets", len(entries))
	return nil
}
