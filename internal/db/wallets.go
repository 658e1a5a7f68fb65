package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tonscope/lambo-indexer/pkg/models"
)

var (
	// ErrWalletTaken means the address is already linked to another user.
	ErrWalletTaken = errors.New("wallet already linked to another user")
	// ErrNoWallet means the user has no active linked wallet.
	ErrNoWallet = errors.New("no wallet linked")
)

// LeaderboardRow is the (address, fiat total) pair the index rebuild writes.
type LeaderboardRow struct {
	Address  string
	TotalUSD float64
}

const walletColumns = `id, user_id, address, COALESCE(label, ''),
	count_buys, count_sells,
	buy_volume_lambo, sell_volume_lambo, total_volume_lambo,
	buy_volume_ton, sell_volume_ton, total_volume_ton,
	buy_volume_usd, sell_volume_usd, total_volume_usd,
	sync_status, initial_sync_completed, created_at, is_active`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Address, &w.Label,
		&w.CountBuys, &w.CountSells,
		&w.BuyVolumeLambo, &w.SellVolumeLambo, &w.TotalVolumeLambo,
		&w.BuyVolumeTon, &w.SellVolumeTon, &w.TotalVolumeTon,
		&w.BuyVolumeUSD, &w.SellVolumeUSD, &w.TotalVolumeUSD,
		&w.SyncStatus, &w.InitialSyncCompleted, &w.CreatedAt, &w.IsActive); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletByAddress fetches one wallet. Returns pgx.ErrNoRows when absent.
func (s *PostgresStore) GetWalletByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	sql := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1`
	return scanWallet(s.pool.QueryRow(ctx, sql, address))
}

// rowQuerier is satisfied by both the pool and an open transaction, so the
// volume update can run standalone or inside the promotion transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// applyWalletVolumes increments the three buy_* or sell_* totals and keeps
// total_* = buy_* + sell_* identically. Returns the new fiat total and
// whether the wallet row existed.
func applyWalletVolumes(ctx context.Context, q rowQuerier, u models.VolumeUpdate) (float64, bool, error) {
	var sql string
	switch u.OperationType {
	case models.OperationBuy:
		sql = `
			UPDATE wallets SET
				count_buys = count_buys + 1,
				buy_volume_lambo = buy_volume_lambo + $2,
				buy_volume_ton = buy_volume_ton + $3,
				buy_volume_usd = buy_volume_usd + $4,
				total_volume_lambo = total_volume_lambo + $2,
				total_volume_ton = total_volume_ton + $3,
				total_volume_usd = total_volume_usd + $4
			WHERE address = $1
			RETURNING total_volume_usd
		`
	case models.OperationSell:
		sql = `
			UPDATE wallets SET
				count_sells = count_sells + 1,
				sell_volume_lambo = sell_volume_lambo + $2,
				sell_volume_ton = sell_volume_ton + $3,
				sell_volume_usd = sell_volume_usd + $4,
				total_volume_lambo = total_volume_lambo + $2,
				total_volume_ton = total_volume_ton + $3,
				total_volume_usd = total_volume_usd + $4
			WHERE address = $1
			RETURNING total_volume_usd
		`
	default:
		return 0, false, fmt.Errorf("unknown operation type %q", u.OperationType)
	}

	var total float64
	err := q.QueryRow(ctx, sql, u.Address, u.LamboAmount, u.TonAmount, u.USDAmount).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil // unknown address: update silently dropped
	}
	if err != nil {
		return 0, false, err
	}
	return total, true, nil
}

// AddWalletVolumes applies one aggregator delta outside a promotion
// transaction. Returns the new fiat total and whether the wallet exists.
func (s *PostgresStore) AddWalletVolumes(ctx context.Context, u models.VolumeUpdate) (float64, bool, error) {
	return applyWalletVolumes(ctx, s.pool, u)
}

// FetchWalletsForSync lists active, identity-linked wallets still waiting for
// their initial reconciliation.
func (s *PostgresStore) FetchWalletsForSync(ctx context.Context, limit int) ([]models.Wallet, error) {
	sql := `SELECT ` + walletColumns + ` FROM wallets
		WHERE sync_status = 'pending' AND is_active = TRUE AND user_id IS NOT NULL
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wallets := make([]models.Wallet, 0)
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

// ClaimWalletSyncing transitions pending → syncing. Returns false when the
// wallet was not pending (another worker claimed it, or it is already synced).
func (s *PostgresStore) ClaimWalletSyncing(ctx context.Context, walletID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wallets SET sync_status = 'syncing' WHERE id = $1 AND sync_status = 'pending'`,
		walletID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetWalletTotals overwrites every running total with a recomputed absolute
// value and marks the wallet synced.
func (s *PostgresStore) SetWalletTotals(ctx context.Context, walletID int64, t models.VolumeTotals) error {
	sql := `
		UPDATE wallets SET
			count_buys = $2,
			count_sells = $3,
			buy_volume_lambo = $4,
			sell_volume_lambo = $5,
			total_volume_lambo = $6,
			buy_volume_ton = $7,
			sell_volume_ton = $8,
			total_volume_ton = $9,
			buy_volume_usd = $10,
			sell_volume_usd = $11,
			total_volume_usd = $12,
			sync_status = 'synced',
			initial_sync_completed = TRUE
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, sql, walletID,
		t.CountBuys, t.CountSells,
		t.BuyLambo, t.SellLambo, t.TotalLambo(),
		t.BuyTon, t.SellTon, t.TotalTon(),
		t.BuyUSD, t.SellUSD, t.TotalUSD())
	return err
}

// ListLeaderboardWallets returns every active, identity-linked wallet in
// descending fiat total — the source of truth for index rebuilds.
func (s *PostgresStore) ListLeaderboardWallets(ctx context.Context) ([]LeaderboardRow, error) {
	sql := `
		SELECT address, total_volume_usd FROM wallets
		WHERE is_active = TRUE AND user_id IS NOT NULL
		ORDER BY total_volume_usd DESC
	`
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]LeaderboardRow, 0)
	for rows.Next() {
		var e LeaderboardRow
		if err := rows.Scan(&e.Address, &e.TotalUSD); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetRankings reads the store-side ranking by fiat volume (database truth,
// independent of the ordered index).
func (s *PostgresStore) GetRankings(ctx context.Context, limit int) ([]models.Wallet, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sql := `SELECT ` + walletColumns + ` FROM wallets
		WHERE is_active = TRUE AND user_id IS NOT NULL
		ORDER BY total_volume_usd DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wallets := make([]models.Wallet, 0, limit)
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

// EnsureUser upserts a user by telegram id and returns the internal id.
func (s *PostgresStore) EnsureUser(ctx context.Context, telegramID int64, username string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (telegram_id, username)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (telegram_id) DO UPDATE SET username = COALESCE(NULLIF($2, ''), users.username)
		RETURNING id`, telegramID, username).Scan(&id)
	return id, err
}

// GetUserWallet returns the user's active wallet, or ErrNoWallet.
func (s *PostgresStore) GetUserWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	sql := `SELECT ` + walletColumns + ` FROM wallets
		WHERE user_id = $1 AND is_active = TRUE
		LIMIT 1`
	w, err := scanWallet(s.pool.QueryRow(ctx, sql, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoWallet
	}
	return w, err
}

// LinkWallet attaches an address to a user, creating the wallet row when
// needed. A previously linked wallet of the same user is unlinked and
// deactivated; an address owned by a different user is rejected.
func (s *PostgresStore) LinkWallet(ctx context.Context, userID int64, address, label string) (*models.Wallet, error) {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = dbtx.Rollback(ctx) }()

	var existingOwner *int64
	var existingID int64
	err = dbtx.QueryRow(ctx,
		`SELECT id, user_id FROM wallets WHERE address = $1`, address).
		Scan(&existingID, &existingOwner)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to insert
	case err != nil:
		return nil, err
	case existingOwner != nil && *existingOwner != userID:
		return nil, ErrWalletTaken
	}

	// Unlink the user's previous wallet if it is a different address.
	if _, err := dbtx.Exec(ctx, `
		UPDATE wallets SET user_id = NULL, is_active = FALSE
		WHERE user_id = $1 AND address <> $2`, userID, address); err != nil {
		return nil, err
	}

	row := dbtx.QueryRow(ctx, `
		INSERT INTO wallets (user_id, address, label)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (address) DO UPDATE SET
			user_id = $1,
			is_active = TRUE
		RETURNING `+walletColumns, userID, address, label)
	w, err := scanWallet(row)
	if err != nil {
		return nil, err
	}

	if err := dbtx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// DisconnectWallet unlinks and deactivates the user's wallet, returning its
// address so the caller can drop it from the ordered index.
func (s *PostgresStore) DisconnectWallet(ctx context.Context, userID int64) (string, error) {
	var address string
	err := s.pool.QueryRow(ctx, `
		UPDATE wallets SET user_id = NULL, is_active = FALSE
		WHERE user_id = $1 AND is_active = TRUE
		RETURNING address`, userID).Scan(&address)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoWallet
	}
	return address, err
}
