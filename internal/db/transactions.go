package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tonscope/lambo-indexer/pkg/models"
)

// Promotion carries everything needed to turn a candidate row into a
// classified swap.
type Promotion struct {
	TxID          int64
	UserAddress   string
	EventID       string // empty when the upstream event carried none
	OperationType string
	TonAmount     float64
	LamboAmount   float64
	TonUSDPrice   float64
	Timestamp     int64 // event timestamp, overwrites the candidate's
}

// PromoteResult reports what the atomic promotion did.
type PromoteResult struct {
	Applied     bool    // false when the row was already processed or gone
	WalletFound bool    // false when the address is unknown (update dropped)
	TotalUSD    float64 // wallet's fiat total after the update
}

// InsertCandidate persists one candidate transaction. Returns false when a
// row with the same tx_hash already exists (idempotent intent succeeded).
func (s *PostgresStore) InsertCandidate(ctx context.Context, tx models.Transaction) (bool, error) {
	sql := `
		INSERT INTO transactions (tx_hash, lt, timestamp, pool_id, is_processed)
		VALUES ($1, $2::numeric, $3, $4, FALSE)
		ON CONFLICT (tx_hash) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, sql, tx.TxHash, strconv.FormatUint(tx.LT, 10), tx.Timestamp, tx.PoolID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// InsertCandidatesWithCheckpoint persists one backfill page and raises the
// pool checkpoint to maxLT in the same transaction, so an interrupted run
// resumes from a watermark at least as high as its last committed page.
func (s *PostgresStore) InsertCandidatesWithCheckpoint(ctx context.Context, poolID int64, txs []models.Transaction, maxLT uint64) (int, error) {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = dbtx.Rollback(ctx) }()

	insertSQL := `
		INSERT INTO transactions (tx_hash, lt, timestamp, pool_id, is_processed)
		VALUES ($1, $2::numeric, $3, $4, FALSE)
		ON CONFLICT (tx_hash) DO NOTHING
	`
	inserted := 0
	for _, tx := range txs {
		tag, err := dbtx.Exec(ctx, insertSQL,
			tx.TxHash, strconv.FormatUint(tx.LT, 10), tx.Timestamp, poolID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert candidate %s: %v", tx.TxHash, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if maxLT > 0 {
		checkpointSQL := `
			UPDATE pools
			SET last_processed_lt = $2::numeric,
				last_sync_timestamp = $3,
				updated_at = NOW()
			WHERE id = $1
				AND (last_processed_lt IS NULL OR last_processed_lt < $2::numeric)
		`
		if _, err := dbtx.Exec(ctx, checkpointSQL,
			poolID, strconv.FormatUint(maxLT, 10), time.Now().Unix()); err != nil {
			return 0, fmt.Errorf("failed to advance checkpoint: %v", err)
		}
	}

	if err := dbtx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

// SaveStreamCandidate persists one live-tail event and advances the pool
// checkpoint in the same transaction. Returns false when the tx_hash was
// already known.
func (s *PostgresStore) SaveStreamCandidate(ctx context.Context, poolID int64, txHash string, lt uint64, timestamp int64) (bool, error) {
	candidates := []models.Transaction{{TxHash: txHash, LT: lt, Timestamp: timestamp}}
	inserted, err := s.InsertCandidatesWithCheckpoint(ctx, poolID, candidates, lt)
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}

// FetchUnprocessed returns up to limit candidates in timestamp-ascending
// order, the order in which the classifier must consume them.
func (s *PostgresStore) FetchUnprocessed(ctx context.Context, limit int) ([]models.Transaction, error) {
	sql := `
		SELECT id, tx_hash, lt::text, timestamp, pool_id
		FROM transactions
		WHERE is_processed = FALSE
		ORDER BY timestamp ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]models.Transaction, 0, limit)
	for rows.Next() {
		var tx models.Transaction
		var ltText string
		if err := rows.Scan(&tx.ID, &tx.TxHash, &ltText, &tx.Timestamp, &tx.PoolID); err != nil {
			return nil, err
		}
		lt, err := strconv.ParseUint(ltText, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("candidate %s has malformed lt %q: %v", tx.TxHash, ltText, err)
		}
		tx.LT = lt
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// DeleteCandidate discards a candidate that turned out not to be a tracked
// swap (or is a duplicate).
func (s *PostgresStore) DeleteCandidate(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1 AND is_processed = FALSE`, id)
	return err
}

// HasClassifiedEvent reports whether a classified row already exists for the
// upstream event_id.
func (s *PostgresStore) HasClassifiedEvent(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE event_id = $1 AND is_processed = TRUE
		)`, eventID).Scan(&exists)
	return exists, err
}

// HasClassifiedContent reports whether a classified row already exists for
// the (user, amounts, timestamp) content tuple.
func (s *PostgresStore) HasClassifiedContent(ctx context.Context, userAddress string, tonAmount, lamboAmount float64, timestamp int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE user_address = $1 AND ton_amount = $2 AND lambo_amount = $3
				AND timestamp = $4 AND is_processed = TRUE
		)`, userAddress, tonAmount, lamboAmount, timestamp).Scan(&exists)
	return exists, err
}

// PromoteSwap fills in a candidate's swap fields, marks it processed and
// applies the wallet volume increments — all in one transaction, so a crash
// between the two can never double-count. An unknown wallet is reported, not
// an error: the late-join reconciler recovers those totals later.
func (s *PostgresStore) PromoteSwap(ctx context.Context, p Promotion) (PromoteResult, error) {
	var result PromoteResult

	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, err
	}
	defer func() { _ = dbtx.Rollback(ctx) }()

	promoteSQL := `
		UPDATE transactions
		SET user_address = $2,
			event_id = NULLIF($3, ''),
			operation_type = $4,
			ton_amount = $5,
			lambo_amount = $6,
			ton_usd_price = $7,
			timestamp = $8,
			is_processed = TRUE
		WHERE id = $1 AND is_processed = FALSE
	`
	tag, err := dbtx.Exec(ctx, promoteSQL, p.TxID, p.UserAddress, p.EventID,
		p.OperationType, p.TonAmount, p.LamboAmount, p.TonUSDPrice, p.Timestamp)
	if err != nil {
		return result, err
	}
	if tag.RowsAffected() == 0 {
		// Already classified by a concurrent run; the idempotent intent holds.
		return result, dbtx.Commit(ctx)
	}
	result.Applied = true

	usdAmount := p.TonAmount * p.TonUSDPrice
	total, found, err := applyWalletVolumes(ctx, dbtx, models.VolumeUpdate{
		Address:       p.UserAddress,
		OperationType: p.OperationType,
		TonAmount:     p.TonAmount,
		LamboAmount:   p.LamboAmount,
		USDAmount:     usdAmount,
	})
	if err != nil {
		return PromoteResult{}, err
	}
	result.WalletFound = found
	result.TotalUSD = total

	if err := dbtx.Commit(ctx); err != nil {
		return PromoteResult{}, err
	}
	return result, nil
}

// SumClassifiedVolumes recomputes a wallet's totals from its classified rows.
// Used by the late-join reconciler.
func (s *PostgresStore) SumClassifiedVolumes(ctx context.Context, address string) (models.VolumeTotals, error) {
	var totals models.VolumeTotals
	sql := `
		SELECT operation_type,
			COUNT(*),
			COALESCE(SUM(lambo_amount), 0),
			COALESCE(SUM(ton_amount), 0),
			COALESCE(SUM(ton_amount * ton_usd_price), 0)
		FROM transactions
		WHERE user_address = $1 AND is_processed = TRUE
		GROUP BY operation_type
	`
	rows, err := s.pool.Query(ctx, sql, address)
	if err != nil {
		return totals, err
	}
	defer rows.Close()

	for rows.Next() {
		var op string
		var count int
		var lambo, ton, usd float64
		if err := rows.Scan(&op, &count, &lambo, &ton, &usd); err != nil {
			return totals, err
		}
		switch op {
		case models.OperationBuy:
			totals.CountBuys = count
			totals.BuyLambo = lambo
			totals.BuyTon = ton
			totals.BuyUSD = usd
		case models.OperationSell:
			totals.CountSells = count
			totals.SellLambo = lambo
			totals.SellTon = ton
			totals.SellUSD = usd
		default:
			return totals, fmt.Errorf("classified row with unknown operation_type %q for %s", op, address)
		}
	}
	return totals, rows.Err()
}

// IsNoRows reports whether err is the pgx not-found sentinel.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
