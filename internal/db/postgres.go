// Package db is the Postgres persistence layer: pools with their checkpoints,
// the candidate/classified transaction store, and per-wallet volume totals.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tonscope/lambo-indexer/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside the Docker runtime image, which does not carry the .sql source.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for swap indexer")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Swap indexer schema initialized")
	return nil
}

// GetPool exposes the connection pool for subsystems that need raw access.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

const poolColumns = `id, address, COALESCE(name, ''), COALESCE(jetton_master, ''),
	COALESCE(last_processed_lt, 0)::text, COALESCE(last_sync_timestamp, 0), is_active`

func scanPool(row pgx.Row) (*models.Pool, error) {
	var p models.Pool
	var ltText string
	if err := row.Scan(&p.ID, &p.Address, &p.Name, &p.JettonMaster,
		&ltText, &p.LastSyncTimestamp, &p.IsActive); err != nil {
		return nil, err
	}
	lt, err := strconv.ParseUint(ltText, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("pool %d has malformed checkpoint %q: %v", p.ID, ltText, err)
	}
	p.LastProcessedLT = lt
	return &p, nil
}

// EnsurePool creates the pool row if absent and (re)activates it. Called once
// at bootstrap for the configured pool.
func (s *PostgresStore) EnsurePool(ctx context.Context, address, name, jettonMaster string) (*models.Pool, error) {
	sql := `
		INSERT INTO pools (address, name, jetton_master, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (address) DO UPDATE SET
			is_active = TRUE,
			jetton_master = EXCLUDED.jetton_master,
			updated_at = NOW()
		RETURNING ` + poolColumns
	return scanPool(s.pool.QueryRow(ctx, sql, address, name, jettonMaster))
}

// GetPoolByID fetches one pool. Returns pgx.ErrNoRows when absent.
func (s *PostgresStore) GetPoolByID(ctx context.Context, id int64) (*models.Pool, error) {
	sql := `SELECT ` + poolColumns + ` FROM pools WHERE id = $1`
	return scanPool(s.pool.QueryRow(ctx, sql, id))
}

// GetPoolByAddress fetches one pool by its on-chain address.
func (s *PostgresStore) GetPoolByAddress(ctx context.Context, address string) (*models.Pool, error) {
	sql := `SELECT ` + poolColumns + ` FROM pools WHERE address = $1`
	return scanPool(s.pool.QueryRow(ctx, sql, address))
}

// GetActivePools lists every pool the live tail should subscribe to.
func (s *PostgresStore) GetActivePools(ctx context.Context) ([]models.Pool, error) {
	sql := `SELECT ` + poolColumns + ` FROM pools WHERE is_active = TRUE ORDER BY id`
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pools := make([]models.Pool, 0)
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

// AdvanceCheckpoint raises a pool's last_processed_lt watermark. Writes that
// would lower it are silently dropped: the watermark is monotone by invariant.
func (s *PostgresStore) AdvanceCheckpoint(ctx context.Context, poolID int64, lt uint64, syncTimestamp int64) error {
	sql := `
		UPDATE pools
		SET last_processed_lt = $2::numeric,
			last_sync_timestamp = $3,
			updated_at = NOW()
		WHERE id = $1
			AND (last_processed_lt IS NULL OR last_processed_lt < $2::numeric)
	`
	_, err := s.pool.Exec(ctx, sql, poolID, strconv.FormatUint(lt, 10), syncTimestamp)
	return err
}
