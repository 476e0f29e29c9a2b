package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository implements ledger.Repository over an append-only table of
// (partition, tx_hash) rows. Rows are never updated or deleted.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func (r *LedgerRepository) IsProcessed(ctx context.Context, partition, txHash string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM processed_txs WHERE partition=$1 AND lower(tx_hash)=lower($2)
		)
	`, partition, txHash).Scan(&exists)
	return exists, err
}

func (r *LedgerRepository) MarkProcessed(ctx context.Context, partition, txHash string) error {
	// ON CONFLICT DO NOTHING makes repeated marking a no-op.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO processed_txs (partition, tx_hash) VALUES ($1, lower($2))
		ON CONFLICT (partition, tx_hash) DO NOTHING
	`, partition, txHash)
	return err
}
