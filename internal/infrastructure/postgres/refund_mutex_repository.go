package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recon-engine/recon-engine/internal/domain/refund"
)

// RefundMutexRepository implements refund.MutexRepository. The primary key on
// the mutex key makes Acquire an atomic create-if-absent.
type RefundMutexRepository struct {
	pool *pgxpool.Pool
}

func NewRefundMutexRepository(pool *pgxpool.Pool) *RefundMutexRepository {
	return &RefundMutexRepository{pool: pool}
}

func (r *RefundMutexRepository) Acquire(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refund_mutexes (key, created_at) VALUES ($1, $2)
	`, key, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return refund.ErrRefundInProgress
		}
		return err
	}
	return nil
}

func (r *RefundMutexRepository) Release(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM refund_mutexes WHERE key=$1`, key)
	return err
}
