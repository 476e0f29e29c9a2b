package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recon-engine/recon-engine/internal/domain/order"
)

// OrderRepository implements order.Repository.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders
		(external_order_id, user_id, category, chain_id, tx_hash, fulfilled, refunded, refund_tx_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, o.ExternalOrderID, o.UserID, o.Category, o.ChainID, o.TxHash, o.Fulfilled, o.Refunded, o.RefundTxHash, o.CreatedAt)
	return err
}

func (r *OrderRepository) GetByExternalID(ctx context.Context, externalOrderID string) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT external_order_id, user_id, category, chain_id, tx_hash, fulfilled, refunded, refund_tx_hash, created_at
		FROM orders WHERE external_order_id=$1
	`, externalOrderID)
	return scanOrder(row)
}

func (r *OrderRepository) GetByTxHash(ctx context.Context, txHash string) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT external_order_id, user_id, category, chain_id, tx_hash, fulfilled, refunded, refund_tx_hash, created_at
		FROM orders WHERE lower(tx_hash)=lower($1)
	`, txHash)
	return scanOrder(row)
}

func (r *OrderRepository) ListCreatedSince(ctx context.Context, since time.Time) ([]*order.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT external_order_id, user_id, category, chain_id, tx_hash, fulfilled, refunded, refund_tx_hash, created_at
		FROM orders WHERE created_at >= $1 ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET chain_id=$1, tx_hash=$2, fulfilled=$3, refunded=$4, refund_tx_hash=$5
		WHERE external_order_id=$6
	`, o.ChainID, o.TxHash, o.Fulfilled, o.Refunded, o.RefundTxHash, o.ExternalOrderID)
	return err
}

func (r *OrderRepository) SetFulfilled(ctx context.Context, externalOrderID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders SET fulfilled=TRUE WHERE external_order_id=$1
	`, externalOrderID)
	return err
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	if err := row.Scan(&o.ExternalOrderID, &o.UserID, &o.Category, &o.ChainID, &o.TxHash, &o.Fulfilled, &o.Refunded, &o.RefundTxHash, &o.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}
