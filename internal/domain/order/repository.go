package order

import (
	"context"
	"time"
)

// Repository defines persistence for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByExternalID(ctx context.Context, externalOrderID string) (*Order, error)
	GetByTxHash(ctx context.Context, txHash string) (*Order, error)
	ListCreatedSince(ctx context.Context, since time.Time) ([]*Order, error)
	Update(ctx context.Context, o *Order) error
	SetFulfilled(ctx context.Context, externalOrderID string) error
}
