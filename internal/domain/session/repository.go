package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for verification sessions.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByTxHash(ctx context.Context, txHash string) (*Session, error)
	// ListCreatedSince returns the product's sessions created at or after the
	// given time, oldest first. This bounds the matching working set.
	ListCreatedSince(ctx context.Context, product string, since time.Time) ([]*Session, error)
	Update(ctx context.Context, s *Session) error
}
