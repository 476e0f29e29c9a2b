package refund

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	// ErrRefundInProgress is returned when another run holds the mutex for the
	// same session or order. Callers must not retry within the same run.
	ErrRefundInProgress = errors.New("refund already in progress")
	// ErrInsufficientFunds means the hot wallet cannot cover the refund.
	// Requires operator intervention; never retried automatically.
	ErrInsufficientFunds = errors.New("hot wallet has insufficient funds for refund")
)

// Mutex is the transient record guarding refund issuance for one session or
// order. At most one exists per key at any time; it is created atomically
// before the refund transaction is sent and deleted once the attempt ends.
type Mutex struct {
	Key       string
	CreatedAt time.Time
}

// Result describes the outcome of a refund attempt.
type Result struct {
	RefundTxHash string
	Amount       *big.Int
	// AlreadyRefunded is set when the target was found in a terminal refunded
	// state and no transfer was sent.
	AlreadyRefunded bool
}

// MutexRepository persists refund mutexes. Acquire must be atomic
// (create-if-absent): it returns ErrRefundInProgress when the key is held.
type MutexRepository interface {
	Acquire(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}
