package chain

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	ErrUnsupportedChain = errors.New("unsupported chain id")
	ErrTxNotFound       = errors.New("transaction not found")
	ErrNotConfirmed     = errors.New("transaction not confirmed")
)

// Transaction is the normalized view of an on-chain payment. It is produced
// by the indexer or a chain client and consumed once; it is never persisted.
type Transaction struct {
	Hash      string
	ChainID   uint64
	From      string
	To        string
	Payload   string // tx input on EVM chains, decoded memo on Stellar
	Value     *big.Int
	Confirmed bool
	Timestamp time.Time
}

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_client.go -package=mocks . Client

// Client exposes the four operations the engine needs from any supported
// ledger, EVM or not.
type Client interface {
	// GetTransaction returns ErrTxNotFound when the node does not know the hash.
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	// SendNativeTransfer signs and submits a native-asset transfer from the
	// hot wallet and returns the submitted transaction hash.
	SendNativeTransfer(ctx context.Context, to string, amount *big.Int) (string, error)
	// WaitForConfirmation returns ErrNotConfirmed if the transaction does not
	// reach minConfirmations before ctx is done.
	WaitForConfirmation(ctx context.Context, hash string, minConfirmations uint64) error
	// HotWalletAddress returns the refund wallet address, or "" when the
	// client was constructed without a key.
	HotWalletAddress() string
}

// FeeOverride scales the estimated fee components on networks where the
// default gas estimator is known to underprice transactions.
type FeeOverride struct {
	FeeCapMultiplier int64 `yaml:"feeCapMultiplier"`
	TipCapMultiplier int64 `yaml:"tipCapMultiplier"`
}
