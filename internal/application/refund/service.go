// Package refund re-validates payments against the chain and issues refund
// transfers from the hot wallet, guarded by a persisted per-identifier mutex
// and a terminal-state re-check.
package refund

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/recon-engine/recon-engine/internal/domain/chain"
	"github.com/recon-engine/recon-engine/internal/domain/ledger"
	"github.com/recon-engine/recon-engine/internal/domain/order"
	domainRefund "github.com/recon-engine/recon-engine/internal/domain/refund"
	"github.com/recon-engine/recon-engine/internal/domain/session"
	"github.com/recon-engine/recon-engine/internal/pkg/retry"
)

const (
	// Fresh transactions are often not yet visible to an RPC node; lookups
	// are retried a bounded number of times.
	lookupAttempts = 5
	lookupDelay    = 5 * time.Second

	bpsDenominator = 10000
)

// PriceSource converts USD amounts to token base units for minimum-amount
// validation.
type PriceSource interface {
	USDToToken(ctx context.Context, symbol string, usd decimal.Decimal, tokenDecimals int32) (decimal.Decimal, error)
}

// ChainPolicy carries the per-chain validation policy.
type ChainPolicy struct {
	Treasury         string
	MinConfirmations uint64
	PriceSymbol      string
	TokenDecimals    int32
}

// Service is the refund subsystem.
type Service struct {
	registry       *chain.Registry
	sessions       session.Repository
	orders         order.Repository
	mutexes        domainRefund.MutexRepository
	ledger         ledger.Repository
	prices         PriceSource
	policies       map[uint64]ChainPolicy
	confirmTimeout time.Duration
	logger         zerolog.Logger
}

func NewService(
	registry *chain.Registry,
	sessions session.Repository,
	orders order.Repository,
	mutexes domainRefund.MutexRepository,
	ledgerRepo ledger.Repository,
	prices PriceSource,
	policies map[uint64]ChainPolicy,
	confirmTimeout time.Duration,
	logger zerolog.Logger,
) *Service {
	return &Service{
		registry:       registry,
		sessions:       sessions,
		orders:         orders,
		mutexes:        mutexes,
		ledger:         ledgerRepo,
		prices:         prices,
		policies:       policies,
		confirmTimeout: confirmTimeout,
		logger:         logger.With().Str("service", "refund").Logger(),
	}
}

// RefundUnusedTransaction refunds a payment that cannot be consumed: a stale
// retry for an already-funded session, or an operator-submitted orphan. As
// soon as the transfer is submitted it creates a synthetic REFUNDED session
// bound to the hash so the transaction can never be used again, then waits
// for confirmation and marks it processed.
// minAmountUSD > 0 additionally enforces a price-converted minimum value.
func (s *Service) RefundUnusedTransaction(ctx context.Context, product, partition string, ratioBps int64, tx *chain.Transaction, minAmountUSD float64) (*domainRefund.Result, error) {
	// A session already bound to this hash means the payment was consumed or
	// refunded before; a crashed earlier attempt lands here too.
	existing, err := s.sessions.GetByTxHash(ctx, tx.Hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.ledger.MarkProcessed(ctx, partition, tx.Hash); err != nil {
			return nil, err
		}
		return &domainRefund.Result{AlreadyRefunded: true, RefundTxHash: existing.RefundTxHash}, nil
	}

	onChain, policy, err := s.revalidate(ctx, tx.ChainID, tx.Hash)
	if err != nil {
		return nil, err
	}
	if minAmountUSD > 0 {
		if err := s.checkMinimumAmount(ctx, onChain, policy, minAmountUSD); err != nil {
			return nil, err
		}
	}

	mutexKey := "tx:" + strings.ToLower(tx.Hash)
	if err := s.mutexes.Acquire(ctx, mutexKey); err != nil {
		return nil, err
	}
	defer s.release(ctx, mutexKey)

	refundTxHash, amount, err := s.sendRefund(ctx, onChain, ratioBps)
	if err != nil {
		return nil, err
	}

	synthetic := &session.Session{
		ID:           uuid.New(),
		Product:      product,
		SigDigest:    "n/a",
		IDVProvider:  "n/a",
		Status:       session.StatusRefunded,
		ChainID:      tx.ChainID,
		TxHash:       tx.Hash,
		RefundTxHash: refundTxHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.sessions.Create(ctx, synthetic); err != nil {
		return nil, fmt.Errorf("refund sent (%s) but failed to record synthetic session: %w", refundTxHash, err)
	}

	if err := s.waitConfirmed(ctx, tx.ChainID, refundTxHash); err != nil {
		return nil, err
	}

	if err := s.ledger.MarkProcessed(ctx, partition, tx.Hash); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tx_hash", tx.Hash).
		Str("refund_tx_hash", refundTxHash).
		Uint64("chain_id", tx.ChainID).
		Str("amount", amount.String()).
		Msg("refunded unused transaction")
	return &domainRefund.Result{RefundTxHash: refundTxHash, Amount: amount}, nil
}

// RefundFailedSession refunds the payment bound to a VERIFICATION_FAILED
// session back to its sender and moves the session to terminal REFUNDED.
func (s *Service) RefundFailedSession(ctx context.Context, partition string, ratioBps int64, sess *session.Session) (*domainRefund.Result, error) {
	// Terminal-state re-check: a crash after the transfer but before the
	// ledger update must not cause a second transfer.
	if sess.Status == session.StatusRefunded || sess.RefundTxHash != "" {
		if err := s.ledger.MarkProcessed(ctx, partition, sess.TxHash); err != nil {
			return nil, err
		}
		return &domainRefund.Result{AlreadyRefunded: true, RefundTxHash: sess.RefundTxHash}, nil
	}
	if sess.Status != session.StatusVerificationFailed && sess.Status != session.StatusInProgress {
		return nil, fmt.Errorf("session %s is not refundable in status %s", sess.ID, sess.Status)
	}

	onChain, _, err := s.revalidate(ctx, sess.ChainID, sess.TxHash)
	if err != nil {
		return nil, err
	}

	if err := s.mutexes.Acquire(ctx, sess.ID.String()); err != nil {
		return nil, err
	}
	defer s.release(ctx, sess.ID.String())

	refundTxHash, amount, err := s.sendRefund(ctx, onChain, ratioBps)
	if err != nil {
		return nil, err
	}

	if err := sess.MarkRefunded(refundTxHash); err != nil {
		return nil, err
	}
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("refund sent (%s) but failed to save session %s: %w", refundTxHash, sess.ID, err)
	}

	if err := s.waitConfirmed(ctx, sess.ChainID, refundTxHash); err != nil {
		return nil, err
	}

	if err := s.ledger.MarkProcessed(ctx, partition, sess.TxHash); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("refund_tx_hash", refundTxHash).
		Str("amount", amount.String()).
		Msg("refunded failed session")
	return &domainRefund.Result{RefundTxHash: refundTxHash, Amount: amount}, nil
}

// RefundOrder refunds an unfulfilled order's payment and marks the order
// refunded.
func (s *Service) RefundOrder(ctx context.Context, partition string, ratioBps int64, o *order.Order) (*domainRefund.Result, error) {
	if o.Refunded || o.RefundTxHash != "" {
		if err := s.ledger.MarkProcessed(ctx, partition, o.TxHash); err != nil {
			return nil, err
		}
		return &domainRefund.Result{AlreadyRefunded: true, RefundTxHash: o.RefundTxHash}, nil
	}
	if o.Fulfilled {
		return nil, order.ErrAlreadyFulfilled
	}

	onChain, _, err := s.revalidate(ctx, o.ChainID, o.TxHash)
	if err != nil {
		return nil, err
	}

	if err := s.mutexes.Acquire(ctx, o.ExternalOrderID); err != nil {
		return nil, err
	}
	defer s.release(ctx, o.ExternalOrderID)

	refundTxHash, amount, err := s.sendRefund(ctx, onChain, ratioBps)
	if err != nil {
		return nil, err
	}

	if err := o.MarkRefunded(refundTxHash); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("refund sent (%s) but failed to save order %s: %w", refundTxHash, o.ExternalOrderID, err)
	}

	if err := s.waitConfirmed(ctx, o.ChainID, refundTxHash); err != nil {
		return nil, err
	}

	if err := s.ledger.MarkProcessed(ctx, partition, o.TxHash); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("external_order_id", o.ExternalOrderID).
		Str("refund_tx_hash", refundTxHash).
		Str("amount", amount.String()).
		Msg("refunded order")
	return &domainRefund.Result{RefundTxHash: refundTxHash, Amount: amount}, nil
}

// revalidate performs the second validation pass, independent of the matching
// engine: the transaction must exist on chain, pay the treasury, and be
// confirmed.
func (s *Service) revalidate(ctx context.Context, chainID uint64, txHash string) (*chain.Transaction, *ChainPolicy, error) {
	policy, ok := s.policies[chainID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", chain.ErrUnsupportedChain, chainID)
	}

	client, err := s.registry.ClientFor(chainID)
	if err != nil {
		return nil, nil, err
	}

	onChain, err := retry.Do(ctx, lookupAttempts, lookupDelay, func(ctx context.Context) (*chain.Transaction, error) {
		return client.GetTransaction(ctx, txHash)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not find transaction %s on chain %d: %w", txHash, chainID, err)
	}

	if !strings.EqualFold(onChain.To, policy.Treasury) {
		return nil, nil, fmt.Errorf("invalid transaction recipient %s, treasury is %s", onChain.To, policy.Treasury)
	}
	if !onChain.Confirmed {
		return nil, nil, fmt.Errorf("%w: %s", chain.ErrNotConfirmed, txHash)
	}

	return onChain, &policy, nil
}

func (s *Service) checkMinimumAmount(ctx context.Context, tx *chain.Transaction, policy *ChainPolicy, minUSD float64) error {
	if s.prices == nil {
		return nil
	}
	// A 5% margin tolerates price movement between payment and validation.
	expected, err := s.prices.USDToToken(ctx, policy.PriceSymbol, decimal.NewFromFloat(minUSD).Mul(decimal.NewFromFloat(0.95)), policy.TokenDecimals)
	if err != nil {
		return fmt.Errorf("price conversion failed: %w", err)
	}
	if decimal.NewFromBigInt(tx.Value, 0).LessThan(expected.Truncate(0)) {
		return fmt.Errorf("transaction value %s below expected minimum %s", tx.Value, expected.Truncate(0))
	}
	return nil
}

// sendRefund computes the policy fraction, checks the hot wallet balance and
// submits the transfer to the original sender. It does not wait for
// confirmation; the caller records the refund first and then calls
// waitConfirmed.
func (s *Service) sendRefund(ctx context.Context, onChain *chain.Transaction, ratioBps int64) (string, *big.Int, error) {
	client, err := s.registry.ClientFor(onChain.ChainID)
	if err != nil {
		return "", nil, err
	}
	policy := s.policies[onChain.ChainID]

	amount := new(big.Int).Mul(onChain.Value, big.NewInt(ratioBps))
	amount.Div(amount, big.NewInt(bpsDenominator))

	balance, err := client.GetBalance(ctx, client.HotWalletAddress())
	if err != nil {
		return "", nil, fmt.Errorf("failed to check hot wallet balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		s.logger.Error().
			Uint64("chain_id", onChain.ChainID).
			Str("balance", balance.String()).
			Str("needed", amount.String()).
			Msg("hot wallet cannot cover refund, operator action required")
		return "", nil, domainRefund.ErrInsufficientFunds
	}

	refundTxHash, err := client.SendNativeTransfer(ctx, onChain.From, amount)
	if err != nil {
		return "", nil, fmt.Errorf("failed to send refund: %w", err)
	}

	return refundTxHash, amount, nil
}

// waitConfirmed blocks until the refund transfer reaches the chain's
// confirmation policy, bounded by the configured timeout. Callers persist the
// refund record before calling this: a timed-out wait leaves the record in
// place, and the terminal-state re-check turns any retry into a no-op instead
// of a second transfer.
func (s *Service) waitConfirmed(ctx context.Context, chainID uint64, refundTxHash string) error {
	client, err := s.registry.ClientFor(chainID)
	if err != nil {
		return err
	}
	policy := s.policies[chainID]

	confirmCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	if err := client.WaitForConfirmation(confirmCtx, refundTxHash, policy.MinConfirmations); err != nil {
		return fmt.Errorf("refund %s submitted but not confirmed: %w", refundTxHash, err)
	}
	return nil
}

func (s *Service) release(ctx context.Context, key string) {
	if err := s.mutexes.Release(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to release refund mutex")
	}
}
