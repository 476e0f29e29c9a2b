// Package transition applies the state machine change implied by a matched
// payment and provisions the downstream IDV session.
package transition

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/recon-engine/recon-engine/internal/domain/chain"
	"github.com/recon-engine/recon-engine/internal/domain/ledger"
	"github.com/recon-engine/recon-engine/internal/domain/order"
	"github.com/recon-engine/recon-engine/internal/domain/session"
)

// ErrProvisioningFailed wraps downstream provisioning errors. The transaction
// is deliberately left unprocessed so the next scan retries it.
var ErrProvisioningFailed = errors.New("idv session provisioning failed")

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_provisioner.go -package=mocks . Provisioner

// Provisioner is the external IDV-session-provisioning collaborator.
type Provisioner interface {
	CreateVerificationSession(ctx context.Context, sessionID, txHash string, chainID uint64) error
	PayForSession(ctx context.Context, sessionID, txHash string, chainID uint64) error
}

// Service is the state transition authority.
type Service struct {
	sessions session.Repository
	orders   order.Repository
	ledger   ledger.Repository
	logger   zerolog.Logger
}

func NewService(sessions session.Repository, orders order.Repository, ledgerRepo ledger.Repository, logger zerolog.Logger) *Service {
	return &Service{
		sessions: sessions,
		orders:   orders,
		ledger:   ledgerRepo,
		logger:   logger.With().Str("service", "transition").Logger(),
	}
}

// ApplyPayment binds the transaction to the session, advances it to
// IN_PROGRESS, provisions the IDV session, and only then marks the
// transaction processed. A provisioning failure leaves the transaction
// unprocessed: the session stays bound and the next run retries provisioning.
// usePayEndpoint selects PayForSession (phone products) over
// CreateVerificationSession.
func (s *Service) ApplyPayment(ctx context.Context, partition string, prov Provisioner, usePayEndpoint bool, tx *chain.Transaction, sess *session.Session) error {
	if sess.Status == session.StatusNeedsPayment {
		if err := sess.MarkInProgress(tx.ChainID, tx.Hash); err != nil {
			return err
		}
		if err := s.sessions.Update(ctx, sess); err != nil {
			return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
		}
		s.logger.Info().
			Str("session_id", sess.ID.String()).
			Str("tx_hash", tx.Hash).
			Uint64("chain_id", tx.ChainID).
			Msg("session advanced to IN_PROGRESS")
	}

	var err error
	if usePayEndpoint {
		err = prov.PayForSession(ctx, sess.ID.String(), tx.Hash, tx.ChainID)
	} else {
		err = prov.CreateVerificationSession(ctx, sess.ID.String(), tx.Hash, tx.ChainID)
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Str("session_status", string(sess.Status)).
			Str("tx_hash", tx.Hash).
			Uint64("chain_id", tx.ChainID).
			Msg("provisioning failed, transaction left unprocessed for retry")
		return fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	if err := s.ledger.MarkProcessed(ctx, partition, tx.Hash); err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", tx.Hash, err)
	}
	return nil
}

// ApplyOrderPayment records the payment on the order. Fulfillment stays
// false: it is triggered later by the verifier through the API-key-gated
// fulfillment endpoint.
func (s *Service) ApplyOrderPayment(ctx context.Context, partition string, tx *chain.Transaction, o *order.Order) error {
	if o.TxHash == "" {
		if err := o.BindPayment(tx.ChainID, tx.Hash); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return fmt.Errorf("failed to save order %s: %w", o.ExternalOrderID, err)
		}
		s.logger.Info().
			Str("external_order_id", o.ExternalOrderID).
			Str("tx_hash", tx.Hash).
			Uint64("chain_id", tx.ChainID).
			Msg("order payment recorded")
	}

	if err := s.ledger.MarkProcessed(ctx, partition, tx.Hash); err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", tx.Hash, err)
	}
	return nil
}
