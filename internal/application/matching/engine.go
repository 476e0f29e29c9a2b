// Package matching classifies treasury-bound transactions against the
// working set of recently created sessions and orders using the commitment
// digest embedded in the transaction payload.
package matching

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/recon-engine/recon-engine/internal/domain/chain"
	"github.com/recon-engine/recon-engine/internal/domain/order"
	"github.com/recon-engine/recon-engine/internal/domain/session"
	"github.com/recon-engine/recon-engine/internal/pkg/commitment"
)

// Classification is the outcome of testing one transaction against one
// session or order.
type Classification int

const (
	// NoMatch: not this session's payment, or nothing actionable. The
	// transaction is NOT marked processed on no-match: it may belong to a
	// different partition or to a session created after this run started.
	NoMatch Classification = iota
	// NewPayment advances the session/order via the state transition
	// authority.
	NewPayment
	// StaleRetry is a second payment for an already-funded session; the
	// current transaction (not the recorded one) is routed to refund.
	StaleRetry
)

// Engine holds the treasury address per chain.
type Engine struct {
	treasuries map[uint64]string
	logger     zerolog.Logger
}

func NewEngine(treasuries map[uint64]string, logger zerolog.Logger) *Engine {
	lowered := make(map[uint64]string, len(treasuries))
	for id, addr := range treasuries {
		lowered[id] = strings.ToLower(addr)
	}
	return &Engine{
		treasuries: lowered,
		logger:     logger.With().Str("service", "matching").Logger(),
	}
}

// ClassifySession tests a transaction against one session. A transaction
// matches iff it pays the treasury and its payload equals the keccak digest
// of the session identifier.
func (e *Engine) ClassifySession(tx *chain.Transaction, s *session.Session) Classification {
	if !e.paysTreasury(tx) {
		return NoMatch
	}
	if !commitment.Equal(tx.Payload, commitment.SessionDigest(s.ID)) {
		return NoMatch
	}

	// A session already bound to a different transaction means this one is a
	// user retry; refund the current transaction, never the recorded one.
	if s.TxHash != "" && !strings.EqualFold(s.TxHash, tx.Hash) {
		return StaleRetry
	}

	if s.Status == session.StatusNeedsPayment {
		return NewPayment
	}

	// Same transaction, already IN_PROGRESS but still unprocessed in the
	// ledger: a previous run advanced the session and then failed during
	// provisioning. Route back through the transition authority so
	// provisioning is retried.
	if s.Status == session.StatusInProgress && strings.EqualFold(s.TxHash, tx.Hash) {
		return NewPayment
	}

	return NoMatch
}

// ClassifyOrder tests a transaction against an order. The order's commitment
// is caller-supplied: the payload must equal keccak(externalOrderId).
func (e *Engine) ClassifyOrder(tx *chain.Transaction, o *order.Order) Classification {
	if !e.paysTreasury(tx) {
		return NoMatch
	}
	digest, err := commitment.OrderDigest(o.ExternalOrderID)
	if err != nil {
		e.logger.Warn().Err(err).Str("external_order_id", o.ExternalOrderID).Msg("order has malformed commitment")
		return NoMatch
	}
	if !commitment.Equal(tx.Payload, digest) {
		return NoMatch
	}

	if o.TxHash != "" && !strings.EqualFold(o.TxHash, tx.Hash) {
		return StaleRetry
	}

	if o.Refunded || o.Fulfilled {
		return NoMatch
	}

	if o.TxHash == "" || strings.EqualFold(o.TxHash, tx.Hash) {
		return NewPayment
	}

	return NoMatch
}

func (e *Engine) paysTreasury(tx *chain.Transaction) bool {
	treasury, ok := e.treasuries[tx.ChainID]
	if !ok {
		return false
	}
	return strings.EqualFold(tx.To, treasury)
}
