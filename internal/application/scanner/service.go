// Package scanner drives one reconciliation run: fetch the treasury's recent
// transactions once, then match them against each product line's working set
// and dispatch state transitions and refunds.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/recon-engine/recon-engine/internal/application/matching"
	"github.com/recon-engine/recon-engine/internal/application/refund"
	"github.com/recon-engine/recon-engine/internal/application/transition"
	"github.com/recon-engine/recon-engine/internal/config"
	"github.com/recon-engine/recon-engine/internal/domain/chain"
	"github.com/recon-engine/recon-engine/internal/domain/ledger"
	"github.com/recon-engine/recon-engine/internal/domain/order"
	"github.com/recon-engine/recon-engine/internal/domain/session"
	"github.com/recon-engine/recon-engine/internal/pkg/commitment"
)

// Source lists recent treasury-bound transactions for one set of rails.
type Source interface {
	FetchRecentTransactions(ctx context.Context, address string, since, until time.Time) ([]chain.Transaction, error)
}

// SourceBinding pairs a source with the treasury address it watches.
type SourceBinding struct {
	Source   Source
	Treasury string
}

// ProductReport summarizes one product line's share of a run.
type ProductReport struct {
	Product  string `json:"product"`
	Applied  int    `json:"applied"`
	Refunded int    `json:"refunded"`
	Errors   int    `json:"errors"`
}

// Report summarizes one reconciliation run.
type Report struct {
	Since        time.Time       `json:"since"`
	Until        time.Time       `json:"until"`
	Transactions int             `json:"transactions"`
	Products     []ProductReport `json:"products"`
}

// Service orchestrates reconciliation runs.
type Service struct {
	sources      []SourceBinding
	sessions     session.Repository
	orders       order.Repository
	ledger       ledger.Repository
	matcher      *matching.Engine
	transitions  *transition.Service
	refunds      *refund.Service
	provisioners map[string]transition.Provisioner
	products     []config.ProductConfig
	window       time.Duration
	logger       zerolog.Logger
}

func NewService(
	sources []SourceBinding,
	sessions session.Repository,
	orders order.Repository,
	ledgerRepo ledger.Repository,
	matcher *matching.Engine,
	transitions *transition.Service,
	refunds *refund.Service,
	provisioners map[string]transition.Provisioner,
	products []config.ProductConfig,
	window time.Duration,
	logger zerolog.Logger,
) *Service {
	return &Service{
		sources:      sources,
		sessions:     sessions,
		orders:       orders,
		ledger:       ledgerRepo,
		matcher:      matcher,
		transitions:  transitions,
		refunds:      refunds,
		provisioners: provisioners,
		products:     products,
		window:       window,
		logger:       logger.With().Str("service", "scanner").Logger(),
	}
}

// Run executes one reconciliation pass. productNames selects a subset of
// configured product lines; empty means all. Transactions are fetched once
// and shared across product lines; per-transaction failures are logged and
// counted, never fatal to the run.
func (s *Service) Run(ctx context.Context, productNames []string) (*Report, error) {
	products, err := s.selectProducts(productNames)
	if err != nil {
		return nil, err
	}

	until := time.Now().UTC()
	since := until.Add(-s.window)

	txs := s.fetchAll(ctx, since, until)
	// Sources return newest first; reconciliation applies payments in the
	// order they landed.
	sort.Slice(txs, func(i, j int) bool { return txs[i].Timestamp.Before(txs[j].Timestamp) })

	report := &Report{Since: since, Until: until, Transactions: len(txs)}
	for _, p := range products {
		var pr ProductReport
		if p.Kind == "order" {
			pr = s.runOrders(ctx, p, txs, since)
		} else {
			pr = s.runSessions(ctx, p, txs, since)
		}
		report.Products = append(report.Products, pr)
		s.logger.Info().
			Str("product", p.Name).
			Int("applied", pr.Applied).
			Int("refunded", pr.Refunded).
			Int("errors", pr.Errors).
			Msg("product line reconciled")
	}
	return report, nil
}

func (s *Service) selectProducts(names []string) ([]config.ProductConfig, error) {
	if len(names) == 0 {
		return s.products, nil
	}
	var selected []config.ProductConfig
	for _, name := range names {
		found := false
		for _, p := range s.products {
			if p.Name == name {
				selected = append(selected, p)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown product %q", name)
		}
	}
	return selected, nil
}

func (s *Service) fetchAll(ctx context.Context, since, until time.Time) []chain.Transaction {
	var all []chain.Transaction
	for _, sb := range s.sources {
		txs, err := sb.Source.FetchRecentTransactions(ctx, sb.Treasury, since, until)
		if err != nil {
			// A failed source contributes nothing; its transactions are still
			// within the window on the next run.
			s.logger.Error().Err(err).Str("treasury", sb.Treasury).Msg("transaction source failed")
			continue
		}
		all = append(all, txs...)
	}
	return all
}

func (s *Service) runSessions(ctx context.Context, p config.ProductConfig, txs []chain.Transaction, since time.Time) ProductReport {
	pr := ProductReport{Product: p.Name}

	working, err := s.sessions.ListCreatedSince(ctx, p.Name, since)
	if err != nil {
		s.logger.Error().Err(err).Str("product", p.Name).Msg("failed to load session working set")
		pr.Errors++
		return pr
	}
	byDigest := sessionIndex(working)

	prov := s.provisioners[p.Name]
	for i := range txs {
		tx := &txs[i]
		processed, err := s.ledger.IsProcessed(ctx, p.Partition, tx.Hash)
		if err != nil {
			pr.Errors++
			s.logger.Error().Err(err).Str("tx_hash", tx.Hash).Msg("ledger lookup failed")
			continue
		}
		if processed {
			continue
		}
		// Unconfirmed transactions stay unprocessed and are revisited next run.
		if !tx.Confirmed {
			continue
		}

		cand, ok := byDigest[strings.ToLower(tx.Payload)]
		if !ok {
			continue
		}

		switch s.matcher.ClassifySession(tx, cand) {
		case matching.NewPayment:
			if err := s.transitions.ApplyPayment(ctx, p.Partition, prov, p.Kind == "phone", tx, cand); err != nil {
				pr.Errors++
				s.logger.Error().Err(err).Str("tx_hash", tx.Hash).Str("session_id", cand.ID.String()).Msg("failed to apply payment")
				continue
			}
			pr.Applied++
		case matching.StaleRetry:
			if _, err := s.refunds.RefundUnusedTransaction(ctx, p.Name, p.Partition, p.RefundRatioBps, tx, 0); err != nil {
				pr.Errors++
				s.logger.Error().Err(err).Str("tx_hash", tx.Hash).Str("session_id", cand.ID.String()).Msg("failed to refund stale retry")
				continue
			}
			pr.Refunded++
		}
	}
	return pr
}

func (s *Service) runOrders(ctx context.Context, p config.ProductConfig, txs []chain.Transaction, since time.Time) ProductReport {
	pr := ProductReport{Product: p.Name}

	working, err := s.orders.ListCreatedSince(ctx, since)
	if err != nil {
		s.logger.Error().Err(err).Str("product", p.Name).Msg("failed to load order working set")
		pr.Errors++
		return pr
	}
	byDigest := s.orderIndex(working)

	for i := range txs {
		tx := &txs[i]
		processed, err := s.ledger.IsProcessed(ctx, p.Partition, tx.Hash)
		if err != nil {
			pr.Errors++
			s.logger.Error().Err(err).Str("tx_hash", tx.Hash).Msg("ledger lookup failed")
			continue
		}
		if processed || !tx.Confirmed {
			continue
		}

		cand, ok := byDigest[strings.ToLower(tx.Payload)]
		if !ok {
			continue
		}

		switch s.matcher.ClassifyOrder(tx, cand) {
		case matching.NewPayment:
			if err := s.transitions.ApplyOrderPayment(ctx, p.Partition, tx, cand); err != nil {
				pr.Errors++
				s.logger.Error().Err(err).Str("tx_hash", tx.Hash).Str("external_order_id", cand.ExternalOrderID).Msg("failed to apply order payment")
				continue
			}
			pr.Applied++
		case matching.StaleRetry:
			if _, err := s.refunds.RefundUnusedTransaction(ctx, p.Name, p.Partition, p.RefundRatioBps, tx, 0); err != nil {
				pr.Errors++
				s.logger.Error().Err(err).Str("tx_hash", tx.Hash).Str("external_order_id", cand.ExternalOrderID).Msg("failed to refund stale retry")
				continue
			}
			pr.Refunded++
		}
	}
	return pr
}

func sessionIndex(working []*session.Session) map[string]*session.Session {
	byDigest := make(map[string]*session.Session, len(working))
	for _, sess := range working {
		byDigest[strings.ToLower(commitment.SessionDigest(sess.ID))] = sess
	}
	return byDigest
}

func (s *Service) orderIndex(working []*order.Order) map[string]*order.Order {
	byDigest := make(map[string]*order.Order, len(working))
	for _, o := range working {
		digest, err := commitment.OrderDigest(o.ExternalOrderID)
		if err != nil {
			s.logger.Warn().Err(err).Str("external_order_id", o.ExternalOrderID).Msg("order has malformed commitment")
			continue
		}
		byDigest[strings.ToLower(digest)] = o
	}
	return byDigest
}
