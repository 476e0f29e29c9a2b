package stellar

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon/operations"

	"github.com/recon-engine/recon-engine/internal/domain/chain"
)

const sourcePageLimit = 200

// Source lists recent native payments received by the treasury account,
// newest first, in the same normalized form the EVM indexer produces.
type Source struct {
	horizon *horizonclient.Client
	chainID uint64
	logger  zerolog.Logger
}

func NewSource(horizonURL string, chainID uint64, logger zerolog.Logger) *Source {
	return &Source{
		horizon: &horizonclient.Client{HorizonURL: horizonURL},
		chainID: chainID,
		logger:  logger.With().Str("client", "stellar_source").Logger(),
	}
}

// FetchRecentTransactions pages the account's payment operations backwards
// until it crosses the window start. Joining transactions pulls the memo in
// the same request.
func (s *Source) FetchRecentTransactions(ctx context.Context, address string, since, until time.Time) ([]chain.Transaction, error) {
	req := horizonclient.OperationRequest{
		ForAccount: address,
		Order:      horizonclient.OrderDesc,
		Limit:      sourcePageLimit,
		Join:       "transactions",
	}

	page, err := s.horizon.Payments(req)
	if err != nil {
		return nil, err
	}

	var txs []chain.Transaction
	for {
		if len(page.Embedded.Records) == 0 {
			break
		}

		crossedWindow := false
		for _, rec := range page.Embedded.Records {
			payment, ok := rec.(operations.Payment)
			if !ok {
				continue
			}
			if payment.GetBase().LedgerCloseTime.Before(since) {
				crossedWindow = true
				break
			}
			if payment.GetBase().LedgerCloseTime.After(until) {
				continue
			}
			if payment.Asset.Type != "native" || payment.To != address {
				continue
			}

			value, err := parseAmount(payment.Amount)
			if err != nil {
				s.logger.Warn().Err(err).Str("tx_hash", payment.TransactionHash).Msg("skipping payment with malformed amount")
				continue
			}

			memo := ""
			if payment.Transaction != nil {
				memo = payment.Transaction.Memo
			}

			txs = append(txs, chain.Transaction{
				Hash:      payment.TransactionHash,
				ChainID:   s.chainID,
				From:      payment.From,
				To:        payment.To,
				Payload:   decodeMemo(memo),
				Value:     value,
				Confirmed: payment.TransactionSuccessful,
				Timestamp: payment.GetBase().LedgerCloseTime,
			})
		}
		if crossedWindow {
			break
		}

		page, err = s.horizon.NextOperationsPage(page)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info().Int("count", len(txs)).Msg("fetched stellar payments")
	return txs, nil
}
