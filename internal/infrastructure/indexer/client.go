// Package indexer fetches treasury-bound transactions from a third-party
// indexing provider, normalizing its per-chain listings into the engine's
// transaction record format.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/recon-engine/recon-engine/internal/domain/chain"
)

// ErrUnavailable marks a per-chain provider failure. It is non-fatal to a
// run: the failed chain contributes an empty list.
var ErrUnavailable = fmt.Errorf("indexer unavailable")

// ChainParam maps an internal chain id to the provider's chain code.
type ChainParam struct {
	ChainID uint64
	Param   string
}

// Client pages the provider's cursor-based listing endpoint per chain.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	chains     []ChainParam
	logger     zerolog.Logger
}

func New(baseURL, apiKey string, chains []ChainParam, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		chains:     chains,
		logger:     logger.With().Str("client", "indexer").Logger(),
	}
}

type listResponse struct {
	Result []txRecord `json:"result"`
	Cursor string     `json:"cursor"`
}

type txRecord struct {
	Hash           string `json:"hash"`
	FromAddress    string `json:"from_address"`
	ToAddress      string `json:"to_address"`
	Input          string `json:"input"`
	Value          string `json:"value"`
	BlockTimestamp string `json:"block_timestamp"`
	ReceiptStatus  string `json:"receipt_status"`
}

// FetchRecentTransactions returns all transactions sent to address within the
// window, across every mapped chain. Chains are fetched concurrently, one
// outstanding request per chain; a chain whose provider call fails is logged
// and contributes nothing rather than aborting the run.
func (c *Client) FetchRecentTransactions(ctx context.Context, address string, since, until time.Time) ([]chain.Transaction, error) {
	var (
		mu  sync.Mutex
		all []chain.Transaction
		wg  sync.WaitGroup
	)

	for _, cp := range c.chains {
		if cp.Param == "" {
			c.logger.Warn().Uint64("chain_id", cp.ChainID).Msg("chain has no indexer mapping, skipping")
			continue
		}

		wg.Add(1)
		go func(cp ChainParam) {
			defer wg.Done()
			txs, err := c.fetchChain(ctx, cp, address, since, until)
			if err != nil {
				c.logger.Error().Err(err).Uint64("chain_id", cp.ChainID).Msg("failed to fetch chain transactions")
				return
			}
			mu.Lock()
			all = append(all, txs...)
			mu.Unlock()
			c.logger.Info().Uint64("chain_id", cp.ChainID).Int("count", len(txs)).Msg("fetched chain transactions")
		}(cp)
	}

	wg.Wait()
	return all, nil
}

func (c *Client) fetchChain(ctx context.Context, cp ChainParam, address string, since, until time.Time) ([]chain.Transaction, error) {
	var txs []chain.Transaction
	cursor := ""

	for {
		page, err := c.fetchPage(ctx, cp.Param, address, since, until, cursor)
		if err != nil {
			return nil, err
		}
		if len(page.Result) == 0 {
			break
		}

		for _, rec := range page.Result {
			tx, err := normalize(rec, cp.ChainID)
			if err != nil {
				c.logger.Warn().Err(err).Str("tx_hash", rec.Hash).Msg("skipping malformed indexer record")
				continue
			}
			txs = append(txs, tx)
		}

		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	return txs, nil
}

func (c *Client) fetchPage(ctx context.Context, chainParam, address string, since, until time.Time, cursor string) (*listResponse, error) {
	q := url.Values{}
	q.Set("chain", chainParam)
	q.Set("order", "DESC")
	q.Set("from_date", since.UTC().Format(time.RFC3339))
	q.Set("to_date", until.UTC().Format(time.RFC3339))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(address), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	return &page, nil
}

func normalize(rec txRecord, chainID uint64) (chain.Transaction, error) {
	value, ok := new(big.Int).SetString(rec.Value, 10)
	if !ok {
		return chain.Transaction{}, fmt.Errorf("invalid value %q", rec.Value)
	}

	ts, err := time.Parse(time.RFC3339, rec.BlockTimestamp)
	if err != nil {
		// Some providers return a bare datetime without zone.
		ts, _ = time.Parse("2006-01-02 15:04:05", rec.BlockTimestamp)
	}

	return chain.Transaction{
		Hash:      strings.ToLower(rec.Hash),
		ChainID:   chainID,
		From:      strings.ToLower(rec.FromAddress),
		To:        strings.ToLower(rec.ToAddress),
		Payload:   strings.ToLower(rec.Input),
		Value:     value,
		// A missing receipt_status means the receipt is not available yet;
		// only an explicit success counts as confirmed.
		Confirmed: rec.ReceiptStatus == "1",
		Timestamp: ts,
	}, nil
}
