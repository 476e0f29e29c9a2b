// Package prices converts USD amounts into native token amounts using a
// market data provider. Used for minimum-amount validation of payments.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Client fetches spot quotes, caching briefly so one reconciliation run does
// not hammer the provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cacheTTL   time.Duration
	logger     zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

func New(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		cacheTTL:   5 * time.Minute,
		logger:     logger.With().Str("client", "prices").Logger(),
		cache:      make(map[string]cachedQuote),
	}
}

type quoteResponse struct {
	Data map[string][]struct {
		Quote map[string]struct {
			Price float64 `json:"price"`
		} `json:"quote"`
	} `json:"data"`
}

// USDPrice returns the USD spot price for a token symbol (ETH, AVAX, XLM...).
func (c *Client) USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.Lock()
	if q, ok := c.cache[symbol]; ok && time.Since(q.fetchedAt) < c.cacheTTL {
		c.mu.Unlock()
		return q.price, nil
	}
	c.mu.Unlock()

	endpoint := fmt.Sprintf("%s/v2/cryptocurrency/quotes/latest?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price lookup for %s failed: status %d", symbol, resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, err
	}

	entries := body.Data[symbol]
	if len(entries) == 0 {
		return decimal.Zero, fmt.Errorf("no quote for symbol %s", symbol)
	}
	usd, ok := entries[0].Quote["USD"]
	if !ok || usd.Price <= 0 {
		return decimal.Zero, fmt.Errorf("no USD quote for symbol %s", symbol)
	}

	price := decimal.NewFromFloat(usd.Price)
	c.mu.Lock()
	c.cache[symbol] = cachedQuote{price: price, fetchedAt: time.Now()}
	c.mu.Unlock()
	return price, nil
}

// USDToToken converts a USD amount to the token's smallest unit (wei for
// 18-decimal EVM assets, stroops for XLM).
func (c *Client) USDToToken(ctx context.Context, symbol string, usd decimal.Decimal, tokenDecimals int32) (decimal.Decimal, error) {
	price, err := c.USDPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if price.IsZero() {
		return decimal.Zero, fmt.Errorf("zero price for symbol %s", symbol)
	}
	return usd.Div(price).Shift(tokenDecimals), nil
}
