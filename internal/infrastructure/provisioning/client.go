// Package provisioning calls the per-product IDV session provisioning APIs.
// The idempotency ledger, not these endpoints, prevents re-invocation for the
// same transaction.
package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to one product's admin API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     zerolog.Logger
}

func New(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger.With().Str("client", "provisioning").Str("base_url", baseURL).Logger(),
	}
}

type paymentBody struct {
	TxHash  string `json:"txHash"`
	ChainID uint64 `json:"chainId"`
}

// CreateVerificationSession provisions the downstream IDV session for a paid
// verification session.
func (c *Client) CreateVerificationSession(ctx context.Context, sessionID, txHash string, chainID uint64) error {
	path := fmt.Sprintf("%s/sessions/%s/idv-session", c.baseURL, sessionID)
	return c.post(ctx, path, paymentBody{TxHash: txHash, ChainID: chainID})
}

// PayForSession records payment against a phone verification session.
func (c *Client) PayForSession(ctx context.Context, sessionID, txHash string, chainID uint64) error {
	path := fmt.Sprintf("%s/sessions/%s/payment", c.baseURL, sessionID)
	return c.post(ctx, path, paymentBody{TxHash: txHash, ChainID: chainID})
}

func (c *Client) post(ctx context.Context, endpoint string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provisioning call %s failed: status %d", endpoint, resp.StatusCode)
	}
	return nil
}
