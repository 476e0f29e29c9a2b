// Package stellar implements the chain client contract against a Horizon
// server. The payload maps from the transaction memo and confirmation from
// the ledger's own success flag; Stellar settles in a single operation, so
// there is no confirmation-count concept.
package stellar

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/txnbuild"

	"github.com/recon-engine/recon-engine/internal/domain/chain"
)

// stroopsPerLumen: Horizon reports amounts as 7-decimal XLM strings; the
// engine works in stroops so values stay integral like wei.
const stroopDecimals = 7

// Client talks to one Horizon server.
type Client struct {
	horizon    *horizonclient.Client
	chainID    uint64
	passphrase string
	kp         *keypair.Full
	logger     zerolog.Logger
}

// New builds a Horizon-backed client. seed may be empty for read-only use.
func New(horizonURL string, chainID uint64, networkPassphrase, seed string, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		horizon:    &horizonclient.Client{HorizonURL: horizonURL},
		chainID:    chainID,
		passphrase: networkPassphrase,
		logger:     logger.With().Str("client", "stellar").Logger(),
	}
	if seed != "" {
		kp, err := keypair.ParseFull(seed)
		if err != nil {
			return nil, fmt.Errorf("invalid stellar seed: %w", err)
		}
		c.kp = kp
	}
	return c, nil
}

func (c *Client) GetTransaction(ctx context.Context, hash string) (*chain.Transaction, error) {
	tx, err := c.horizon.TransactionDetail(hash)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, chain.ErrTxNotFound
		}
		return nil, err
	}

	ops, err := c.horizon.Operations(horizonclient.OperationRequest{ForTransaction: hash})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch operations for %s: %w", hash, err)
	}
	if len(ops.Embedded.Records) == 0 {
		return nil, fmt.Errorf("transaction %s has no operation records", hash)
	}

	payment, ok := ops.Embedded.Records[0].(operations.Payment)
	if !ok {
		return nil, fmt.Errorf("transaction %s: first operation is not a payment", hash)
	}

	value, err := parseAmount(payment.Amount)
	if err != nil {
		return nil, err
	}

	return &chain.Transaction{
		Hash:      tx.Hash,
		ChainID:   c.chainID,
		From:      payment.From,
		To:        payment.To,
		Payload:   decodeMemo(tx.Memo),
		Value:     value,
		Confirmed: tx.Successful,
		Timestamp: tx.LedgerCloseTime,
	}, nil
}

func (c *Client) HotWalletAddress() string {
	if c.kp == nil {
		return ""
	}
	return c.kp.Address()
}

func (c *Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	acct, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		return nil, err
	}
	for _, b := range acct.Balances {
		if b.Asset.Type == "native" {
			return parseAmount(b.Balance)
		}
	}
	return big.NewInt(0), nil
}

// SendNativeTransfer submits a single-payment transaction from the hot
// wallet. amount is in stroops.
func (c *Client) SendNativeTransfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	if c.kp == nil {
		return "", fmt.Errorf("stellar: no hot wallet seed configured")
	}

	source, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: c.kp.Address()})
	if err != nil {
		return "", fmt.Errorf("failed to load hot wallet account: %w", err)
	}

	amountStr := decimal.NewFromBigInt(amount, -stroopDecimals).StringFixed(stroopDecimals)
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &source,
		IncrementSequenceNum: true,
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: to,
				Amount:      amountStr,
				Asset:       txnbuild.NativeAsset{},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to build payment: %w", err)
	}

	signed, err := tx.Sign(c.passphrase, c.kp)
	if err != nil {
		return "", fmt.Errorf("failed to sign payment: %w", err)
	}

	resp, err := c.horizon.SubmitTransaction(signed)
	if err != nil {
		return "", fmt.Errorf("failed to submit payment: %w", err)
	}

	c.logger.Info().Str("tx_hash", resp.Hash).Str("to", to).Str("amount", amountStr).Msg("submitted stellar payment")
	return resp.Hash, nil
}

// WaitForConfirmation re-reads the transaction and checks the ledger's
// success flag. minConfirmations is ignored: settlement is single-ledger.
func (c *Client) WaitForConfirmation(ctx context.Context, hash string, minConfirmations uint64) error {
	tx, err := c.horizon.TransactionDetail(hash)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return fmt.Errorf("%w: %s", chain.ErrNotConfirmed, hash)
		}
		return err
	}
	if !tx.Successful {
		return fmt.Errorf("%w: %s marked unsuccessful", chain.ErrNotConfirmed, hash)
	}
	return nil
}

// decodeMemo converts a base64 hash memo into the 0x hex payload form shared
// with EVM transactions.
func decodeMemo(memo string) string {
	if memo == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(memo)
	if err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(raw)
}

func parseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d.Shift(stroopDecimals).BigInt(), nil
}
