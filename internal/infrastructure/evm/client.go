// Package evm implements the chain client contract over an EVM JSON-RPC
// endpoint, including hot-wallet signing for refund transfers.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/recon-engine/recon-engine/internal/domain/chain"
)

const transferGasLimit = 21000

// Client talks to one EVM network.
type Client struct {
	ec           *ethclient.Client
	chainID      *big.Int
	key          *ecdsa.PrivateKey
	from         common.Address
	feeOverride  *chain.FeeOverride
	pollInterval time.Duration
	logger       zerolog.Logger
}

// New dials the RPC endpoint. hotWalletKey may be empty for read-only use;
// SendNativeTransfer then fails.
func New(rpcURL string, chainID uint64, hotWalletKey string, feeOverride *chain.FeeOverride, logger zerolog.Logger) (*Client, error) {
	ec, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}

	c := &Client{
		ec:           ec,
		chainID:      new(big.Int).SetUint64(chainID),
		feeOverride:  feeOverride,
		pollInterval: 4 * time.Second,
		logger:       logger.With().Str("client", "evm").Uint64("chain_id", chainID).Logger(),
	}

	if hotWalletKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hotWalletKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid hot wallet key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

func (c *Client) GetTransaction(ctx context.Context, hash string) (*chain.Transaction, error) {
	tx, isPending, err := c.ec.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, chain.ErrTxNotFound
		}
		return nil, err
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}

	to := ""
	if tx.To() != nil {
		to = strings.ToLower(tx.To().Hex())
	}

	return &chain.Transaction{
		Hash:      strings.ToLower(tx.Hash().Hex()),
		ChainID:   c.chainID.Uint64(),
		From:      strings.ToLower(from.Hex()),
		To:        to,
		Payload:   hexutil.Encode(tx.Data()),
		Value:     tx.Value(),
		Confirmed: !isPending,
	}, nil
}

func (c *Client) HotWalletAddress() string {
	if c.key == nil {
		return ""
	}
	return strings.ToLower(c.from.Hex())
}

func (c *Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	return c.ec.BalanceAt(ctx, common.HexToAddress(address), nil)
}

// SendNativeTransfer signs and submits an EIP-1559 transfer from the hot
// wallet. Fee overrides are applied on networks where the estimator is known
// to underprice (historically Fantom).
func (c *Client) SendNativeTransfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("chain %s: no hot wallet key configured", c.chainID)
	}

	nonce, err := c.ec.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}

	tipCap, err := c.ec.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch tip cap: %w", err)
	}
	head, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch head: %w", err)
	}
	// feeCap = 2*baseFee + tip leaves headroom for base fee growth.
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)

	if c.feeOverride != nil {
		feeCap.Mul(feeCap, big.NewInt(c.feeOverride.FeeCapMultiplier))
		tipCap = new(big.Int).Mul(tipCap, big.NewInt(c.feeOverride.TipCapMultiplier))
		if tipCap.Cmp(feeCap) > 0 {
			tipCap.Set(feeCap)
		}
	}

	toAddr := common.HexToAddress(to)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       transferGasLimit,
		To:        &toAddr,
		Value:     amount,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transfer: %w", err)
	}

	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to submit transfer: %w", err)
	}

	hash := strings.ToLower(signed.Hash().Hex())
	c.logger.Info().Str("tx_hash", hash).Str("to", to).Str("value", amount.String()).Msg("submitted native transfer")
	return hash, nil
}

// WaitForConfirmation polls for the receipt until the transaction has at
// least minConfirmations or ctx is done.
func (c *Client) WaitForConfirmation(ctx context.Context, hash string, minConfirmations uint64) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	txHash := common.HexToHash(hash)
	for {
		receipt, err := c.ec.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil && receipt.BlockNumber != nil {
			current, err := c.ec.BlockNumber(ctx)
			if err == nil && current >= receipt.BlockNumber.Uint64() {
				confirmations := current - receipt.BlockNumber.Uint64() + 1
				if confirmations >= minConfirmations {
					return nil
				}
			}
		} else if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.Warn().Err(err).Str("tx_hash", hash).Msg("receipt lookup failed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", chain.ErrNotConfirmed, hash)
		}
	}
}
