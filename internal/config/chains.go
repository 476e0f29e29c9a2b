package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/recon-engine/recon-engine/internal/domain/chain"
)

// ChainConfig describes one supported EVM network.
type ChainConfig struct {
	ChainID uint64 `yaml:"chainId"`
	Name    string `yaml:"name"`
	RPCURL  string `yaml:"rpcUrl"`
	// IndexerParam is the provider-specific chain code ("0x1", "0xa", ...).
	// Chains without one are skipped by the indexer with a warning.
	IndexerParam string `yaml:"indexerParam,omitempty"`
	// PriceSymbol names the native token for USD conversion (ETH, AVAX, FTM).
	PriceSymbol      string             `yaml:"priceSymbol"`
	MinConfirmations uint64             `yaml:"minConfirmations"`
	FeeOverride      *chain.FeeOverride `yaml:"feeOverride,omitempty"`
}

// StellarConfig describes the non-EVM rail.
type StellarConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HorizonURL string `yaml:"horizonUrl"`
	// ChainID is the internal identifier assigned to the Stellar rail so it
	// can share the chain registry with EVM networks.
	ChainID uint64 `yaml:"chainId"`
	// NetworkPassphrase selects pubnet or testnet for transaction signing.
	NetworkPassphrase string `yaml:"networkPassphrase"`
	PriceSymbol       string `yaml:"priceSymbol"`
}

// ProductConfig fixes the reconciliation policy for one product line.
type ProductConfig struct {
	Name      string `yaml:"name"`
	Partition string `yaml:"partition"`
	// Kind selects the matching path: "session", "phone" or "order".
	Kind string `yaml:"kind"`
	// RefundRatioBps is the refund policy in basis points of the payment
	// (5000 = 50%). Fixed per product; there is no universal ratio.
	RefundRatioBps int64 `yaml:"refundRatioBps"`
	// PriceUSD is the product price used for minimum-amount validation.
	PriceUSD float64 `yaml:"priceUsd"`
	// ProvisioningURL is the base URL of the product's IDV provisioning API.
	ProvisioningURL string `yaml:"provisioningUrl"`
}

// Chains is the chain/product table loaded from YAML at startup and injected
// where needed; there are no global provider singletons.
type Chains struct {
	Chains   []ChainConfig   `yaml:"chains"`
	Stellar  StellarConfig   `yaml:"stellar"`
	Products []ProductConfig `yaml:"products"`
	// ConfirmationTimeoutSeconds bounds WaitForConfirmation polling.
	ConfirmationTimeoutSeconds int `yaml:"confirmationTimeoutSeconds"`
}

// ConfirmationTimeout returns the confirmation polling bound.
func (c *Chains) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutSeconds) * time.Second
}

// LoadChains parses the YAML chain table.
func LoadChains(path string) (*Chains, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chains file: %w", err)
	}
	var c Chains
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse chains file: %w", err)
	}
	if len(c.Chains) == 0 {
		return nil, fmt.Errorf("chains file %s configures no chains", path)
	}
	if c.ConfirmationTimeoutSeconds == 0 {
		c.ConfirmationTimeoutSeconds = 120
	}
	for i, cc := range c.Chains {
		if cc.ChainID == 0 {
			return nil, fmt.Errorf("chains[%d]: chainId is required", i)
		}
		if cc.RPCURL == "" {
			return nil, fmt.Errorf("chain %d: rpcUrl is required", cc.ChainID)
		}
		if cc.MinConfirmations == 0 {
			c.Chains[i].MinConfirmations = 1
		}
	}
	for i, p := range c.Products {
		if p.Name == "" || p.Partition == "" {
			return nil, fmt.Errorf("products[%d]: name and partition are required", i)
		}
		switch p.Kind {
		case "session", "phone", "order":
		default:
			return nil, fmt.Errorf("product %s: unknown kind %q", p.Name, p.Kind)
		}
		if p.RefundRatioBps <= 0 || p.RefundRatioBps > 10000 {
			return nil, fmt.Errorf("product %s: refundRatioBps must be in (0, 10000]", p.Name)
		}
	}
	return &c, nil
}

// Product returns the product config by name.
func (c *Chains) Product(name string) (*ProductConfig, bool) {
	for i := range c.Products {
		if c.Products[i].Name == name {
			return &c.Products[i], true
		}
	}
	return nil, false
}

// Chain returns the EVM chain config by id.
func (c *Chains) Chain(chainID uint64) (*ChainConfig, bool) {
	for i := range c.Chains {
		if c.Chains[i].ChainID == chainID {
			return &c.Chains[i], true
		}
	}
	return nil, false
}
