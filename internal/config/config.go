package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds service configuration. Secrets come from the environment;
// the chain table and product policies come from a YAML file (see chains.go).
type Config struct {
	DatabaseURL string
	ServerAddr  string

	// AdminAPIKey gates the admin HTTP surface.
	AdminAPIKey string

	// IndexerAPIKey authenticates against the transaction indexer provider.
	IndexerAPIKey  string
	IndexerBaseURL string

	// PricesAPIKey authenticates against the market price provider used for
	// USD amount validation.
	PricesAPIKey  string
	PricesBaseURL string

	// ProvisioningAPIKey authenticates against the product servers' IDV
	// provisioning endpoints.
	ProvisioningAPIKey string

	// HotWalletKey is the hex-encoded secp256k1 key used to sign EVM refunds.
	HotWalletKey string
	// StellarSeed is the hot wallet seed for the Stellar rail.
	StellarSeed string

	// TreasuryAddress receives user payments on EVM chains.
	TreasuryAddress string
	// StellarTreasuryAddress receives user payments on Stellar.
	StellarTreasuryAddress string

	// ScanWindow bounds how far back sessions and transactions are considered.
	// Multi-day by policy, to tolerate indexer lag and scan re-runs.
	ScanWindow time.Duration

	// ChainsFile locates the YAML chain/product table.
	ChainsFile string
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "recon")
		pass := getenv("POSTGRES_PASSWORD", "recon_pass")
		db := getenv("POSTGRES_DB", "recon")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	cfg := &Config{
		DatabaseURL:            dsn,
		ServerAddr:             getenv("SERVER_ADDR", "0.0.0.0:8080"),
		AdminAPIKey:            os.Getenv("ADMIN_API_KEY"),
		IndexerAPIKey:          os.Getenv("INDEXER_API_KEY"),
		IndexerBaseURL:         getenv("INDEXER_BASE_URL", "https://deep-index.moralis.io/api/v2.2"),
		PricesAPIKey:           os.Getenv("PRICES_API_KEY"),
		PricesBaseURL:          getenv("PRICES_BASE_URL", "https://pro-api.coinmarketcap.com"),
		ProvisioningAPIKey:     os.Getenv("PROVISIONING_API_KEY"),
		HotWalletKey:           os.Getenv("PAYMENTS_PRIVATE_KEY"),
		StellarSeed:            os.Getenv("STELLAR_PAYMENTS_SEED"),
		TreasuryAddress:        os.Getenv("TREASURY_ADDRESS"),
		StellarTreasuryAddress: os.Getenv("STELLAR_TREASURY_ADDRESS"),
		ScanWindow:             parseDuration(getenv("SCAN_WINDOW", "240h"), 240*time.Hour),
		ChainsFile:             getenv("CHAINS_FILE", "chains.yaml"),
	}

	if cfg.IndexerAPIKey == "" {
		return nil, fmt.Errorf("INDEXER_API_KEY is not set")
	}
	if cfg.TreasuryAddress == "" {
		return nil, fmt.Errorf("TREASURY_ADDRESS is not set")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}
