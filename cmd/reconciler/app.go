package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	httpapi "github.com/recon-engine/recon-engine/internal/api/http"
	appMatching "github.com/recon-engine/recon-engine/internal/application/matching"
	appRefund "github.com/recon-engine/recon-engine/internal/application/refund"
	appScanner "github.com/recon-engine/recon-engine/internal/application/scanner"
	appTransition "github.com/recon-engine/recon-engine/internal/application/transition"
	"github.com/recon-engine/recon-engine/internal/config"
	"github.com/recon-engine/recon-engine/internal/domain/chain"
	"github.com/recon-engine/recon-engine/internal/domain/order"
	"github.com/recon-engine/recon-engine/internal/domain/session"
	"github.com/recon-engine/recon-engine/internal/infrastructure/evm"
	"github.com/recon-engine/recon-engine/internal/infrastructure/indexer"
	"github.com/recon-engine/recon-engine/internal/infrastructure/postgres"
	"github.com/recon-engine/recon-engine/internal/infrastructure/prices"
	"github.com/recon-engine/recon-engine/internal/infrastructure/provisioning"
	"github.com/recon-engine/recon-engine/internal/infrastructure/stellar"
)

const evmTokenDecimals = 18
const stellarTokenDecimals = 7

// app bundles the wired services shared by the scan and serve commands.
type app struct {
	cfg      *config.Config
	chains   *config.Chains
	pool     *pgxpool.Pool
	registry *chain.Registry
	sessions session.Repository
	orders   order.Repository
	scanner  *appScanner.Service
	refunds  *appRefund.Service
	logger   zerolog.Logger
}

func (a *app) Close() {
	a.pool.Close()
}

func newApp(ctx context.Context) (*app, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	chainsCfg, err := config.LoadChains(cfg.ChainsFile)
	if err != nil {
		return nil, fmt.Errorf("chains config error: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	// repositories
	sessionRepo := postgres.NewSessionRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)
	mutexRepo := postgres.NewRefundMutexRepository(pool)

	// chain clients
	registry := chain.NewRegistry()
	treasuries := make(map[uint64]string)
	policies := make(map[uint64]appRefund.ChainPolicy)
	var chainParams []indexer.ChainParam

	for _, cc := range chainsCfg.Chains {
		client, err := evm.New(cc.RPCURL, cc.ChainID, cfg.HotWalletKey, cc.FeeOverride, logger)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("chain %d client error: %w", cc.ChainID, err)
		}
		registry.Register(cc.ChainID, client)
		treasuries[cc.ChainID] = cfg.TreasuryAddress
		policies[cc.ChainID] = appRefund.ChainPolicy{
			Treasury:         cfg.TreasuryAddress,
			MinConfirmations: cc.MinConfirmations,
			PriceSymbol:      cc.PriceSymbol,
			TokenDecimals:    evmTokenDecimals,
		}
		chainParams = append(chainParams, indexer.ChainParam{ChainID: cc.ChainID, Param: cc.IndexerParam})
	}

	indexerClient := indexer.New(cfg.IndexerBaseURL, cfg.IndexerAPIKey, chainParams, logger)
	sources := []appScanner.SourceBinding{
		{Source: indexerClient, Treasury: cfg.TreasuryAddress},
	}

	if chainsCfg.Stellar.Enabled {
		sc := chainsCfg.Stellar
		stellarClient, err := stellar.New(sc.HorizonURL, sc.ChainID, sc.NetworkPassphrase, cfg.StellarSeed, logger)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("stellar client error: %w", err)
		}
		registry.Register(sc.ChainID, stellarClient)
		treasuries[sc.ChainID] = cfg.StellarTreasuryAddress
		policies[sc.ChainID] = appRefund.ChainPolicy{
			Treasury:         cfg.StellarTreasuryAddress,
			MinConfirmations: 1,
			PriceSymbol:      sc.PriceSymbol,
			TokenDecimals:    stellarTokenDecimals,
		}
		sources = append(sources, appScanner.SourceBinding{
			Source:   stellar.NewSource(sc.HorizonURL, sc.ChainID, logger),
			Treasury: cfg.StellarTreasuryAddress,
		})
	}

	pricesClient := prices.New(cfg.PricesBaseURL, cfg.PricesAPIKey, logger)

	// services
	matcher := appMatching.NewEngine(treasuries, logger)
	transitionSvc := appTransition.NewService(sessionRepo, orderRepo, ledgerRepo, logger)
	refundSvc := appRefund.NewService(
		registry, sessionRepo, orderRepo, mutexRepo, ledgerRepo,
		pricesClient, policies, chainsCfg.ConfirmationTimeout(), logger)

	provisioners := make(map[string]appTransition.Provisioner)
	for _, p := range chainsCfg.Products {
		if p.ProvisioningURL != "" {
			provisioners[p.Name] = provisioning.New(p.ProvisioningURL, cfg.ProvisioningAPIKey, logger)
		}
	}

	scannerSvc := appScanner.NewService(
		sources, sessionRepo, orderRepo, ledgerRepo,
		matcher, transitionSvc, refundSvc,
		provisioners, chainsCfg.Products, cfg.ScanWindow, logger)

	return &app{
		cfg:      cfg,
		chains:   chainsCfg,
		pool:     pool,
		registry: registry,
		sessions: sessionRepo,
		orders:   orderRepo,
		scanner:  scannerSvc,
		refunds:  refundSvc,
		logger:   logger,
	}, nil
}

func newAdminServer(a *app) *httpapi.Server {
	return httpapi.NewServer(a.scanner, a.refunds, a.sessions, a.orders, a.registry, a.chains, a.cfg.AdminAPIKey, a.logger)
}
