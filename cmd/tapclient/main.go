package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/tethra-tap/internal/api"
	"github.com/kjannette/tethra-tap/internal/config"
	"github.com/kjannette/tethra-tap/internal/db"
	"github.com/kjannette/tethra-tap/internal/ethereum"
	"github.com/kjannette/tethra-tap/internal/external"
	"github.com/kjannette/tethra-tap/internal/grid"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/kjannette/tethra-tap/internal/notifications"
	"github.com/kjannette/tethra-tap/internal/onetap"
	"github.com/kjannette/tethra-tap/internal/pricefeed"
	"github.com/kjannette/tethra-tap/internal/repository"
	"github.com/kjannette/tethra-tap/internal/risk"
	"github.com/kjannette/tethra-tap/internal/session"
	"github.com/kjannette/tethra-tap/internal/signing"
	"github.com/kjannette/tethra-tap/internal/tap"
	"github.com/sirupsen/logrus"
)

const banner = `
╔══════════════════════════════════════╗
║       Tethra Tap Client v0.1         ║
║                                      ║
╚══════════════════════════════════════╝
`

const journalTimeout = 5 * time.Second

// traderWallet signs session authorizations and orders and sends approvals.
type traderWallet interface {
	session.Authorizer
	SendTx(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// noChain stands in for the meta-nonce reader when no RPC endpoint is set.
type noChain struct{}

func (noChain) MetaNonce(context.Context, common.Address) (*big.Int, error) {
	return nil, errors.New("ETHEREUM_API_ENDPOINT not configured, meta nonce unavailable")
}

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	warnings, err := cfg.Validate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cfg.Print(os.Stdout)

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogFile,
	})
	mainLog := log.WithComponent("main")
	for _, w := range warnings {
		mainLog.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trader := common.HexToAddress(cfg.WalletAddress)
	tapContract := common.HexToAddress(cfg.TapToTradeAddress)

	// Session keys
	store, err := session.OpenSQLite(cfg.SessionDBPath)
	if err != nil {
		mainLog.WithError(err).Fatal("Session store unavailable")
	}
	defer store.Close()
	sessions := session.NewManager(store, log)
	if restored, err := sessions.Restore(strings.ToLower(trader.Hex())); err != nil {
		mainLog.WithError(err).Warn("Could not restore session key")
	} else if restored {
		mainLog.Info("Session key restored from store")
	}

	// Chain
	var chain *ethereum.Client
	if cfg.EthereumAPIEndpoint != "" {
		chain, err = ethereum.NewClient(cfg.EthereumAPIEndpoint, int64(cfg.ChainID))
		if err != nil {
			mainLog.WithError(err).Fatal("Ethereum client unavailable")
		}
		defer chain.Close()
	}

	wallet, err := openWallet(ctx, cfg, chain)
	if err != nil {
		mainLog.WithError(err).Fatal("Wallet unavailable")
	}
	if wallet.Address() != trader {
		mainLog.WithFields(logrus.Fields{
			"configured": trader.Hex(),
			"wallet":     wallet.Address().Hex(),
		}).Fatal("Wallet address does not match WALLET_ADDRESS")
	}

	backend := external.NewBackend(cfg.BackendURL, log)

	// Tap-to-trade transport: the real backend, or the paper relay in dry run
	var (
		tapBackend tap.Backend = backend
		tapNonces  signing.NonceSource
		betNonces  signing.NonceSource = noChain{}
		relay      *tap.PaperRelay
	)
	switch {
	case cfg.DryRun:
		relay = tap.NewPaperRelay(tapContract, log)
		tapBackend = relay
		tapNonces = relay
	case chain != nil:
		meta, err := ethereum.NewMetaContract(chain, cfg.TapToTradeAddress)
		if err != nil {
			mainLog.WithError(err).Fatal("TapToTrade contract binding failed")
		}
		tapNonces = meta
	default:
		tapNonces = noChain{}
	}
	if chain != nil && cfg.OneTapProfitAddress != "" {
		meta, err := ethereum.NewMetaContract(chain, cfg.OneTapProfitAddress)
		if err != nil {
			mainLog.WithError(err).Fatal("OneTapProfit contract binding failed")
		}
		betNonces = meta
	}

	var (
		tapAllowance tap.AllowanceEnsurer
		betAllowance onetap.AllowanceEnsurer
	)
	if !cfg.DryRun && chain != nil && cfg.USDCAddress != "" {
		collateral, err := ethereum.NewCollateral(chain, cfg.USDCAddress, wallet, log)
		if err != nil {
			mainLog.WithError(err).Fatal("Collateral token binding failed")
		}
		tapAllowance = collateral
		betAllowance = collateral
	}

	// Journal database (optional)
	var (
		pool      *pgxpool.Pool
		journal   tap.SessionJournal
		orderRepo *repository.OrderRepo
		betRepo   *repository.BetRepo
		priceRepo *repository.PriceRepo
	)
	if dsn := cfg.DSN(); dsn != "" {
		pool, err = db.Open(ctx, dsn, log)
		if err != nil {
			mainLog.WithError(err).Fatal("Journal database unavailable")
		}
		defer func() {
			pool.Close()
			mainLog.Info("Connection pool closed")
		}()
		journal = repository.NewGridSessionRepo(pool)
		orderRepo = repository.NewOrderRepo(pool)
		betRepo = repository.NewBetRepo(pool)
		priceRepo = repository.NewPriceRepo(pool)
	}

	// Shared price feed
	feedOpts := []pricefeed.Option{pricefeed.WithSeeder(backend)}
	if priceRepo != nil {
		feedOpts = append(feedOpts, pricefeed.WithRecorder(priceRepo, time.Minute))
	}
	hub := pricefeed.NewHub(cfg.BackendWSURL, log, feedOpts...)
	defer hub.Close()

	var unsubscribe func()
	if relay != nil {
		unsubscribe = hub.Subscribe(relay.OnPrices)
	} else {
		// Bets read entry prices from the hub cache, which needs a listener.
		unsubscribe = hub.Subscribe(func(map[string]models.PriceData) {})
	}
	defer unsubscribe()

	policy, err := grid.ParseSidePolicy(cfg.ZeroRowSide)
	if err != nil {
		mainLog.WithError(err).Fatal("Invalid zero row policy")
	}
	limits := risk.Limits{
		MaxOrdersPerBatch:     cfg.MaxOrdersPerBatch,
		MaxMarginPerBatch:     cfg.MaxMarginPerBatch,
		MinCollateralPerOrder: cfg.MinCollateralPerOrder,
		MaxActiveOrders:       cfg.MaxActiveOrders,
		MaxBetAmount:          cfg.MaxBetAmount,
	}

	tapSvc := tap.NewService(tap.ServiceConfig{
		Trader:     trader,
		Contract:   tapContract,
		SidePolicy: policy,
		OrderPoll:  time.Duration(cfg.OrderPollSeconds) * time.Second,
		Limits:     limits,
	}, tap.Deps{
		Backend:   tapBackend,
		Signers:   signing.NewOrderSigner(sessions, wallet, tapNonces),
		Nonces:    tapNonces,
		Sessions:  sessions,
		Allowance: tapAllowance,
		Journal:   journal,
	}, log)

	var oneTapContract common.Address
	if cfg.OneTapProfitAddress != "" {
		oneTapContract = common.HexToAddress(cfg.OneTapProfitAddress)
	}
	oneTapSvc := onetap.NewService(onetap.ServiceConfig{
		Trader:   trader,
		Contract: oneTapContract,
		Limits:   limits,
		BetPoll:  time.Duration(cfg.BetPollSeconds) * time.Second,
	}, onetap.Deps{
		Backend:   backend,
		Sessions:  sessions,
		Nonces:    betNonces,
		Prices:    hub,
		Allowance: betAllowance,
	}, log)

	// Notifications and journal observers
	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName, log)

	tapSvc.Tracker().OnTransition(func(o models.TapToTradeOrder, from models.OrderStatus) {
		notify.OrderTransition(o, from)
		if orderRepo != nil {
			journalOrder(orderRepo, o, mainLog)
		}
	})
	tapSvc.Submitter().OnSubmitted(func(_ context.Context, res *tap.BatchResult) {
		sessionID := ""
		if len(res.Orders) > 0 {
			sessionID = res.Orders[0].GridSessionID
		}
		notify.BatchSubmitted(sessionID, len(res.Orders), res.CollateralPerOrder, res.Dropped)
		if orderRepo != nil {
			for _, o := range res.Orders {
				journalOrder(orderRepo, o, mainLog)
			}
		}
	})
	oneTapSvc.Tracker().OnResolved(func(b models.Bet) {
		notify.BetResolved(b)
		if betRepo != nil {
			jctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
			defer cancel()
			if err := betRepo.Upsert(jctx, &b); err != nil {
				mainLog.WithError(err).WithField("bet", b.ID).Warn("Failed to journal bet")
			}
		}
	})

	if restored, err := tapSvc.Restore(ctx); err != nil {
		mainLog.WithError(err).Warn("Could not restore grid session")
	} else if restored && relay != nil {
		mainLog.Warn("Journaled grid session is unknown to the paper relay, disable and re-enable it")
	}

	tapSvc.Start()
	oneTapSvc.Start()

	// Local API
	apiDeps := api.Deps{
		Tap:             tapSvc,
		OneTap:          oneTapSvc,
		Sessions:        sessions,
		Wallet:          wallet,
		SessionDuration: time.Duration(cfg.SessionDurationMinutes) * time.Minute,
		Prices:          hub,
		Paper:           relay,
	}
	if pool != nil {
		apiDeps.DB = pool
	}
	srv := api.NewServer(apiDeps, cfg.APIPort, cfg.APIKey, cfg.CORSAllowOrigin, log)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLog.WithError(err).Fatal("API server error")
		}
	}()

	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY RUN"
	}
	notify.Send(fmt.Sprintf("Tethra tap client started for %s (%s)", trader.Hex(), mode))
	mainLog.Info("All services started successfully")

	<-ctx.Done()
	mainLog.Info("Shutting down gracefully...")

	tapSvc.Stop()
	oneTapSvc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.WithError(err).Warn("API shutdown error")
	}
	mainLog.Info("Shutdown complete")
}

func openWallet(ctx context.Context, cfg *config.Config, chain *ethereum.Client) (traderWallet, error) {
	switch cfg.WalletMode {
	case "rpc":
		return ethereum.NewRPCWallet(ctx, cfg.EthereumAPIEndpoint, cfg.WalletAddress)
	default:
		return ethereum.NewKeyWallet(cfg.PrivateKey, chain)
	}
}

func journalOrder(repo *repository.OrderRepo, o models.TapToTradeOrder, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := repo.Upsert(ctx, &o); err != nil {
		log.WithError(err).WithField("order", o.ID).Warn("Failed to journal order")
	}
}
