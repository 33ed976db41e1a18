package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kairosdex/launchpad/internal/api"
	"github.com/kairosdex/launchpad/internal/bookkeeping"
	"github.com/kairosdex/launchpad/internal/chain"
	"github.com/kairosdex/launchpad/internal/config"
	"github.com/kairosdex/launchpad/internal/curve"
	"github.com/kairosdex/launchpad/internal/custody"
	"github.com/kairosdex/launchpad/internal/graduation"
	"github.com/kairosdex/launchpad/internal/logger"
	"github.com/kairosdex/launchpad/internal/metrics"
	"github.com/kairosdex/launchpad/internal/oracle"
	"github.com/kairosdex/launchpad/internal/settlement"
	"github.com/kairosdex/launchpad/internal/state"
	"github.com/kairosdex/launchpad/internal/storage"
	"github.com/kairosdex/launchpad/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.New(&logger.Config{
		LogFile:     cfg.LogFile,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      7,
		Compress:    true,
		Development: cfg.DebugLogging,
	})
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync(log)
	log.Info("starting launchpad", zap.String("config", *configPath))

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("launchpad exited", zap.Error(err))
	}
	log.Info("launchpad stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStorage(cfg.PostgresURL, log)
	if err != nil {
		return err
	}
	if err := store.RunMigrations(); err != nil {
		return err
	}

	m := metrics.New()
	kms, err := custody.NewAESKeyService([]byte(cfg.MasterSecret))
	if err != nil {
		return err
	}

	platformFees, err := solana.PublicKeyFromBase58(cfg.PlatformFeeAccount)
	if err != nil {
		return err
	}

	states := state.NewStore(storage.NewCurvePersister(store), log)
	ledger := chain.NewClient(cfg.RPCList[0], chain.Config{
		ValidityWindow: cfg.QuoteValidity(),
		SubmitRetries:  uint(cfg.SubmitRetries),
	}, log)

	rates := oracle.NewCached(
		oracle.NewHTTPSource(cfg.OracleURL, 5*time.Second),
		cfg.OracleTTL(), cfg.OracleFallbackUSD, log)

	recorder := bookkeeping.NewRecorder(store, m, log)
	cascade := bookkeeping.NewCascade(store, m, log)
	grad := graduation.NewMonitor(graduation.Config{
		TargetUSD:        cfg.GraduationTargetUSD,
		CurrencyDecimals: cfg.CurrencyDecimals,
	}, states, rates, graduation.NewLogMigrator(log), m, log)

	coord := settlement.NewCoordinator(settlement.Config{
		PollInterval:   cfg.PollInterval(),
		PollTimeout:    cfg.PollTimeout(),
		ReserveRetries: cfg.ReserveRetries,
	}, states, ledger, settlement.NewBuilder(platformFees), recorder, cascade, grad, m, log)

	if err := loadInstruments(ctx, cfg, log, store, kms, states, coord); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(coord, store, m, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(ctx)
	})
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// loadInstruments hydrates the in-memory curve state and wires a
// custodial signer for every persisted instrument. Legacy plaintext
// reserve keys are re-encrypted in place on first load.
func loadInstruments(ctx context.Context, cfg *config.Config, log *zap.Logger, store storage.Storage, kms *custody.AESKeyService, states *state.Store, coord *settlement.Coordinator) error {
	instruments, err := store.ListInstruments(ctx)
	if err != nil {
		return err
	}

	for _, inst := range instruments {
		key := inst.ReserveKey
		if kms.IsLegacyUnencrypted(key) {
			migrated, err := custody.MigrateLegacy(ctx, kms, key)
			if err != nil {
				return err
			}
			if err := store.UpdateInstrumentKey(ctx, inst.Mint, migrated); err != nil {
				return err
			}
			log.Info("migrated legacy reserve key", zap.String("mint", inst.Mint))
			key = migrated
		}

		mintKey, err := solana.PublicKeyFromBase58(inst.Mint)
		if err != nil {
			return err
		}
		creator, err := solana.PublicKeyFromBase58(inst.Creator)
		if err != nil {
			return err
		}
		reserve, err := solana.PublicKeyFromBase58(inst.ReserveAccount)
		if err != nil {
			return err
		}

		err = states.Register(inst.Mint, curve.Config{
			TotalSupply:      inst.TotalSupply,
			InitialPrice:     inst.InitialPrice,
			FinalPrice:       inst.FinalPrice,
			PlatformFeeBps:   inst.PlatformFeeBps,
			CreatorFeeBps:    inst.CreatorFeeBps,
			CurrencyDecimals: cfg.CurrencyDecimals,
		}, curve.State{
			TokensRemaining: inst.TokensRemaining,
			TokensSold:      inst.TokensSold,
			AmountCollected: inst.AmountCollected,
		}, inst.Graduated)
		if err != nil {
			return err
		}

		coord.RegisterInstrument(inst.Mint, settlement.Instrument{
			Mint:    mintKey,
			Creator: creator,
			Reserve: reserve,
			Signer:  custody.NewSigner(kms, reserve, key, log),
		})
	}

	log.Info("instruments loaded", zap.Int("count", len(instruments)))
	return nil
}
