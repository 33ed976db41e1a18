// Package graduation watches bonding-curve progress and freezes an
// instrument once it has raised enough. Graduation is a one-way latch:
// after it fires the curve stops quoting and the instrument is handed
// to the migrator for its move to an external venue.
package graduation

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kairosdex/launchpad/internal/metrics"
	"github.com/kairosdex/launchpad/internal/oracle"
	"github.com/kairosdex/launchpad/internal/state"
)

// Migrator moves a graduated instrument's liquidity to its next venue.
// Migration runs out of band; the latch does not wait for it.
type Migrator interface {
	Migrate(ctx context.Context, mint string) error
}

// LogMigrator is the default Migrator: it records that the instrument
// is ready to move and leaves the actual liquidity migration to an
// operator. Deployments with an automated venue integration swap in
// their own Migrator.
type LogMigrator struct {
	logger *zap.Logger
}

func NewLogMigrator(logger *zap.Logger) *LogMigrator {
	return &LogMigrator{logger: logger.Named("migrator")}
}

func (l *LogMigrator) Migrate(_ context.Context, mint string) error {
	l.logger.Info("instrument ready for venue migration", zap.String("mint", mint))
	return nil
}

// Config holds the graduation thresholds.
type Config struct {
	// TargetUSD is the USD value of collected currency at which the
	// instrument graduates.
	TargetUSD float64
	// CurrencyDecimals converts collected smallest units to whole
	// currency for the USD comparison.
	CurrencyDecimals int
	// MigrateTimeout bounds a single migration attempt.
	MigrateTimeout time.Duration
}

func (c *Config) normalize() {
	if c.CurrencyDecimals == 0 {
		c.CurrencyDecimals = 9
	}
	if c.MigrateTimeout <= 0 {
		c.MigrateTimeout = 2 * time.Minute
	}
}

// Monitor evaluates graduation after every confirmed buy.
type Monitor struct {
	cfg      Config
	states   *state.Store
	rates    oracle.Source
	migrator Migrator
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewMonitor(cfg Config, states *state.Store, rates oracle.Source, migrator Migrator, m *metrics.Metrics, logger *zap.Logger) *Monitor {
	cfg.normalize()
	return &Monitor{
		cfg:      cfg,
		states:   states,
		rates:    rates,
		migrator: migrator,
		metrics:  m,
		logger:   logger.Named("graduation"),
	}
}

// Evaluate checks whether the instrument has crossed its graduation
// threshold and latches it if so. Trading is never blocked by this
// path: rate lookup degradation is absorbed by the oracle cache, and
// persistence or migration failures only log.
func (m *Monitor) Evaluate(ctx context.Context, mint string) error {
	snap, err := m.states.Snapshot(mint)
	if err != nil {
		return err
	}
	if snap.Graduated {
		return nil
	}

	rate, err := m.rates.USDPrice(ctx)
	if err != nil {
		// Cached sources never error; a raw source might. Skip the
		// check rather than stall the settlement path.
		m.logger.Warn("rate unavailable, skipping graduation check",
			zap.String("mint", mint), zap.Error(err))
		return nil
	}

	collectedUSD := float64(snap.State.AmountCollected) / math.Pow10(m.cfg.CurrencyDecimals) * rate
	soldOut := snap.State.TokensRemaining == 0
	if collectedUSD < m.cfg.TargetUSD && !soldOut {
		return nil
	}

	first, err := m.states.SetGraduated(ctx, mint)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	m.logger.Info("instrument graduated",
		zap.String("mint", mint),
		zap.Float64("collected_usd", collectedUSD),
		zap.Bool("sold_out", soldOut),
		zap.Uint64("tokens_sold", snap.State.TokensSold))
	if m.metrics != nil {
		m.metrics.GraduationsTotal.Inc()
	}

	if m.migrator != nil {
		go m.runMigration(mint)
	}
	return nil
}

func (m *Monitor) runMigration(mint string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.MigrateTimeout)
	defer cancel()
	if err := m.migrator.Migrate(ctx, mint); err != nil {
		// The latch already fired; migration can be replayed by an
		// operator from the persisted graduated flag.
		m.logger.Error("migration failed", zap.String("mint", mint), zap.Error(err))
		return
	}
	m.logger.Info("migration complete", zap.String("mint", mint))
}
