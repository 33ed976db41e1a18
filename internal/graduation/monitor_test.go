package graduation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kairosdex/launchpad/internal/curve"
	"github.com/kairosdex/launchpad/internal/metrics"
	"github.com/kairosdex/launchpad/internal/state"
)

const mint = "GradMint111111111111111111111111111111111111"

type fixedRate struct {
	price float64
	err   error
}

func (f fixedRate) USDPrice(context.Context) (float64, error) { return f.price, f.err }

type recordingMigrator struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (r *recordingMigrator) Migrate(_ context.Context, mint string) error {
	r.mu.Lock()
	r.calls = append(r.calls, mint)
	r.mu.Unlock()
	if r.done != nil {
		close(r.done)
	}
	return nil
}

func testConfig() curve.Config {
	return curve.Config{
		TotalSupply:      1_000_000_000,
		InitialPrice:     1e-9,
		FinalPrice:       1e-6,
		PlatformFeeBps:   100,
		CreatorFeeBps:    100,
		CurrencyDecimals: 9,
	}
}

func newStore(t *testing.T, collected uint64, remaining uint64) *state.Store {
	t.Helper()
	cfg := testConfig()
	s := state.NewStore(nil, zap.NewNop())
	require.NoError(t, s.Register(mint, cfg, curve.State{
		TokensRemaining: remaining,
		TokensSold:      cfg.TotalSupply - remaining,
		AmountCollected: collected,
	}, false))
	return s
}

func TestEvaluateBelowTarget(t *testing.T) {
	s := newStore(t, 1_000_000_000, 900_000_000) // 1 SOL collected
	m := NewMonitor(Config{TargetUSD: 50_000}, s, fixedRate{price: 150}, nil, nil, zap.NewNop())

	require.NoError(t, m.Evaluate(context.Background(), mint))

	snap, err := s.Snapshot(mint)
	require.NoError(t, err)
	assert.False(t, snap.Graduated)
}

func TestEvaluateLatchesAtTarget(t *testing.T) {
	// 400 SOL collected at $150 = $60k, over the $50k target.
	s := newStore(t, 400_000_000_000, 200_000_000)
	mig := &recordingMigrator{done: make(chan struct{})}
	reg := metrics.New()
	m := NewMonitor(Config{TargetUSD: 50_000}, s, fixedRate{price: 150}, mig, reg, zap.NewNop())

	require.NoError(t, m.Evaluate(context.Background(), mint))

	snap, err := s.Snapshot(mint)
	require.NoError(t, err)
	assert.True(t, snap.Graduated)

	select {
	case <-mig.done:
	case <-time.After(time.Second):
		t.Fatal("migrator was not invoked")
	}
}

func TestEvaluateLatchesExactlyOnce(t *testing.T) {
	s := newStore(t, 400_000_000_000, 200_000_000)
	mig := &recordingMigrator{done: make(chan struct{})}
	m := NewMonitor(Config{TargetUSD: 50_000}, s, fixedRate{price: 150}, mig, nil, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Evaluate(context.Background(), mint))
	}
	<-mig.done

	mig.mu.Lock()
	defer mig.mu.Unlock()
	assert.Len(t, mig.calls, 1, "migration fires exactly once")
}

func TestLogMigratorMigrate(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mig := NewLogMigrator(zap.New(core))

	require.NoError(t, mig.Migrate(context.Background(), mint))

	entries := logs.FilterMessage("instrument ready for venue migration").All()
	require.Len(t, entries, 1)
	assert.Equal(t, mint, entries[0].ContextMap()["mint"])
}

func TestEvaluateSoldOutGraduatesRegardlessOfUSD(t *testing.T) {
	s := newStore(t, 1_000, 0)
	m := NewMonitor(Config{TargetUSD: 50_000}, s, fixedRate{price: 150}, nil, nil, zap.NewNop())

	require.NoError(t, m.Evaluate(context.Background(), mint))

	snap, err := s.Snapshot(mint)
	require.NoError(t, err)
	assert.True(t, snap.Graduated)
}

func TestEvaluateRateErrorSkipsCheck(t *testing.T) {
	s := newStore(t, 400_000_000_000, 200_000_000)
	m := NewMonitor(Config{TargetUSD: 50_000}, s, fixedRate{err: errors.New("oracle down")}, nil, nil, zap.NewNop())

	require.NoError(t, m.Evaluate(context.Background(), mint), "degraded oracle never fails the settlement path")

	snap, err := s.Snapshot(mint)
	require.NoError(t, err)
	assert.False(t, snap.Graduated)
}

func TestEvaluateUnknownInstrument(t *testing.T) {
	s := state.NewStore(nil, zap.NewNop())
	m := NewMonitor(Config{TargetUSD: 50_000}, s, fixedRate{price: 150}, nil, nil, zap.NewNop())

	err := m.Evaluate(context.Background(), "NoSuchMint1111111111111111111111111111111111")
	assert.ErrorIs(t, err, state.ErrUnknownInstrument)
}
