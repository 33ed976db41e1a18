package curve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshState(cfg Config) State {
	return State{TokensRemaining: cfg.TotalSupply, TokensSold: 0, AmountCollected: 0}
}

func TestQuoteBuyFeeSplit(t *testing.T) {
	cfg := testConfig()
	st := freshState(cfg)

	gross := uint64(10_000_000)
	q, err := QuoteBuy(cfg, st, gross)
	require.NoError(t, err)

	wantTotal := feeFloor(gross, cfg.PlatformFeeBps+cfg.CreatorFeeBps)
	assert.InDelta(t, float64(wantTotal), float64(q.PlatformFee+q.CreatorFee), 1,
		"platform+creator fee must equal floor(gross*bps/10000) within one unit")
	assert.Equal(t, gross-wantTotal, q.NetCurrencyIn)
	assert.Equal(t, gross, q.GrossCurrencyIn)
}

func TestQuoteBuyBelowMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.MinCurrencyAmount = 1_000
	st := freshState(cfg)

	_, err := QuoteBuy(cfg, st, 999)
	assert.ErrorIs(t, err, ErrBelowMinimumAmount)

	_, err = QuoteBuy(cfg, st, 0)
	assert.ErrorIs(t, err, ErrBelowMinimumAmount)
}

func TestQuoteBuyInsufficientInventory(t *testing.T) {
	cfg := testConfig()
	// Nearly sold out: only a sliver of inventory left near the top of
	// the curve, where every token costs ~1e6 smallest units.
	st := State{
		TokensRemaining: 1_000,
		TokensSold:      cfg.TotalSupply - 1_000,
		AmountCollected: 0,
	}

	_, err := QuoteBuy(cfg, st, 100_000_000_000)
	assert.ErrorIs(t, err, ErrInsufficientInventory,
		"a buy that cannot be filled whole is rejected, not partially filled")
}

func TestQuoteBuyAveragePriceNearLaunch(t *testing.T) {
	cfg := testConfig()
	st := freshState(cfg)

	// A dust-sized buy right at launch fills at essentially the initial
	// price: the curve premium over ~50 tokens is a couple percent.
	q, err := QuoteBuy(cfg, st, 50)
	require.NoError(t, err)
	assert.InEpsilon(t, cfg.InitialPrice, q.AvgPrice, 0.05,
		"average price of a tiny launch buy tracks the initial price")
}

func TestQuoteBuyScenarioTenMillionTokens(t *testing.T) {
	cfg := testConfig()
	st := freshState(cfg)

	// Gross sized so that roughly 10M tokens come out. The analytic
	// cost of the first n tokens on a linear curve is
	// n*p0 + slope*n^2/2 (in smallest currency units).
	n := float64(10_000_000)
	slope := (cfg.FinalPrice - cfg.InitialPrice) / float64(cfg.TotalSupply) * 1e9
	netWant := n*cfg.InitialPrice*1e9 + slope*n*n/2
	gross := uint64(netWant / 0.98) // undo the 2% combined fee

	q, err := QuoteBuy(cfg, st, gross)
	require.NoError(t, err)
	assert.InEpsilon(t, n, float64(q.TokensOut), 0.03,
		"tokens out near the analytic solution")

	avgWant := (cfg.InitialPrice*1e9 + slope*n/2) / 1e9
	assert.InEpsilon(t, avgWant, q.AvgPrice, 0.03,
		"average price matches the analytic midpoint price")
}

func TestQuoteSellRejectsOversell(t *testing.T) {
	cfg := testConfig()
	st := State{
		TokensRemaining: cfg.TotalSupply - 5_000,
		TokensSold:      5_000,
	}

	_, err := QuoteSell(cfg, st, 5_001)
	assert.ErrorIs(t, err, ErrInvalidSellAmount,
		"cannot sell more than the curve has ever absorbed")

	_, err = QuoteSell(cfg, st, 0)
	assert.ErrorIs(t, err, ErrBelowMinimumAmount)
}

func TestQuoteSellFeesFromGross(t *testing.T) {
	cfg := testConfig()
	sold := uint64(200_000_000)
	st := State{
		TokensRemaining: cfg.TotalSupply - sold,
		TokensSold:      sold,
	}

	q, err := QuoteSell(cfg, st, 50_000_000)
	require.NoError(t, err)

	wantTotal := feeFloor(q.GrossCurrencyOut, cfg.PlatformFeeBps+cfg.CreatorFeeBps)
	assert.InDelta(t, float64(wantTotal), float64(q.PlatformFee+q.CreatorFee), 1)
	assert.Equal(t, q.GrossCurrencyOut-wantTotal, q.CurrencyOut)
	assert.Less(t, q.CurrencyOut, q.GrossCurrencyOut)
}

func TestRoundTripNeverProfitable(t *testing.T) {
	cfg := testConfig()

	for _, sold := range []uint64{0, 1_000_000, 250_000_000, 900_000_000} {
		st := State{
			TokensRemaining: cfg.TotalSupply - sold,
			TokensSold:      sold,
		}

		buy, err := QuoteBuy(cfg, st, 500_000_000)
		require.NoError(t, err, "sold=%d", sold)

		after := State{
			TokensRemaining: st.TokensRemaining - buy.TokensOut,
			TokensSold:      st.TokensSold + buy.TokensOut,
			AmountCollected: st.AmountCollected + buy.NetCurrencyIn,
		}
		sell, err := QuoteSell(cfg, after, buy.TokensOut)
		require.NoError(t, err, "sold=%d", sold)

		assert.LessOrEqual(t, sell.CurrencyOut, buy.NetCurrencyIn,
			"buying then immediately selling must not profit (sold=%d)", sold)
	}
}

func TestQuoteBuyZeroFeeConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PlatformFeeBps = 0
	cfg.CreatorFeeBps = 0
	st := freshState(cfg)

	q, err := QuoteBuy(cfg, st, 1_000_000)
	require.NoError(t, err)
	assert.Zero(t, q.PlatformFee)
	assert.Zero(t, q.CreatorFee)
	assert.Equal(t, q.GrossCurrencyIn, q.NetCurrencyIn)
}
