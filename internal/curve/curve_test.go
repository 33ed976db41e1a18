package curve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		TotalSupply:      1_000_000_000,
		InitialPrice:     1e-9,
		FinalPrice:       1e-3,
		PlatformFeeBps:   100,
		CreatorFeeBps:    100,
		CurrencyDecimals: 9,
	}
}

func TestPriceEndpoints(t *testing.T) {
	cfg := testConfig()

	p0, err := Price(cfg, 0)
	require.NoError(t, err)
	assert.Equal(t, cfg.InitialPrice, p0, "price at zero sold must be the initial price")

	pEnd, err := Price(cfg, cfg.TotalSupply)
	require.NoError(t, err)
	assert.Equal(t, cfg.FinalPrice, pEnd, "price at full supply must be the final price")
}

func TestPriceClampsBeyondSupply(t *testing.T) {
	cfg := testConfig()

	p, err := Price(cfg, cfg.TotalSupply*2)
	require.NoError(t, err)
	assert.Equal(t, cfg.FinalPrice, p, "progress beyond 100% clamps to the final price")
}

func TestPriceDegenerateCurve(t *testing.T) {
	_, err := Price(Config{TotalSupply: 0}, 0)
	assert.ErrorIs(t, err, ErrDegenerateCurve)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.TotalSupply = 0
	assert.ErrorIs(t, bad.Validate(), ErrDegenerateCurve)

	bad = cfg
	bad.FinalPrice = cfg.InitialPrice / 2
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.PlatformFeeBps = 9_000
	bad.CreatorFeeBps = 2_000
	assert.Error(t, bad.Validate())
}

func TestFeeFloorExactness(t *testing.T) {
	// floor(gross*bps/10000) without overflow, spot-checked against
	// small values where the product is directly computable.
	cases := []struct {
		gross, bps, want uint64
	}{
		{10_000, 200, 200},
		{9_999, 200, 199},
		{1, 200, 0},
		{123_456_789, 150, 1_851_851},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, feeFloor(tc.gross, tc.bps), "gross=%d bps=%d", tc.gross, tc.bps)
	}
}

func TestFeeFloorLargeAmounts(t *testing.T) {
	// Amounts near the uint64 ceiling must not overflow.
	gross := uint64(1) << 62
	got := feeFloor(gross, 200)
	want := gross / 10_000 * 200 // exact: 2^62 is divisible by 16, remainder path adds the rest
	assert.InEpsilon(t, float64(want), float64(got), 1e-9)
}
