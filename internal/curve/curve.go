// Package curve implements the bonding curve price function and the
// buy/sell quote engine. All amounts are integers in smallest units
// (token base units, smallest currency units); fractional remainders
// are always floored toward the platform so repeated rounding can
// never drain curve inventory in the trader's favor.
package curve

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrDegenerateCurve       = errors.New("degenerate curve: total supply is zero")
	ErrInsufficientInventory = errors.New("insufficient curve inventory")
	ErrInvalidSellAmount     = errors.New("sell amount exceeds tokens absorbed by curve")
	ErrBelowMinimumAmount    = errors.New("amount below minimum")
)

const (
	// DefaultCurrencyDecimals converts between the reference currency
	// and its smallest unit (lamports for SOL).
	DefaultCurrencyDecimals = 9

	// minChunkTokens bounds integration granularity from below so
	// quoting stays O(100) iterations even on tiny inventories.
	minChunkTokens = 1_000

	bpsDenominator = 10_000
)

// Config is the immutable per-instrument curve configuration.
// InitialPrice and FinalPrice are in reference currency per token
// base unit; everything else is in smallest units.
type Config struct {
	TotalSupply      uint64
	InitialPrice     float64
	FinalPrice       float64
	PlatformFeeBps   uint64
	CreatorFeeBps    uint64
	CurrencyDecimals int
	// MinCurrencyAmount is the smallest gross input a quote accepts,
	// in smallest currency units.
	MinCurrencyAmount uint64
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.TotalSupply == 0 {
		return ErrDegenerateCurve
	}
	if c.InitialPrice < 0 {
		return fmt.Errorf("initial price must be non-negative, got %g", c.InitialPrice)
	}
	if c.FinalPrice < c.InitialPrice {
		return fmt.Errorf("final price %g below initial price %g", c.FinalPrice, c.InitialPrice)
	}
	if c.PlatformFeeBps+c.CreatorFeeBps >= bpsDenominator {
		return fmt.Errorf("combined fee %d bps must stay below %d", c.PlatformFeeBps+c.CreatorFeeBps, bpsDenominator)
	}
	return nil
}

func (c Config) currencyDecimals() int {
	if c.CurrencyDecimals == 0 {
		return DefaultCurrencyDecimals
	}
	return c.CurrencyDecimals
}

// State is the mutable per-instrument inventory record.
// Invariant: TokensRemaining + TokensSold == TotalSupply.
type State struct {
	TokensRemaining uint64
	TokensSold      uint64
	AmountCollected uint64
}

// Price returns the marginal price at the given cumulative sold
// position, in reference currency per token base unit. Linear
// interpolation between InitialPrice and FinalPrice with progress
// clamped to [0,1].
func Price(cfg Config, tokensSold uint64) (float64, error) {
	if cfg.TotalSupply == 0 {
		return 0, ErrDegenerateCurve
	}
	progress := float64(tokensSold) / float64(cfg.TotalSupply)
	if progress > 1 {
		progress = 1
	}
	return cfg.InitialPrice + (cfg.FinalPrice-cfg.InitialPrice)*progress, nil
}

// priceSmallestUnits returns the marginal price in smallest currency
// units per token base unit. tokensSold may carry a fractional
// midpoint offset from chunked integration.
func priceSmallestUnits(cfg Config, tokensSold float64) float64 {
	progress := tokensSold / float64(cfg.TotalSupply)
	if progress > 1 {
		progress = 1
	}
	p := cfg.InitialPrice + (cfg.FinalPrice-cfg.InitialPrice)*progress
	return p * math.Pow10(cfg.currencyDecimals())
}

// feeFloor computes floor(amount * bps / 10000) without overflowing
// uint64 for any amount.
func feeFloor(amount, bps uint64) uint64 {
	q := amount / bpsDenominator
	r := amount % bpsDenominator
	return q*bps + r*bps/bpsDenominator
}

// splitFees deducts the combined fee from gross and splits it
// proportionally between platform and creator. The creator side
// absorbs the rounding remainder.
func splitFees(cfg Config, gross uint64) (platformFee, creatorFee, net uint64) {
	totalBps := cfg.PlatformFeeBps + cfg.CreatorFeeBps
	totalFee := feeFloor(gross, totalBps)
	if totalBps > 0 {
		platformFee = totalFee * cfg.PlatformFeeBps / totalBps
	}
	creatorFee = totalFee - platformFee
	net = gross - totalFee
	return platformFee, creatorFee, net
}

// chunkSize picks the integration step: roughly 1% of the span with a
// fixed floor, so iteration count stays bounded.
func chunkSize(span uint64) uint64 {
	chunk := span / 100
	if chunk < minChunkTokens {
		chunk = minChunkTokens
	}
	return chunk
}
