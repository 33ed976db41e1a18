package curve

import (
	"math"
)

// BuyQuote is the result of pricing a buy against the curve.
// AvgPrice is in reference currency per token base unit.
type BuyQuote struct {
	TokensOut       uint64
	PlatformFee     uint64
	CreatorFee      uint64
	GrossCurrencyIn uint64
	NetCurrencyIn   uint64
	AvgPrice        float64
}

// SellQuote is the result of pricing a sell against the curve.
type SellQuote struct {
	CurrencyOut      uint64
	PlatformFee      uint64
	CreatorFee       uint64
	GrossCurrencyOut uint64
	AvgPrice         float64
}

// QuoteBuy prices a buy of grossCurrencyIn (smallest currency units)
// against the curve. Fees are deducted first, then the net amount is
// integrated forward from state.TokensSold in bounded chunks until it
// is exhausted.
//
// Policy: a buy whose net input would consume more than the remaining
// inventory is rejected whole with ErrInsufficientInventory. Partial
// fills are not offered; the caller is expected to re-quote with a
// smaller amount.
func QuoteBuy(cfg Config, state State, grossCurrencyIn uint64) (*BuyQuote, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if grossCurrencyIn == 0 || grossCurrencyIn < cfg.MinCurrencyAmount {
		return nil, ErrBelowMinimumAmount
	}

	platformFee, creatorFee, net := splitFees(cfg, grossCurrencyIn)
	if net == 0 {
		return nil, ErrBelowMinimumAmount
	}

	tokensOut, spent, exhausted := integrateForward(cfg, state.TokensSold, state.TokensRemaining, float64(net))
	if exhausted {
		return nil, ErrInsufficientInventory
	}
	if tokensOut == 0 {
		return nil, ErrBelowMinimumAmount
	}
	_ = spent // unspent dust stays with the curve; net is what the trader pays

	avg := float64(net) / float64(tokensOut) / math.Pow10(cfg.currencyDecimals())

	return &BuyQuote{
		TokensOut:       tokensOut,
		PlatformFee:     platformFee,
		CreatorFee:      creatorFee,
		GrossCurrencyIn: grossCurrencyIn,
		NetCurrencyIn:   net,
		AvgPrice:        avg,
	}, nil
}

// QuoteSell prices a sell of tokensIn token base units. The gross
// proceeds are the backward integral from state.TokensSold down to
// state.TokensSold - tokensIn, floored; fees come out of the gross the
// same way as on a buy.
func QuoteSell(cfg Config, state State, tokensIn uint64) (*SellQuote, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokensIn == 0 {
		return nil, ErrBelowMinimumAmount
	}
	if tokensIn > state.TokensSold {
		return nil, ErrInvalidSellAmount
	}

	gross := integrateBackward(cfg, state.TokensSold, tokensIn)
	if gross == 0 {
		return nil, ErrBelowMinimumAmount
	}

	platformFee, creatorFee, out := splitFees(cfg, gross)

	avg := float64(gross) / float64(tokensIn) / math.Pow10(cfg.currencyDecimals())

	return &SellQuote{
		CurrencyOut:      out,
		PlatformFee:      platformFee,
		CreatorFee:       creatorFee,
		GrossCurrencyOut: gross,
		AvgPrice:         avg,
	}, nil
}

// integrateForward walks the curve upward from sold, spending net
// smallest currency units chunk by chunk. Whole chunks are priced at
// their midpoint, which is exact for a linear curve; the final partial
// chunk is inverted in closed form. Returns the tokens bought, the
// amount actually consumed, and whether inventory ran out with
// currency left over.
func integrateForward(cfg Config, sold, remaining uint64, net float64) (tokensOut uint64, spent float64, exhausted bool) {
	chunk := chunkSize(remaining)
	left := net

	for tokensOut < remaining {
		step := chunk
		if avail := remaining - tokensOut; step > avail {
			step = avail
		}
		pos := float64(sold) + float64(tokensOut)
		mid := priceSmallestUnits(cfg, pos+float64(step)/2)
		cost := mid * float64(step)
		if cost <= left {
			tokensOut += step
			left -= cost
			continue
		}

		// Partial chunk: the fill ends inside this chunk. The curve is
		// linear, so cost(t) = pm*t + slope*t^2/2 inverts in closed
		// form; dividing by the marginal price alone would over-fill
		// near launch where the price multiplies within one chunk.
		pm := priceSmallestUnits(cfg, pos)
		slope := curveSlope(cfg)
		var est float64
		switch {
		case slope > 0:
			est = (math.Sqrt(pm*pm+2*slope*left) - pm) / slope
		case pm > 0:
			est = left / pm
		default:
			return tokensOut, net - left, false
		}
		partial := uint64(est)
		if partial > step {
			partial = step
		}
		tokensOut += partial
		left -= float64(partial) * priceSmallestUnits(cfg, pos+float64(partial)/2)
		if left < 0 {
			left = 0
		}
		return tokensOut, net - left, false
	}

	// Inventory consumed; any full currency unit left unspent means
	// the order does not fit.
	if left >= 1 {
		return tokensOut, net - left, true
	}
	return tokensOut, net - left, false
}

// curveSlope is the price increase per token base unit sold, in
// smallest currency units per token unit.
func curveSlope(cfg Config) float64 {
	return (cfg.FinalPrice - cfg.InitialPrice) * math.Pow10(cfg.currencyDecimals()) / float64(cfg.TotalSupply)
}

// integrateBackward sums marginal price over [sold-tokensIn, sold]
// using the same midpoint chunking as the forward walk, floored toward
// the platform.
func integrateBackward(cfg Config, sold, tokensIn uint64) uint64 {
	chunk := chunkSize(tokensIn)
	lo := sold - tokensIn

	var sum float64
	var done uint64
	for done < tokensIn {
		step := chunk
		if rest := tokensIn - done; step > rest {
			step = rest
		}
		pos := float64(lo) + float64(done)
		sum += priceSmallestUnits(cfg, pos+float64(step)/2) * float64(step)
		done += step
	}
	return uint64(sum)
}
