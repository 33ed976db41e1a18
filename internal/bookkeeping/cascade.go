package bookkeeping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/kairosdex/launchpad/internal/metrics"
	"github.com/kairosdex/launchpad/internal/storage"
)

// ErrCascadeFailed marks a partially or fully failed commission
// distribution. Callers log it; it never affects the trade itself.
var ErrCascadeFailed = errors.New("commission cascade failed")

const maxReferralLevels = 3

// levelShareBps is each referral level's share of the trading fee, in
// basis points: 35% / 20% / 5%, 60% of the fee in total on a full
// chain.
var levelShareBps = [maxReferralLevels]uint64{3_500, 2_000, 500}

// Cascade pays referral commissions out of trading fees by walking the
// trader's referrer chain. The walk is iterative and bounded; each
// hop's credit is written and retried independently, so one flaky hop
// does not lose the others.
type Cascade struct {
	store       storage.Storage
	metrics     *metrics.Metrics
	logger      *zap.Logger
	maxAttempts uint
	retryDelay  time.Duration
}

func NewCascade(store storage.Storage, m *metrics.Metrics, logger *zap.Logger) *Cascade {
	return &Cascade{
		store:       store,
		metrics:     m,
		logger:      logger.Named("commissions"),
		maxAttempts: 3,
		retryDelay:  100 * time.Millisecond,
	}
}

// Distribute walks up to three hops from the trader and credits each
// referrer its share of feeAmount. A wallet with no referrer ends the
// walk immediately.
func (c *Cascade) Distribute(ctx context.Context, trader string, feeAmount uint64) error {
	if feeAmount == 0 {
		return nil
	}

	rec, err := c.store.GetOrCreateReferral(ctx, trader)
	if err != nil {
		return fmt.Errorf("%w: load trader record: %w", ErrCascadeFailed, err)
	}

	var failed []error
	current := rec.Referrer
	for level := 0; level < maxReferralLevels && current != ""; level++ {
		amount := shareFloor(feeAmount, levelShareBps[level])
		if amount > 0 {
			if err := c.creditWithRetry(ctx, current, level+1, amount); err != nil {
				failed = append(failed, fmt.Errorf("level %d to %s: %w", level+1, current, err))
			} else if c.metrics != nil {
				c.metrics.CommissionsPaid.Add(float64(amount))
			}
		}

		next, err := c.store.GetReferral(ctx, current)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			failed = append(failed, fmt.Errorf("walk past %s: %w", current, err))
			break
		}
		current = next.Referrer
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %w", ErrCascadeFailed, errors.Join(failed...))
	}
	return nil
}

func (c *Cascade) creditWithRetry(ctx context.Context, wallet string, level int, amount uint64) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying commission credit",
			zap.String("wallet", wallet),
			zap.Int("level", level),
			zap.Error(err),
			zap.Duration("backoff", wait))
	}

	operation := func() (struct{}, error) {
		return struct{}{}, c.store.CreditReferral(ctx, wallet, level, amount)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(notify))
	return err
}

// shareFloor computes floor(amount * bps / 10000) without overflow.
func shareFloor(amount, bps uint64) uint64 {
	q := amount / 10_000
	r := amount % 10_000
	return q*bps + r*bps/10_000
}
