// Package bookkeeping handles everything that happens after a trade is
// final: appending it to history and paying referral commissions.
// Nothing in this package can unwind a confirmed trade: failures here
// are logged, counted, and retried where sensible, never propagated
// back into the settlement outcome.
package bookkeeping

import (
	"context"

	"go.uber.org/zap"

	"github.com/kairosdex/launchpad/internal/metrics"
	"github.com/kairosdex/launchpad/internal/storage"
	"github.com/kairosdex/launchpad/internal/storage/models"
)

// Recorder appends confirmed trades to the history ledger.
type Recorder struct {
	store   storage.Storage
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRecorder(store storage.Storage, m *metrics.Metrics, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:   store,
		metrics: m,
		logger:  logger.Named("recorder"),
	}
}

// RecordTrade appends the trade. A write failure is surfaced to the
// caller for visibility but must be treated as advisory: the trade is
// already final.
func (r *Recorder) RecordTrade(ctx context.Context, trade *models.Trade) error {
	if err := r.store.AppendTrade(ctx, trade); err != nil {
		r.logger.Error("trade history append failed; trade remains confirmed",
			zap.String("signature", trade.Signature),
			zap.String("mint", trade.Mint),
			zap.Error(err))
		if r.metrics != nil {
			r.metrics.LedgerWriteFailed.Inc()
		}
		return err
	}
	r.logger.Debug("trade recorded",
		zap.String("signature", trade.Signature),
		zap.String("direction", trade.Direction),
		zap.Uint64("tokens", trade.TokenDelta))
	return nil
}
