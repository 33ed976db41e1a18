package bookkeeping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kairosdex/launchpad/internal/storage"
	"github.com/kairosdex/launchpad/internal/storage/memory"
	"github.com/kairosdex/launchpad/internal/storage/models"
)

func sampleTrade(sig string) *models.Trade {
	return &models.Trade{
		Signature:     sig,
		Mint:          "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Trader:        trader,
		Direction:     "buy",
		GrossAmount:   1_000_000,
		PlatformFee:   10_000,
		CreatorFee:    10_000,
		TokenDelta:    50_000,
		CurrencyDelta: 980_000,
		ExecutedAt:    time.Now().UTC(),
	}
}

func TestRecordTradeAppends(t *testing.T) {
	store := memory.NewStorage()
	r := NewRecorder(store, nil, zap.NewNop())

	require.NoError(t, r.RecordTrade(context.Background(), sampleTrade("sig-1")))
	require.NoError(t, r.RecordTrade(context.Background(), sampleTrade("sig-2")))

	trades, err := store.ListTrades(context.Background(), "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 10, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.Equal(t, "sig-2", trades[0].Signature, "newest first")
}

type appendFailStore struct {
	storage.Storage
}

func (a *appendFailStore) AppendTrade(context.Context, *models.Trade) error {
	return errors.New("disk full")
}

func TestRecordTradeFailureIsAdvisory(t *testing.T) {
	r := NewRecorder(&appendFailStore{Storage: memory.NewStorage()}, nil, zap.NewNop())

	err := r.RecordTrade(context.Background(), sampleTrade("sig-3"))
	assert.Error(t, err, "failure surfaced for visibility; callers treat it as advisory")
}
