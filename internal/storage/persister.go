package storage

import (
	"context"

	"github.com/kairosdex/launchpad/internal/curve"
)

// CurvePersister adapts Storage to the state store's write-through
// interface.
type CurvePersister struct {
	store Storage
}

func NewCurvePersister(store Storage) *CurvePersister {
	return &CurvePersister{store: store}
}

func (p *CurvePersister) PersistCurveState(ctx context.Context, mint string, st curve.State) error {
	return p.store.UpdateInstrumentState(ctx, mint, st.TokensRemaining, st.TokensSold, st.AmountCollected)
}

func (p *CurvePersister) PersistGraduated(ctx context.Context, mint string) error {
	return p.store.MarkGraduated(ctx, mint)
}
