// Package memory is an in-process Storage used by tests and the
// standalone dev mode. It mirrors the Postgres implementation's
// semantics, including the write-once referrer guard.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kairosdex/launchpad/internal/storage"
	"github.com/kairosdex/launchpad/internal/storage/models"
)

type memoryStorage struct {
	mu          sync.RWMutex
	instruments map[string]*models.Instrument
	trades      []*models.Trade
	referrals   map[string]*models.ReferralRecord
	nextID      uint
}

// NewStorage returns an empty in-memory document store.
func NewStorage() storage.Storage {
	return &memoryStorage{
		instruments: make(map[string]*models.Instrument),
		referrals:   make(map[string]*models.ReferralRecord),
	}
}

func (m *memoryStorage) RunMigrations() error { return nil }

func (m *memoryStorage) allocID() uint {
	m.nextID++
	return m.nextID
}

func (m *memoryStorage) SaveInstrument(_ context.Context, inst *models.Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instruments[inst.Mint]; ok {
		return storage.ErrDuplicateInstrument
	}
	cp := *inst
	cp.ID = m.allocID()
	m.instruments[inst.Mint] = &cp
	return nil
}

func (m *memoryStorage) GetInstrument(_ context.Context, mint string) (*models.Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instruments[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *memoryStorage) ListInstruments(_ context.Context) ([]*models.Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Instrument, 0, len(m.instruments))
	for _, inst := range m.instruments {
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStorage) UpdateInstrumentState(_ context.Context, mint string, tokensRemaining, tokensSold, amountCollected uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instruments[mint]
	if !ok {
		return storage.ErrNotFound
	}
	inst.TokensRemaining = tokensRemaining
	inst.TokensSold = tokensSold
	inst.AmountCollected = amountCollected
	return nil
}

func (m *memoryStorage) UpdateInstrumentKey(_ context.Context, mint string, reserveKey []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instruments[mint]
	if !ok {
		return storage.ErrNotFound
	}
	inst.ReserveKey = append([]byte(nil), reserveKey...)
	return nil
}

func (m *memoryStorage) MarkGraduated(_ context.Context, mint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instruments[mint]
	if !ok {
		return storage.ErrNotFound
	}
	inst.Graduated = true
	return nil
}

func (m *memoryStorage) AppendTrade(_ context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	cp.ID = m.allocID()
	m.trades = append(m.trades, &cp)
	return nil
}

func (m *memoryStorage) ListTrades(_ context.Context, mint string, limit, offset int) ([]*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].Mint == mint {
			cp := *m.trades[i]
			matched = append(matched, &cp)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *memoryStorage) GetReferral(_ context.Context, wallet string) (*models.ReferralRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.referrals[wallet]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryStorage) GetOrCreateReferral(_ context.Context, wallet string) (*models.ReferralRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.referrals[wallet]
	if !ok {
		rec = &models.ReferralRecord{Wallet: wallet}
		rec.ID = m.allocID()
		m.referrals[wallet] = rec
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryStorage) SetReferrer(_ context.Context, wallet, referrer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.referrals[wallet]
	if !ok {
		rec = &models.ReferralRecord{Wallet: wallet}
		rec.ID = m.allocID()
		m.referrals[wallet] = rec
	}
	if rec.Referrer != "" {
		return storage.ErrReferrerAlreadySet
	}
	rec.Referrer = referrer
	return nil
}

func (m *memoryStorage) CreditReferral(_ context.Context, wallet string, level int, amount uint64) error {
	if level < 1 || level > 3 {
		return fmt.Errorf("invalid referral level %d", level)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.referrals[wallet]
	if !ok {
		rec = &models.ReferralRecord{Wallet: wallet}
		rec.ID = m.allocID()
		m.referrals[wallet] = rec
	}
	switch level {
	case 1:
		rec.Level1Earned += amount
	case 2:
		rec.Level2Earned += amount
	case 3:
		rec.Level3Earned += amount
	}
	rec.LifetimeTotal += amount
	return nil
}
