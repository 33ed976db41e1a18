// Package storage defines the document-store collaborator boundary:
// instrument records, the append-only trade ledger, and referral
// records.
package storage

import (
	"context"
	"errors"

	"github.com/kairosdex/launchpad/internal/storage/models"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrReferrerAlreadySet  = errors.New("referrer already set")
	ErrDuplicateInstrument = errors.New("instrument already exists")
)

// Storage is the document store interface.
type Storage interface {
	// Instruments
	SaveInstrument(ctx context.Context, inst *models.Instrument) error
	GetInstrument(ctx context.Context, mint string) (*models.Instrument, error)
	ListInstruments(ctx context.Context) ([]*models.Instrument, error)
	UpdateInstrumentState(ctx context.Context, mint string, tokensRemaining, tokensSold, amountCollected uint64) error
	UpdateInstrumentKey(ctx context.Context, mint string, reserveKey []byte) error
	MarkGraduated(ctx context.Context, mint string) error

	// Trade ledger (append-only)
	AppendTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, mint string, limit, offset int) ([]*models.Trade, error)

	// Referrals
	GetReferral(ctx context.Context, wallet string) (*models.ReferralRecord, error)
	GetOrCreateReferral(ctx context.Context, wallet string) (*models.ReferralRecord, error)
	SetReferrer(ctx context.Context, wallet, referrer string) error
	CreditReferral(ctx context.Context, wallet string, level int, amount uint64) error

	RunMigrations() error
}
