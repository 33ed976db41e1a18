// Package state holds the authoritative curve inventory, one record
// per instrument. Instruments are independent: each entry carries its
// own lock and version counter, so trading on one mint never blocks
// another. Within an instrument, writes are serialized through the
// entry lock and quotes are fenced with an optimistic version check,
// so two settlements built from the same snapshot cannot both reserve
// the same inventory.
package state

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kairosdex/launchpad/internal/curve"
)

var (
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrVersionConflict     = errors.New("curve state changed since snapshot")
	ErrInstrumentGraduated = errors.New("instrument has graduated; curve is read-only")
	ErrInvariantViolated   = errors.New("curve state invariant violated")
)

// Direction of a trade against the curve.
type Direction int

const (
	DirectionBuy Direction = iota
	DirectionSell
)

func (d Direction) String() string {
	if d == DirectionSell {
		return "sell"
	}
	return "buy"
}

// Persister receives write-through copies of applied state. A failure
// here is logged and counted but never unwinds an apply: by the time
// Apply runs the trade is already final on the external ledger.
type Persister interface {
	PersistCurveState(ctx context.Context, mint string, st curve.State) error
	PersistGraduated(ctx context.Context, mint string) error
}

// Snapshot is a point-in-time view of an instrument used for quoting.
// Available is TokensRemaining minus outstanding buy reservations;
// SellableSold is TokensSold minus outstanding sell reservations.
type Snapshot struct {
	Config       curve.Config
	State        curve.State
	Available    uint64
	SellableSold uint64
	Version      uint64
	Graduated    bool
}

type entry struct {
	mu           sync.Mutex
	cfg          curve.Config
	st           curve.State
	version      uint64
	reservedBuy  uint64
	reservedSell uint64
	graduated    bool
}

// Store is the in-memory authoritative CurveStateStore.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	persist Persister
	logger  *zap.Logger
}

func NewStore(persist Persister, logger *zap.Logger) *Store {
	return &Store{
		entries: make(map[string]*entry),
		persist: persist,
		logger:  logger.Named("curve-state"),
	}
}

// Register adds an instrument. The creator allocation is already
// outside the curve, so TokensRemaining + TokensSold must equal the
// curve supply exactly.
func (s *Store) Register(mint string, cfg curve.Config, st curve.State, graduated bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if st.TokensRemaining+st.TokensSold != cfg.TotalSupply {
		return ErrInvariantViolated
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[mint]; ok {
		return errors.New("instrument already registered")
	}
	s.entries[mint] = &entry{cfg: cfg, st: st, graduated: graduated}
	return nil
}

func (s *Store) get(mint string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[mint]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownInstrument
	}
	return e, nil
}

// Snapshot returns the current state and version for quoting.
func (s *Store) Snapshot(mint string) (Snapshot, error) {
	e, err := s.get(mint)
	if err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Config:       e.cfg,
		State:        e.st,
		Available:    e.st.TokensRemaining - e.reservedBuy,
		SellableSold: e.st.TokensSold - e.reservedSell,
		Version:      e.version,
		Graduated:    e.graduated,
	}, nil
}

// Reserve fences a quote against concurrent settlement attempts: it
// earmarks inventory (buy) or absorbed tokens (sell) if and only if
// the state still matches the quoted version. A conflict means the
// quote is stale and must be recomputed.
func (s *Store) Reserve(mint string, dir Direction, tokens uint64, expectVersion uint64) error {
	e, err := s.get(mint)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graduated {
		return ErrInstrumentGraduated
	}
	if e.version != expectVersion {
		return ErrVersionConflict
	}

	switch dir {
	case DirectionBuy:
		if tokens > e.st.TokensRemaining-e.reservedBuy {
			return curve.ErrInsufficientInventory
		}
		e.reservedBuy += tokens
	case DirectionSell:
		if tokens > e.st.TokensSold-e.reservedSell {
			return curve.ErrInvalidSellAmount
		}
		e.reservedSell += tokens
	}
	e.version++
	return nil
}

// Release gives a reservation back after a failed, expired, or
// abandoned settlement.
func (s *Store) Release(mint string, dir Direction, tokens uint64) {
	e, err := s.get(mint)
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch dir {
	case DirectionBuy:
		if tokens > e.reservedBuy {
			tokens = e.reservedBuy
		}
		e.reservedBuy -= tokens
	case DirectionSell:
		if tokens > e.reservedSell {
			tokens = e.reservedSell
		}
		e.reservedSell -= tokens
	}
	e.version++
}

// Apply commits a confirmed trade: the only mutator of CurveState.
// tokens moves TokensSold up (buy) or down (sell) and releases the
// matching reservation; currencyDelta adjusts AmountCollected by the
// net amount the curve held after the trade. Called exactly once per
// CONFIRMED settlement.
func (s *Store) Apply(ctx context.Context, mint string, dir Direction, tokens uint64, currencyDelta int64) (curve.State, error) {
	e, err := s.get(mint)
	if err != nil {
		return curve.State{}, err
	}

	e.mu.Lock()
	if e.graduated {
		e.mu.Unlock()
		return curve.State{}, ErrInstrumentGraduated
	}

	next := e.st
	switch dir {
	case DirectionBuy:
		if tokens > next.TokensRemaining {
			e.mu.Unlock()
			return curve.State{}, ErrInvariantViolated
		}
		next.TokensRemaining -= tokens
		next.TokensSold += tokens
	case DirectionSell:
		if tokens > next.TokensSold {
			e.mu.Unlock()
			return curve.State{}, ErrInvariantViolated
		}
		next.TokensSold -= tokens
		next.TokensRemaining += tokens
	}

	if currencyDelta < 0 && uint64(-currencyDelta) > next.AmountCollected {
		e.mu.Unlock()
		return curve.State{}, ErrInvariantViolated
	}
	if currencyDelta >= 0 {
		next.AmountCollected += uint64(currencyDelta)
	} else {
		next.AmountCollected -= uint64(-currencyDelta)
	}

	if next.TokensRemaining+next.TokensSold != e.cfg.TotalSupply {
		e.mu.Unlock()
		return curve.State{}, ErrInvariantViolated
	}

	e.st = next
	switch dir {
	case DirectionBuy:
		if tokens > e.reservedBuy {
			e.reservedBuy = 0
		} else {
			e.reservedBuy -= tokens
		}
	case DirectionSell:
		if tokens > e.reservedSell {
			e.reservedSell = 0
		} else {
			e.reservedSell -= tokens
		}
	}
	e.version++
	e.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.PersistCurveState(ctx, mint, next); err != nil {
			s.logger.Error("curve state write-through failed; in-memory state is authoritative",
				zap.String("mint", mint), zap.Error(err))
		}
	}
	return next, nil
}

// SetGraduated latches the instrument read-only. Idempotent: the
// first call wins, repeats are no-ops.
func (s *Store) SetGraduated(ctx context.Context, mint string) (bool, error) {
	e, err := s.get(mint)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	if e.graduated {
		e.mu.Unlock()
		return false, nil
	}
	e.graduated = true
	e.version++
	e.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.PersistGraduated(ctx, mint); err != nil {
			s.logger.Error("graduation write-through failed",
				zap.String("mint", mint), zap.Error(err))
		}
	}
	return true, nil
}
