// Package settlement runs the two-phase trade handshake: a quote is
// priced and reserved, an unsigned transaction is built and handed to
// the trader, the trader's signed copy is verified byte-for-byte
// against the built one, the custodial reserve counter-signs, and the
// transaction is submitted and polled to a terminal state. Curve state
// mutates exactly once, on confirmation; every other exit releases the
// reservation.
package settlement

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kairosdex/launchpad/internal/bookkeeping"
	"github.com/kairosdex/launchpad/internal/chain"
	"github.com/kairosdex/launchpad/internal/curve"
	"github.com/kairosdex/launchpad/internal/metrics"
	"github.com/kairosdex/launchpad/internal/state"
	"github.com/kairosdex/launchpad/internal/storage/models"
)

// State of a settlement ticket. Terminal states are StateConfirmed,
// StateFailed, and StateExpired.
type State string

const (
	StateQuoted        State = "QUOTED"
	StateBuilt         State = "BUILT"
	StateUserSigned    State = "USER_SIGNED"
	StateCustodySigned State = "CUSTODY_SIGNED"
	StateSubmitted     State = "SUBMITTED"
	StateConfirmed     State = "CONFIRMED"
	StateFailed        State = "FAILED"
	StateExpired       State = "EXPIRED"
)

func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateExpired
}

// GraduationChecker is notified after every confirmed buy.
type GraduationChecker interface {
	Evaluate(ctx context.Context, mint string) error
}

// Config tunes the coordinator's timing.
type Config struct {
	// PollInterval between finality checks of a submitted transaction.
	PollInterval time.Duration
	// PollTimeout caps how long a submitted transaction is polled
	// before the single authoritative re-check.
	PollTimeout time.Duration
	// ReserveRetries bounds the snapshot/quote/reserve loop when
	// concurrent trades keep bumping the version.
	ReserveRetries int
	// JanitorInterval between sweeps of expired and stale tickets.
	JanitorInterval time.Duration
	// RetainTerminal keeps finished tickets queryable for this long.
	RetainTerminal time.Duration
}

func (c *Config) normalize() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 90 * time.Second
	}
	if c.ReserveRetries <= 0 {
		c.ReserveRetries = 5
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = 15 * time.Second
	}
	if c.RetainTerminal <= 0 {
		c.RetainTerminal = 10 * time.Minute
	}
}

// ticket is the in-flight record of one settlement. All access goes
// through the coordinator's lock.
type ticket struct {
	id        string
	mint      string
	trader    solana.PublicKey
	direction state.Direction
	st        State

	tokensDelta uint64 // tokens bought or sold
	gross       uint64 // total currency the paying side moves
	net         uint64 // currency the curve gains (buy) or trader receives (sell)
	platformFee uint64
	creatorFee  uint64
	avgPrice    float64

	tx     *solana.Transaction
	digest [32]byte
	bound  chain.Bound

	signature solana.Signature
	reason    string

	// claimed marks a BUILT ticket as owned by an in-flight Submit so
	// a duplicate submit (client retry) cannot run the handshake
	// twice. Cleared again if validation sends the ticket back to the
	// trader.
	claimed bool

	createdAt   time.Time
	updatedAt   time.Time
	submittedAt time.Time
}

// View is the externally visible snapshot of a ticket.
type View struct {
	ID          string    `json:"id"`
	Mint        string    `json:"mint"`
	Trader      string    `json:"trader"`
	Direction   string    `json:"direction"`
	State       string    `json:"state"`
	TokensDelta uint64    `json:"tokens"`
	GrossAmount uint64    `json:"gross_amount"`
	NetAmount   uint64    `json:"net_amount"`
	PlatformFee uint64    `json:"platform_fee"`
	CreatorFee  uint64    `json:"creator_fee"`
	AvgPrice    float64   `json:"avg_price"`
	Transaction string    `json:"transaction,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Coordinator owns the settlement state machine.
type Coordinator struct {
	cfg      Config
	states   *state.Store
	chain    chain.Service
	builder  *Builder
	recorder *bookkeeping.Recorder
	cascade  *bookkeeping.Cascade
	grad     GraduationChecker
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu          sync.RWMutex
	instruments map[string]Instrument
	tickets     map[string]*ticket
}

func NewCoordinator(cfg Config, states *state.Store, ledger chain.Service, builder *Builder, recorder *bookkeeping.Recorder, cascade *bookkeeping.Cascade, grad GraduationChecker, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	cfg.normalize()
	return &Coordinator{
		cfg:         cfg,
		states:      states,
		chain:       ledger,
		builder:     builder,
		recorder:    recorder,
		cascade:     cascade,
		grad:        grad,
		metrics:     m,
		logger:      logger.Named("settlement"),
		instruments: make(map[string]Instrument),
		tickets:     make(map[string]*ticket),
	}
}

// RegisterInstrument makes a mint tradeable through this coordinator.
func (c *Coordinator) RegisterInstrument(mint string, inst Instrument) {
	c.mu.Lock()
	c.instruments[mint] = inst
	c.mu.Unlock()
}

func (c *Coordinator) instrument(mint string) (Instrument, error) {
	c.mu.RLock()
	inst, ok := c.instruments[mint]
	c.mu.RUnlock()
	if !ok {
		return Instrument{}, state.ErrUnknownInstrument
	}
	return inst, nil
}

// QuoteBuy prices a buy, reserves its inventory, and builds the
// unsigned transaction for the trader to sign. amount is in smallest
// currency units and includes fees.
func (c *Coordinator) QuoteBuy(ctx context.Context, mint string, trader solana.PublicKey, amount uint64) (View, error) {
	inst, err := c.instrument(mint)
	if err != nil {
		return View{}, err
	}

	for attempt := 0; attempt < c.cfg.ReserveRetries; attempt++ {
		snap, err := c.states.Snapshot(mint)
		if err != nil {
			return View{}, c.countQuote("buy", err)
		}
		if snap.Graduated {
			return View{}, c.countQuote("buy", state.ErrInstrumentGraduated)
		}

		// Quote against the unreserved remainder so two in-flight buys
		// cannot promise the same tokens.
		visible := snap.State
		visible.TokensRemaining = snap.Available
		q, err := curve.QuoteBuy(snap.Config, visible, amount)
		if err != nil {
			return View{}, c.countQuote("buy", err)
		}

		if err := c.states.Reserve(mint, state.DirectionBuy, q.TokensOut, snap.Version); err != nil {
			if errors.Is(err, state.ErrVersionConflict) {
				continue
			}
			return View{}, c.countQuote("buy", err)
		}

		view, err := c.open(ctx, inst, mint, trader, state.DirectionBuy, q.TokensOut,
			q.GrossCurrencyIn, q.NetCurrencyIn, q.PlatformFee, q.CreatorFee, q.AvgPrice,
			func(bound chain.Bound) (*solana.Transaction, [32]byte, error) {
				return c.builder.BuildBuy(inst, trader, q, bound)
			})
		if err != nil {
			c.states.Release(mint, state.DirectionBuy, q.TokensOut)
			return View{}, c.countQuote("buy", err)
		}
		return view, c.countQuote("buy", nil)
	}
	return View{}, c.countQuote("buy", state.ErrVersionConflict)
}

// QuoteSell prices a sell of tokens token base units, reserves them,
// and builds the unsigned transaction.
func (c *Coordinator) QuoteSell(ctx context.Context, mint string, trader solana.PublicKey, tokens uint64) (View, error) {
	inst, err := c.instrument(mint)
	if err != nil {
		return View{}, err
	}

	for attempt := 0; attempt < c.cfg.ReserveRetries; attempt++ {
		snap, err := c.states.Snapshot(mint)
		if err != nil {
			return View{}, c.countQuote("sell", err)
		}
		if snap.Graduated {
			return View{}, c.countQuote("sell", state.ErrInstrumentGraduated)
		}

		visible := snap.State
		visible.TokensSold = snap.SellableSold
		q, err := curve.QuoteSell(snap.Config, visible, tokens)
		if err != nil {
			return View{}, c.countQuote("sell", err)
		}

		if err := c.states.Reserve(mint, state.DirectionSell, tokens, snap.Version); err != nil {
			if errors.Is(err, state.ErrVersionConflict) {
				continue
			}
			return View{}, c.countQuote("sell", err)
		}

		view, err := c.open(ctx, inst, mint, trader, state.DirectionSell, tokens,
			q.GrossCurrencyOut, q.CurrencyOut, q.PlatformFee, q.CreatorFee, q.AvgPrice,
			func(bound chain.Bound) (*solana.Transaction, [32]byte, error) {
				return c.builder.BuildSell(inst, trader, tokens, q, bound)
			})
		if err != nil {
			c.states.Release(mint, state.DirectionSell, tokens)
			return View{}, c.countQuote("sell", err)
		}
		return view, c.countQuote("sell", nil)
	}
	return View{}, c.countQuote("sell", state.ErrVersionConflict)
}

func (c *Coordinator) countQuote(direction string, err error) error {
	if c.metrics != nil {
		result := "ok"
		if err != nil {
			result = "rejected"
		}
		c.metrics.QuotesTotal.WithLabelValues(direction, result).Inc()
	}
	return err
}

// open builds the transaction against a fresh validity bound and files
// the ticket. The reservation is already held; the caller releases it
// if open fails.
func (c *Coordinator) open(ctx context.Context, inst Instrument, mint string, trader solana.PublicKey, dir state.Direction, tokens, gross, net, platformFee, creatorFee uint64, avg float64, build func(chain.Bound) (*solana.Transaction, [32]byte, error)) (View, error) {
	bound, err := c.chain.ValidityBound(ctx)
	if err != nil {
		return View{}, fmt.Errorf("validity bound: %w", err)
	}
	tx, digest, err := build(bound)
	if err != nil {
		return View{}, err
	}

	now := time.Now()
	t := &ticket{
		id:          uuid.NewString(),
		mint:        mint,
		trader:      trader,
		direction:   dir,
		st:          StateBuilt,
		tokensDelta: tokens,
		gross:       gross,
		net:         net,
		platformFee: platformFee,
		creatorFee:  creatorFee,
		avgPrice:    avg,
		tx:          tx,
		digest:      digest,
		bound:       bound,
		createdAt:   now,
		updatedAt:   now,
	}

	c.mu.Lock()
	c.tickets[t.id] = t
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.InflightGauge.Inc()
	}

	c.logger.Info("settlement opened",
		zap.String("id", t.id),
		zap.String("mint", mint),
		zap.String("direction", dir.String()),
		zap.Uint64("tokens", tokens),
		zap.Uint64("gross", gross),
		zap.Time("expires_at", bound.ExpiresAt))
	return c.viewLocked(t), nil
}

// Submit accepts the trader-signed transaction, verifies it against
// the built one, counter-signs with the reserve key, and sends it to
// the ledger. On success the ticket moves to SUBMITTED and finality
// polling starts in the background.
func (c *Coordinator) Submit(ctx context.Context, id string, rawTx []byte) (View, error) {
	c.mu.Lock()
	t, ok := c.tickets[id]
	if !ok {
		c.mu.Unlock()
		return View{}, ErrUnknownSettlement
	}
	// Claim the ticket before releasing the lock: a concurrent
	// duplicate submit must not pass this guard, or the trade would
	// be co-signed, submitted, and applied twice.
	if t.st != StateBuilt || t.claimed {
		view := c.viewLocked(t)
		c.mu.Unlock()
		return view, ErrInvalidState
	}
	t.claimed = true
	c.mu.Unlock()

	if time.Now().After(t.bound.ExpiresAt) {
		c.release(t, StateExpired, ErrTransactionExpired.Error())
		return c.view(id), ErrTransactionExpired
	}

	signed, err := DecodeTransaction(rawTx)
	if err != nil {
		c.unclaim(t)
		return c.view(id), fmt.Errorf("%w: %v", ErrUserSignatureRejected, err)
	}

	// The signed copy must be the exact transaction we built. Comparing
	// message digests catches swapped accounts, amounts, or blockhash.
	digest, err := MessageDigest(signed)
	if err != nil {
		c.unclaim(t)
		return c.view(id), fmt.Errorf("%w: %v", ErrUserSignatureRejected, err)
	}
	if digest != t.digest {
		c.logger.Warn("transaction mismatch on submit", zap.String("id", id))
		c.unclaim(t)
		return c.view(id), ErrTransactionMismatch
	}

	if err := verifyUserSignature(signed, t.trader); err != nil {
		c.unclaim(t)
		return c.view(id), err
	}
	c.transition(t, StateUserSigned, "")

	inst, err := c.instrument(t.mint)
	if err != nil {
		c.release(t, StateFailed, err.Error())
		return c.view(id), err
	}
	if err := inst.Signer.CoSign(ctx, signed); err != nil {
		c.release(t, StateFailed, err.Error())
		return c.view(id), fmt.Errorf("%w: %v", ErrCustodySignatureRejected, err)
	}
	c.transition(t, StateCustodySigned, "")

	sig, err := c.chain.Submit(ctx, signed)
	if err != nil {
		c.release(t, StateFailed, err.Error())
		return c.view(id), err
	}

	c.mu.Lock()
	t.tx = signed
	t.signature = sig
	t.st = StateSubmitted
	t.submittedAt = time.Now()
	t.updatedAt = t.submittedAt
	c.mu.Unlock()
	c.logger.Info("settlement submitted",
		zap.String("id", id),
		zap.String("signature", sig.String()))

	go c.awaitFinality(t)
	return c.view(id), nil
}

// verifyUserSignature checks that the trader's required-signer slot
// carries a valid signature over the message bytes.
func verifyUserSignature(tx *solana.Transaction, trader solana.PublicKey) error {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserSignatureRejected, err)
	}

	signers := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < signers && i < len(tx.Message.AccountKeys); i++ {
		if !tx.Message.AccountKeys[i].Equals(trader) {
			continue
		}
		if i >= len(tx.Signatures) {
			return ErrUserSignatureRejected
		}
		sig := tx.Signatures[i]
		if sig == (solana.Signature{}) {
			return ErrUserSignatureRejected
		}
		if !ed25519.Verify(ed25519.PublicKey(trader[:]), msg, sig[:]) {
			return ErrUserSignatureRejected
		}
		return nil
	}
	return fmt.Errorf("%w: trader is not a required signer", ErrUserSignatureRejected)
}

// awaitFinality polls the ledger until the transaction is terminal.
// If the polling window closes without an answer, one final
// authoritative check decides: still nothing means the transaction
// died with its blockhash and the reservation is returned.
func (c *Coordinator) awaitFinality(t *ticket) {
	// The blockhash bound caps how long the transaction can land, so
	// polling past it only delays the verdict.
	window := time.Until(t.bound.ExpiresAt)
	if window <= 0 || window > c.cfg.PollTimeout {
		window = c.cfg.PollTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	tick := time.NewTicker(c.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			// Authoritative re-check outside the expired poll context.
			final, cancelFinal := context.WithTimeout(context.Background(), 10*time.Second)
			status, err := c.chain.FinalityStatus(final, t.signature)
			cancelFinal()
			if err == nil && status.State == chain.FinalityConfirmed {
				c.confirm(t)
				return
			}
			if err == nil && status.State == chain.FinalityFailed {
				c.release(t, StateFailed, status.Reason)
				return
			}
			c.release(t, StateExpired, ErrConfirmationTimeout.Error())
			return
		case <-tick.C:
			status, err := c.chain.FinalityStatus(ctx, t.signature)
			if err != nil {
				c.logger.Warn("finality poll failed",
					zap.String("id", t.id), zap.Error(err))
				continue
			}
			switch status.State {
			case chain.FinalityConfirmed:
				c.confirm(t)
				return
			case chain.FinalityFailed:
				c.release(t, StateFailed, status.Reason)
				return
			}
		}
	}
}

// confirm is the single success path: curve state applies exactly
// once, then the post-trade bookkeeping runs. Bookkeeping failures are
// advisory; the trade is already final on the ledger.
func (c *Coordinator) confirm(t *ticket) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	currencyDelta := int64(t.net)
	if t.direction == state.DirectionSell {
		currencyDelta = -int64(t.gross)
	}
	if _, err := c.states.Apply(ctx, t.mint, t.direction, t.tokensDelta, currencyDelta); err != nil {
		// The ledger says confirmed but the curve refused the apply.
		// This is an operator problem, not something to retry.
		c.logger.Error("curve apply failed for confirmed trade",
			zap.String("id", t.id), zap.Error(err))
		c.release(t, StateFailed, "curve apply failed: "+err.Error())
		return
	}
	if !c.finish(t, StateConfirmed, "") {
		return
	}

	trade := &models.Trade{
		Signature:     t.signature.String(),
		Mint:          t.mint,
		Trader:        t.trader.String(),
		Direction:     t.direction.String(),
		GrossAmount:   t.gross,
		PlatformFee:   t.platformFee,
		CreatorFee:    t.creatorFee,
		TokenDelta:    t.tokensDelta,
		CurrencyDelta: currencyDelta,
		ExecutedAt:    time.Now().UTC(),
	}
	if c.recorder != nil {
		_ = c.recorder.RecordTrade(ctx, trade)
	}
	if c.cascade != nil {
		if err := c.cascade.Distribute(ctx, trade.Trader, t.platformFee); err != nil {
			c.logger.Warn("commission cascade incomplete",
				zap.String("id", t.id), zap.Error(err))
		}
	}
	if c.grad != nil && t.direction == state.DirectionBuy {
		if err := c.grad.Evaluate(ctx, t.mint); err != nil {
			c.logger.Warn("graduation check failed",
				zap.String("id", t.id), zap.Error(err))
		}
	}
}

// release moves a ticket to a terminal failure state and hands its
// reservation back to the curve. The reservation is returned only if
// this call actually performed the transition, so two racing finishers
// cannot release it twice.
func (c *Coordinator) release(t *ticket, st State, reason string) {
	if c.finish(t, st, reason) {
		c.states.Release(t.mint, t.direction, t.tokensDelta)
	}
}

// finish moves a ticket to a terminal state. Terminal states are
// sticky: once a ticket is CONFIRMED, FAILED, or EXPIRED it never
// changes again. Reports whether this call performed the transition.
func (c *Coordinator) finish(t *ticket, st State, reason string) bool {
	c.mu.Lock()
	already := t.st.Terminal()
	if !already {
		t.st = st
		t.reason = reason
		t.updatedAt = time.Now()
	}
	c.mu.Unlock()
	if already {
		return false
	}

	if c.metrics != nil {
		c.metrics.InflightGauge.Dec()
		c.metrics.SettlementsTotal.WithLabelValues(string(st)).Inc()
		if !t.submittedAt.IsZero() {
			c.metrics.SettlementDuration.Observe(time.Since(t.submittedAt).Seconds())
		}
	}
	c.logger.Info("settlement finished",
		zap.String("id", t.id),
		zap.String("state", string(st)),
		zap.String("reason", reason))
	return true
}

func (c *Coordinator) transition(t *ticket, st State, reason string) {
	c.mu.Lock()
	if !t.st.Terminal() {
		t.st = st
		t.reason = reason
		t.updatedAt = time.Now()
	}
	c.mu.Unlock()
}

// unclaim hands a BUILT ticket back to the trader after a validation
// failure so a corrected submit can still go through.
func (c *Coordinator) unclaim(t *ticket) {
	c.mu.Lock()
	t.claimed = false
	c.mu.Unlock()
}

// View returns the current snapshot of a ticket.
func (c *Coordinator) View(id string) (View, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tickets[id]
	if !ok {
		return View{}, ErrUnknownSettlement
	}
	return c.viewLocked(t), nil
}

func (c *Coordinator) view(id string) View {
	v, _ := c.View(id)
	return v
}

// viewLocked assumes the coordinator lock (read or write) is held.
func (c *Coordinator) viewLocked(t *ticket) View {
	v := View{
		ID:          t.id,
		Mint:        t.mint,
		Trader:      t.trader.String(),
		Direction:   t.direction.String(),
		State:       string(t.st),
		TokensDelta: t.tokensDelta,
		GrossAmount: t.gross,
		NetAmount:   t.net,
		PlatformFee: t.platformFee,
		CreatorFee:  t.creatorFee,
		AvgPrice:    t.avgPrice,
		Reason:      t.reason,
		ExpiresAt:   t.bound.ExpiresAt,
		CreatedAt:   t.createdAt,
		UpdatedAt:   t.updatedAt,
	}
	if t.st == StateBuilt {
		if raw, err := t.tx.MarshalBinary(); err == nil {
			v.Transaction = base64.StdEncoding.EncodeToString(raw)
		}
	}
	if t.signature != (solana.Signature{}) {
		v.Signature = t.signature.String()
	}
	return v
}

// Run sweeps tickets until ctx is done: BUILT tickets past their
// validity bound expire and release their reservation, terminal
// tickets age out of the map.
func (c *Coordinator) Run(ctx context.Context) error {
	tick := time.NewTicker(c.cfg.JanitorInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			c.sweep()
		}
	}
}

func (c *Coordinator) sweep() {
	now := time.Now()

	c.mu.Lock()
	var expired []*ticket
	for id, t := range c.tickets {
		switch {
		// Claimed tickets belong to an in-flight Submit; its own
		// expiry check decides their fate.
		case t.st == StateBuilt && !t.claimed && now.After(t.bound.ExpiresAt):
			expired = append(expired, t)
		case t.st.Terminal() && now.Sub(t.updatedAt) > c.cfg.RetainTerminal:
			delete(c.tickets, id)
		}
	}
	c.mu.Unlock()

	for _, t := range expired {
		c.release(t, StateExpired, ErrTransactionExpired.Error())
	}
}
