package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Config tunes the RPC-backed client.
type Config struct {
	// ValidityWindow is how long a blockhash-bound transaction is
	// treated as submittable before it is considered expired.
	ValidityWindow time.Duration
	SubmitRetries  uint
	RetryDelay     time.Duration
	SkipPreflight  bool
	Commitment     rpc.CommitmentType
}

func DefaultConfig() Config {
	return Config{
		ValidityWindow: 60 * time.Second,
		SubmitRetries:  3,
		RetryDelay:     200 * time.Millisecond,
		SkipPreflight:  true,
		Commitment:     rpc.CommitmentConfirmed,
	}
}

// Client implements Service over a Solana JSON-RPC endpoint.
type Client struct {
	rpc    *rpc.Client
	cfg    Config
	logger *zap.Logger
}

func NewClient(endpoint string, cfg Config, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.ValidityWindow <= 0 {
		cfg.ValidityWindow = def.ValidityWindow
	}
	if cfg.SubmitRetries == 0 {
		cfg.SubmitRetries = def.SubmitRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.Commitment == "" {
		cfg.Commitment = def.Commitment
	}
	return &Client{
		rpc:    rpc.New(endpoint),
		cfg:    cfg,
		logger: logger.Named("chain"),
	}
}

func (c *Client) ValidityBound(ctx context.Context) (Bound, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return Bound{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return Bound{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
		ExpiresAt:            time.Now().Add(c.cfg.ValidityWindow),
	}, nil
}

func (c *Client) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := ValidateTransaction(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryDelay
	policy.MaxInterval = c.cfg.RetryDelay * 10

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying transaction submit", zap.Error(err), zap.Duration("backoff", wait))
	}

	operation := func() (solana.Signature, error) {
		return c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       c.cfg.SkipPreflight,
			PreflightCommitment: c.cfg.Commitment,
		})
	}

	sig, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.cfg.SubmitRetries),
		backoff.WithNotify(notify))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}

	c.logger.Debug("transaction submitted", zap.String("signature", sig.String()))
	return sig, nil
}

func (c *Client) FinalityStatus(ctx context.Context, sig solana.Signature) (Status, error) {
	response, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return Status{}, fmt.Errorf("get signature status: %w", err)
	}
	if response == nil || len(response.Value) == 0 || response.Value[0] == nil {
		return Status{State: FinalityPending}, nil
	}

	st := response.Value[0]
	out := Status{Slot: st.Slot}

	if st.Err != nil {
		out.State = FinalityFailed
		out.Reason = fmt.Sprintf("%v", st.Err)
		return out, nil
	}

	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized, rpc.ConfirmationStatusConfirmed:
		out.State = FinalityConfirmed
	default:
		out.State = FinalityPending
	}
	return out, nil
}

// ValidateTransaction is the pre-submission sanity check: at least one
// signature slot filled, a live blockhash, a non-empty instruction
// set.
func ValidateTransaction(tx *solana.Transaction) error {
	if len(tx.Signatures) == 0 {
		return ErrInvalidSignature
	}
	if tx.Message.RecentBlockhash == (solana.Hash{}) {
		return ErrInvalidBlockhash
	}
	if len(tx.Message.Instructions) == 0 {
		return ErrInvalidInstruction
	}
	return nil
}
