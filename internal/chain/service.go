// Package chain is the narrow interface to the external ledger
// service. Consensus and broadcast mechanics are opaque: the
// settlement layer only builds against a validity bound, submits a
// fully signed transaction, and asks about finality.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrSubmissionRejected = errors.New("transaction submission rejected")
	ErrInvalidSignature   = errors.New("invalid transaction signature")
	ErrInvalidBlockhash   = errors.New("invalid blockhash")
	ErrInvalidInstruction = errors.New("invalid instruction")
)

// FinalityState classifies a submitted transaction.
type FinalityState int

const (
	FinalityPending FinalityState = iota
	FinalityConfirmed
	FinalityFailed
)

func (f FinalityState) String() string {
	switch f {
	case FinalityConfirmed:
		return "confirmed"
	case FinalityFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Status is the ledger's answer about a submitted transaction.
type Status struct {
	State  FinalityState
	Reason string
	Slot   uint64
}

// Bound is the validity window a transaction is built against. The
// transaction dies with its blockhash; ExpiresAt is the local estimate
// of when that happens.
type Bound struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
	ExpiresAt            time.Time
}

// Service is the ledger collaborator consumed by the settlement
// coordinator.
type Service interface {
	ValidityBound(ctx context.Context) (Bound, error)
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	FinalityStatus(ctx context.Context, sig solana.Signature) (Status, error)
}
