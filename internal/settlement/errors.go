package settlement

import "errors"

var (
	// ErrUnknownSettlement means the ticket id does not exist or was
	// already garbage-collected.
	ErrUnknownSettlement = errors.New("unknown settlement")

	// ErrInvalidState means the requested transition is not legal from
	// the ticket's current state.
	ErrInvalidState = errors.New("settlement is not in a state that allows this operation")

	// ErrTransactionExpired means the validity window closed before the
	// user returned a signed transaction.
	ErrTransactionExpired = errors.New("transaction validity window expired")

	// ErrTransactionMismatch means the returned transaction is not
	// byte-identical to the one that was built for this ticket.
	ErrTransactionMismatch = errors.New("returned transaction does not match the built transaction")

	// ErrUserSignatureRejected means the trader's signature is missing
	// or does not verify against the transaction message.
	ErrUserSignatureRejected = errors.New("user signature rejected")

	// ErrCustodySignatureRejected means the reserve key could not
	// counter-sign; the settlement is terminal.
	ErrCustodySignatureRejected = errors.New("custodial signature rejected")

	// ErrConfirmationTimeout means the ledger never reported a terminal
	// state inside the polling window, including the final re-check.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
)
