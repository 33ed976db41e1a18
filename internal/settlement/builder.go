package settlement

import (
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/kairosdex/launchpad/internal/chain"
	"github.com/kairosdex/launchpad/internal/curve"
	"github.com/kairosdex/launchpad/internal/custody"
)

// Instrument is the settlement-side view of a launched token: the
// accounts money and tokens move between, plus the custodial signer
// for the reserve.
type Instrument struct {
	Mint    solana.PublicKey
	Creator solana.PublicKey
	Reserve solana.PublicKey
	Signer  *custody.Signer
}

// Builder assembles unsigned settlement transactions. Every trade is
// one atomic transaction touching both legs: currency between trader,
// reserve, and fee accounts, and tokens between the reserve's and the
// trader's associated token accounts. The trader is always the fee
// payer and always a required signer, as is the reserve.
type Builder struct {
	platformFees solana.PublicKey
}

func NewBuilder(platformFeeAccount solana.PublicKey) *Builder {
	return &Builder{platformFees: platformFeeAccount}
}

// BuildBuy assembles the transaction for a quoted buy. The trader pays
// the gross amount: net to the reserve, fees to the platform and
// creator accounts, and the reserve releases the purchased tokens.
func (b *Builder) BuildBuy(inst Instrument, trader solana.PublicKey, q *curve.BuyQuote, bound chain.Bound) (*solana.Transaction, [32]byte, error) {
	reserveATA, traderATA, err := tokenAccounts(inst, trader)
	if err != nil {
		return nil, [32]byte{}, err
	}

	instrs := []solana.Instruction{
		system.NewTransferInstruction(q.NetCurrencyIn, trader, inst.Reserve).Build(),
	}
	if q.PlatformFee > 0 {
		instrs = append(instrs, system.NewTransferInstruction(q.PlatformFee, trader, b.platformFees).Build())
	}
	if q.CreatorFee > 0 {
		instrs = append(instrs, system.NewTransferInstruction(q.CreatorFee, trader, inst.Creator).Build())
	}
	instrs = append(instrs, token.NewTransferInstruction(
		q.TokensOut, reserveATA, traderATA, inst.Reserve, nil,
	).Build())

	return assemble(instrs, bound, trader)
}

// BuildSell assembles the transaction for a quoted sell. The reserve
// pays the trader their net proceeds first, then the trader returns
// tokens to the reserve, with fees paid onward last.
func (b *Builder) BuildSell(inst Instrument, trader solana.PublicKey, tokensIn uint64, q *curve.SellQuote, bound chain.Bound) (*solana.Transaction, [32]byte, error) {
	reserveATA, traderATA, err := tokenAccounts(inst, trader)
	if err != nil {
		return nil, [32]byte{}, err
	}

	instrs := []solana.Instruction{
		system.NewTransferInstruction(q.CurrencyOut, inst.Reserve, trader).Build(),
		token.NewTransferInstruction(tokensIn, traderATA, reserveATA, trader, nil).Build(),
	}
	if q.PlatformFee > 0 {
		instrs = append(instrs, system.NewTransferInstruction(q.PlatformFee, inst.Reserve, b.platformFees).Build())
	}
	if q.CreatorFee > 0 {
		instrs = append(instrs, system.NewTransferInstruction(q.CreatorFee, inst.Reserve, inst.Creator).Build())
	}

	return assemble(instrs, bound, trader)
}

func tokenAccounts(inst Instrument, trader solana.PublicKey) (reserveATA, traderATA solana.PublicKey, err error) {
	reserveATA, _, err = solana.FindAssociatedTokenAddress(inst.Reserve, inst.Mint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("derive reserve token account: %w", err)
	}
	traderATA, _, err = solana.FindAssociatedTokenAddress(trader, inst.Mint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("derive trader token account: %w", err)
	}
	return reserveATA, traderATA, nil
}

func assemble(instrs []solana.Instruction, bound chain.Bound, payer solana.PublicKey) (*solana.Transaction, [32]byte, error) {
	tx, err := solana.NewTransaction(instrs, bound.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("assemble transaction: %w", err)
	}
	digest, err := MessageDigest(tx)
	if err != nil {
		return nil, [32]byte{}, err
	}
	return tx, digest, nil
}

// MessageDigest hashes the transaction message. Signatures are outside
// the message, so the digest pins the instructions, accounts, and
// blockhash while letting signatures be added.
func MessageDigest(tx *solana.Transaction) ([32]byte, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal transaction message: %w", err)
	}
	return sha256.Sum256(msg), nil
}

// DecodeTransaction parses the wire form of a transaction returned by
// the user's wallet.
func DecodeTransaction(raw []byte) (*solana.Transaction, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}
