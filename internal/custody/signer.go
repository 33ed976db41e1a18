package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

var ErrWrongReserveKey = errors.New("decrypted key does not match reserve account")

// Signer counter-signs settlement transactions with an instrument's
// custodial reserve key. It holds only the ciphertext; the private key
// exists in memory for the span of a single CoSign call.
type Signer struct {
	keys       KeyService
	reserve    solana.PublicKey
	ciphertext []byte
	logger     *zap.Logger
}

func NewSigner(keys KeyService, reserve solana.PublicKey, ciphertext []byte, logger *zap.Logger) *Signer {
	return &Signer{
		keys:       keys,
		reserve:    reserve,
		ciphertext: append([]byte(nil), ciphertext...),
		logger:     logger.Named("custody"),
	}
}

// Reserve returns the custodial reserve account this signer controls.
func (s *Signer) Reserve() solana.PublicKey {
	return s.reserve
}

// CoSign decrypts the reserve key, adds the custodial signature to the
// transaction, and zeroes the plaintext before returning. A decrypt
// failure is terminal for the settlement; there is no unencrypted
// fallback.
func (s *Signer) CoSign(ctx context.Context, tx *solana.Transaction) error {
	plaintext, err := s.keys.Decrypt(ctx, s.ciphertext)
	if err != nil {
		return fmt.Errorf("co-sign: %w", err)
	}
	defer Zero(plaintext)

	if len(plaintext) != rawKeyLen {
		return fmt.Errorf("co-sign: %w: unexpected key length %d", ErrDecryptFailed, len(plaintext))
	}
	key := solana.PrivateKey(plaintext)
	if !key.PublicKey().Equals(s.reserve) {
		return fmt.Errorf("co-sign: %w", ErrWrongReserveKey)
	}

	if _, err := tx.PartialSign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(s.reserve) {
			return &key
		}
		return nil
	}); err != nil {
		return fmt.Errorf("co-sign: partial sign: %w", err)
	}

	s.logger.Debug("custodial signature added",
		zap.String("reserve", s.reserve.String()))
	return nil
}
