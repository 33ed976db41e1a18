package custody

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Wallet is a user-controlled signing key, used by tests and tooling
// to play the trader side of the two-phase handshake. The production
// trader signs in their own wallet; this mirrors that behavior.
type Wallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey

	mu       sync.Mutex
	ataCache map[string]solana.PublicKey
}

// NewWallet builds a wallet from a base58-encoded 64-byte private key.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != rawKeyLen {
		return nil, fmt.Errorf("invalid private key length: expected %d bytes, got %d", rawKeyLen, len(privateKeyBytes))
	}
	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
		ataCache:   make(map[string]solana.PublicKey),
	}, nil
}

// GenerateWallet creates a fresh keypair.
func GenerateWallet() *Wallet {
	acc := solana.NewWallet()
	return &Wallet{
		PrivateKey: acc.PrivateKey,
		PublicKey:  acc.PublicKey(),
		ataCache:   make(map[string]solana.PublicKey),
	}
}

// SignTransaction adds this wallet's signature, leaving other required
// signature slots empty for the counterparty.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.PublicKey) {
			return &w.PrivateKey
		}
		return nil
	})
	return err
}

// ATA returns the associated token account for the given mint, cached
// after the first derivation.
func (w *Wallet) ATA(mint solana.PublicKey) (solana.PublicKey, error) {
	mintStr := mint.String()
	w.mu.Lock()
	defer w.mu.Unlock()
	if ata, ok := w.ataCache[mintStr]; ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w.ataCache[mintStr] = ata
	return ata, nil
}

func (w *Wallet) String() string {
	return w.PublicKey.String()
}
