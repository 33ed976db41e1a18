// Package custody owns the platform-held reserve keys. Key material
// lives encrypted on the instrument record and is decrypted only for
// the duration of a signing step; plaintext never leaves this package
// and is zeroed before control returns.
package custody

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

var (
	ErrEncryptFailed = errors.New("key encryption failed")
	ErrDecryptFailed = errors.New("key decryption failed")
)

// KeyService is the key-management collaborator: an opaque
// encrypt/decrypt capability. IsLegacyUnencrypted exists only so old
// pre-KMS records can be detected and migrated; new records are never
// written unencrypted and there is no silent plaintext fallback.
type KeyService interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	IsLegacyUnencrypted(record []byte) bool
}

// rawKeyLen is the length of an ed25519 keypair as stored by the
// legacy scheme (raw, unencrypted).
const rawKeyLen = 64

// AESKeyService is an AES-256-GCM KeyService sealed with a master
// secret. It stands in for an external KMS in single-node deployments
// and satisfies the same contract.
type AESKeyService struct {
	aead cipher.AEAD
}

func NewAESKeyService(masterSecret []byte) (*AESKeyService, error) {
	if len(masterSecret) == 0 {
		return nil, fmt.Errorf("%w: empty master secret", ErrEncryptFailed)
	}
	key := sha256.Sum256(masterSecret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	return &AESKeyService{aead: aead}, nil
}

func (k *AESKeyService) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	return k.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (k *AESKeyService) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < k.aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptFailed)
	}
	nonce, sealed := ciphertext[:k.aead.NonceSize()], ciphertext[k.aead.NonceSize():]
	plaintext, err := k.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}

// IsLegacyUnencrypted reports whether a stored record looks like a
// raw pre-KMS keypair: exactly 64 bytes, which a GCM ciphertext
// (nonce + payload + tag for a 64-byte key) can never be.
func (k *AESKeyService) IsLegacyUnencrypted(record []byte) bool {
	return len(record) == rawKeyLen
}

// MigrateLegacy re-encrypts a legacy plaintext record. It is the only
// path that accepts unencrypted key material.
func MigrateLegacy(ctx context.Context, ks KeyService, record []byte) ([]byte, error) {
	if !ks.IsLegacyUnencrypted(record) {
		return nil, fmt.Errorf("%w: record is not a legacy plaintext key", ErrEncryptFailed)
	}
	sealed, err := ks.Encrypt(ctx, record)
	if err != nil {
		return nil, err
	}
	Zero(record)
	return sealed, nil
}

// Zero overwrites key material in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
