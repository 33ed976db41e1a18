package models

import "time"

// BaseModel replaces gorm.Model for explicit control over timestamps.
type BaseModel struct {
	ID        uint       `gorm:"primarykey"`
	CreatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	DeletedAt *time.Time `gorm:"index"`
}

// Instrument aggregates the immutable curve configuration, the
// persisted copy of the mutable curve state, and the custodial key
// material for one tradable token.
type Instrument struct {
	BaseModel
	Mint           string `gorm:"unique;not null;type:varchar(44)"`
	Creator        string `gorm:"index;not null;type:varchar(44)"`
	ReserveAccount string `gorm:"not null;type:varchar(44)"`
	// ReserveKey is the KMS-encrypted reserve keypair. Never stored
	// decrypted; legacy 64-byte plaintext records are migrated on
	// first load.
	ReserveKey []byte `gorm:"not null;type:bytea"`

	TotalSupply    uint64  `gorm:"not null"`
	InitialPrice   float64 `gorm:"type:decimal(30,18);not null"`
	FinalPrice     float64 `gorm:"type:decimal(30,18);not null"`
	PlatformFeeBps uint64  `gorm:"not null"`
	CreatorFeeBps  uint64  `gorm:"not null"`

	TokensRemaining uint64 `gorm:"not null"`
	TokensSold      uint64 `gorm:"not null;default:0"`
	AmountCollected uint64 `gorm:"not null;default:0"`

	Graduated bool `gorm:"not null;default:false"`
}

// Trade is one confirmed settlement, immutable once written.
type Trade struct {
	BaseModel
	Signature     string     `gorm:"unique;not null;type:varchar(88)"`
	Mint          string     `gorm:"index;not null;type:varchar(44)"`
	Trader        string     `gorm:"index;not null;type:varchar(44)"`
	Direction     string     `gorm:"not null;type:varchar(4)"`
	GrossAmount   uint64     `gorm:"not null"`
	PlatformFee   uint64     `gorm:"not null"`
	CreatorFee    uint64     `gorm:"not null"`
	TokenDelta    uint64     `gorm:"not null"`
	CurrencyDelta int64      `gorm:"not null"`
	ExecutedAt    time.Time  `gorm:"index;not null"`
	BlockTime     *time.Time `gorm:"index"`
}

// ReferralRecord tracks a wallet's referrer link and cumulative
// commission earnings per level. The referrer is set at most once and
// never reassigned.
type ReferralRecord struct {
	BaseModel
	Wallet        string `gorm:"unique;not null;type:varchar(44)"`
	Referrer      string `gorm:"index;type:varchar(44)"`
	Level1Earned  uint64 `gorm:"not null;default:0"`
	Level2Earned  uint64 `gorm:"not null;default:0"`
	Level3Earned  uint64 `gorm:"not null;default:0"`
	LifetimeTotal uint64 `gorm:"not null;default:0"`
}
