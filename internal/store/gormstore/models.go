package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table: one row per user with the
// current-balance projection.
type Account struct {
	AccountID    string    `gorm:"type:uuid;primaryKey"`
	UserID       string    `gorm:"not null;index:idx_accounts_user,unique"`
	BalanceCoins int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// Transaction mirrors the append-only transactions table. The
// (account_id, idempotency_key) uniqueness backstops the guard so a replayed
// write can never produce a second committed row.
type Transaction struct {
	TransactionID  string         `gorm:"type:uuid;primaryKey"`
	AccountID      string         `gorm:"type:uuid;not null;index:idx_transactions_account_created,priority:1;index:uniq_transactions_account_idem,unique,priority:1"`
	Kind           string         `gorm:"not null"`
	AmountCoins    int64          `gorm:"not null"`
	RelatedEntity  string         `gorm:""`
	RefundsID      *string        `gorm:"type:uuid"`
	IdempotencyKey string         `gorm:"not null;index:uniq_transactions_account_idem,unique,priority:2"`
	Status         string         `gorm:"not null"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_transactions_account_created,priority:2"`
	RefundedAt     *time.Time     `gorm:""`
}

func (Transaction) TableName() string { return "transactions" }

// IdempotencyRecord mirrors the idempotency_records table.
type IdempotencyRecord struct {
	Key            string         `gorm:"primaryKey"`
	Status         string         `gorm:"not null"`
	ResultSnapshot datatypes.JSON `gorm:""`
	CreatedAt      time.Time      `gorm:"not null"`
	ExpiresAt      time.Time      `gorm:"not null;index:idx_idempotency_expires"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// Membership mirrors the memberships table.
type Membership struct {
	AccountID    string         `gorm:"type:uuid;primaryKey"`
	Tier         string         `gorm:"not null"`
	ExpiresAt    *time.Time     `gorm:""`
	QuotaUsage   datatypes.JSON `gorm:"not null"`
	QuotaResetAt *time.Time     `gorm:""`
	UpdatedAt    time.Time      `gorm:"not null"`
}

func (Membership) TableName() string { return "memberships" }

// EffectGrant mirrors the effect_grants table: at most one row per
// (account, effect type).
type EffectGrant struct {
	AccountID  string    `gorm:"type:uuid;primaryKey"`
	EffectType string    `gorm:"primaryKey"`
	Value      int64     `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null"`
	GrantedAt  time.Time `gorm:"not null"`
}

func (EffectGrant) TableName() string { return "effect_grants" }

// Entitlement mirrors the entitlements table; the composite primary key is
// the uniqueness invariant on (account, content).
type Entitlement struct {
	AccountID string     `gorm:"type:uuid;primaryKey"`
	ContentID string     `gorm:"primaryKey"`
	ProductID string     `gorm:"not null"`
	Permanent bool       `gorm:"not null"`
	ExpiresAt *time.Time `gorm:""`
	GrantedAt time.Time  `gorm:"not null"`
}

func (Entitlement) TableName() string { return "entitlements" }

// RewardClaim mirrors the reward_claims table; the token primary key makes
// consumption single-use.
type RewardClaim struct {
	ClaimToken      string    `gorm:"primaryKey"`
	AccountID       string    `gorm:"type:uuid;not null;index:idx_reward_claims_account"`
	Source          string    `gorm:"not null"`
	ClientTimestamp time.Time `gorm:"not null"`
	VerifiedAt      time.Time `gorm:"not null"`
	RewardCoins     int64     `gorm:"not null"`
}

func (RewardClaim) TableName() string { return "reward_claims" }
