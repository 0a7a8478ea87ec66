package economy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CoinAmount is an integer amount of in-app currency.
type CoinAmount int64

// UserID identifies an account owner as supplied by the identity provider.
type UserID struct {
	value string
}

// AccountID identifies an economy account.
type AccountID struct {
	value string
}

// TransactionID identifies a committed ledger transaction.
type TransactionID struct {
	value string
}

// IdempotencyKey scopes duplicate detection for retried client requests.
type IdempotencyKey struct {
	value string
}

// ContentID identifies a piece of unlockable content.
type ContentID struct {
	value string
}

// ClaimToken is a single-use token attached to an externally-sourced reward claim.
type ClaimToken struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewContentID validates and normalizes a content id.
func NewContentID(raw string) (ContentID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ContentID{}, fmt.Errorf("%w: empty value", ErrInvalidContentID)
	}
	return ContentID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ContentID) String() string {
	return id.value
}

// NewClaimToken validates and normalizes a claim token.
func NewClaimToken(raw string) (ClaimToken, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ClaimToken{}, fmt.Errorf("%w: empty value", ErrInvalidClaimToken)
	}
	return ClaimToken{value: trimmed}, nil
}

// String returns the normalized token.
func (token ClaimToken) String() string {
	return token.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewCoinAmount validates an amount and ensures it is strictly positive.
func NewCoinAmount(raw int64) (CoinAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCoinAmount)
	}
	return CoinAmount(raw), nil
}

// Int64 returns the raw amount.
func (amount CoinAmount) Int64() int64 {
	return int64(amount)
}

// TransactionKind enumerates ledger transaction kinds.
type TransactionKind string

const (
	TransactionCredit TransactionKind = "credit"
	TransactionDebit  TransactionKind = "debit"
	TransactionRefund TransactionKind = "refund"
)

// ParseTransactionKind validates a stored transaction kind.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case TransactionCredit, TransactionDebit, TransactionRefund:
		return TransactionKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
}

// String returns the stored representation.
func (kind TransactionKind) String() string {
	return string(kind)
}

// TransactionStatus enumerates transaction lifecycle states.
type TransactionStatus string

const (
	TransactionStatusCommitted TransactionStatus = "committed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// ParseTransactionStatus validates a stored transaction status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case TransactionStatusCommitted, TransactionStatusRefunded:
		return TransactionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
}

// String returns the stored representation.
func (status TransactionStatus) String() string {
	return string(status)
}

// Tier enumerates membership levels in ascending order of privilege.
type Tier string

const (
	TierFree Tier = "free"
	TierVIP  Tier = "vip"
	TierVVIP Tier = "vvip"
)

// ParseTier validates a stored tier value.
func ParseTier(raw string) (Tier, error) {
	switch Tier(raw) {
	case TierFree, TierVIP, TierVVIP:
		return Tier(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTier, raw)
}

// String returns the stored representation.
func (tier Tier) String() string {
	return string(tier)
}

// EffectType names a consumable effect, e.g. "memory_boost".
type EffectType string

// String returns the stored representation.
func (effectType EffectType) String() string {
	return string(effectType)
}

// QuotaType names a daily usage counter, e.g. "messages".
type QuotaType string

// String returns the stored representation.
func (quotaType QuotaType) String() string {
	return string(quotaType)
}

// Account is the current-balance projection for one user.
type Account struct {
	AccountID      string
	UserID         string
	BalanceCoins   int64
	CreatedUnixUTC int64
}

// Transaction is one immutable line in the ledger. Once committed its amount
// and kind never change; a refund writes a new compensating transaction that
// references this one.
type Transaction struct {
	TransactionID   string          `json:"transaction_id"`
	AccountID       string          `json:"account_id"`
	Kind            TransactionKind `json:"kind"`
	AmountCoins     int64           `json:"amount_coins"`
	RelatedEntity   string          `json:"related_entity,omitempty"`
	RefundsID       string          `json:"refunds_transaction_id,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Status          string          `json:"status"`
	MetadataJSON    string          `json:"metadata_json"`
	CreatedUnixUTC  int64           `json:"created_unix_utc"`
	RefundedUnixUTC int64           `json:"refunded_unix_utc,omitempty"`
}

// Balance is the wallet view for an account.
type Balance struct {
	BalanceCoins int64 `json:"balance_coins"`
}

// MembershipState tracks the tier, its expiry, and the daily quota counters.
type MembershipState struct {
	AccountID         string           `json:"account_id"`
	Tier              Tier             `json:"tier"`
	ExpiresAtUnixUTC  int64            `json:"expires_at_unix_utc"`
	QuotaUsage        map[string]int64 `json:"quota_usage"`
	QuotaResetUnixUTC int64            `json:"quota_reset_unix_utc"`
}

// EffectGrant is the single active grant for one (account, effect type) pair.
type EffectGrant struct {
	AccountID        string     `json:"account_id"`
	EffectType       EffectType `json:"effect_type"`
	Value            int64      `json:"value"`
	ExpiresAtUnixUTC int64      `json:"expires_at_unix_utc"`
	GrantedUnixUTC   int64      `json:"granted_unix_utc"`
}

// Entitlement is a content-unlock grant. ExpiresAtUnixUTC of zero means
// permanent.
type Entitlement struct {
	AccountID        string `json:"account_id"`
	ContentID        string `json:"content_id"`
	ProductID        string `json:"product_id"`
	Permanent        bool   `json:"permanent"`
	ExpiresAtUnixUTC int64  `json:"expires_at_unix_utc"`
	GrantedUnixUTC   int64  `json:"granted_unix_utc"`
}

// ActiveAt reports whether the entitlement is live at the given instant.
// Permanent grants never expire; timed grants lapse once the clock passes
// ExpiresAtUnixUTC.
func (entitlement Entitlement) ActiveAt(nowUnixUTC int64) bool {
	if entitlement.Permanent {
		return true
	}
	return entitlement.ExpiresAtUnixUTC > nowUnixUTC
}

// ActiveAt reports whether the grant is still in effect at the given instant.
func (grant EffectGrant) ActiveAt(nowUnixUTC int64) bool {
	return grant.ExpiresAtUnixUTC > nowUnixUTC
}

// RewardClaim records a consumed externally-sourced claim token.
type RewardClaim struct {
	AccountID       string `json:"account_id"`
	ClaimToken      string `json:"claim_token"`
	Source          string `json:"source"`
	ClientUnixUTC   int64  `json:"client_unix_utc"`
	VerifiedUnixUTC int64  `json:"verified_unix_utc"`
	RewardCoins     int64  `json:"reward_coins"`
}

// IdempotencyRecord maps a key to the stored outcome of its first execution.
type IdempotencyRecord struct {
	Key              string
	Status           IdempotencyStatus
	ResultSnapshot   []byte
	CreatedUnixUTC   int64
	ExpiresAtUnixUTC int64
}

// IdempotencyStatus enumerates the reservation lifecycle for a key.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCommitted IdempotencyStatus = "committed"
)

// String returns the stored representation.
func (status IdempotencyStatus) String() string {
	return string(status)
}
