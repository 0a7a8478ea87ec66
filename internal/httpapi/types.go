package httpapi

import "encoding/json"

type purchaseCoinsRequest struct {
	PackageID      string         `json:"package_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

type giftRequest struct {
	ToUserID       string         `json:"to_user_id"`
	AmountCoins    int64          `json:"amount_coins"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

type upgradeRequest struct {
	Tier           string         `json:"tier"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

type quotaRequest struct {
	QuotaType string `json:"quota_type"`
}

type effectRequest struct {
	EffectType     string         `json:"effect_type"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

type unlockRequest struct {
	ContentID      string         `json:"content_id"`
	ProductID      string         `json:"product_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

type adClaimRequest struct {
	ClaimToken     string         `json:"claim_token"`
	Source         string         `json:"source"`
	ClientUnixUTC  int64          `json:"client_unix_utc"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

type refundRequest struct {
	TransactionID  string         `json:"transaction_id"`
	Reason         string         `json:"reason"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

type walletResponse struct {
	Balance      int64                `json:"balance_coins"`
	Transactions []transactionPayload `json:"transactions"`
}

type transactionPayload struct {
	TransactionID  string          `json:"transaction_id"`
	Kind           string          `json:"kind"`
	AmountCoins    int64           `json:"amount_coins"`
	RelatedEntity  string          `json:"related_entity,omitempty"`
	RefundsID      string          `json:"refunds_transaction_id,omitempty"`
	Status         string          `json:"status"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}
