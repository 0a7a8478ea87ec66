package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumichat/economy/pkg/economy"
)

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type errorMapping struct {
	status int
	code   string
}

var domainErrorMappings = []struct {
	target  error
	mapping errorMapping
}{
	{economy.ErrInsufficientBalance, errorMapping{http.StatusConflict, "insufficient_balance"}},
	{economy.ErrDuplicateInFlight, errorMapping{http.StatusConflict, "request_in_flight"}},
	{economy.ErrDuplicateIdempotencyKey, errorMapping{http.StatusConflict, "duplicate_idempotency_key"}},
	{economy.ErrQuotaExceeded, errorMapping{http.StatusTooManyRequests, "quota_exceeded"}},
	{economy.ErrTierRestricted, errorMapping{http.StatusForbidden, "tier_restricted"}},
	{economy.ErrTierUnchanged, errorMapping{http.StatusConflict, "tier_unchanged"}},
	{economy.ErrTierDowngrade, errorMapping{http.StatusConflict, "tier_downgrade"}},
	{economy.ErrSelfGift, errorMapping{http.StatusBadRequest, "self_gift"}},
	{economy.ErrInvalidClaimToken, errorMapping{http.StatusConflict, "invalid_claim_token"}},
	{economy.ErrFutureTimestamp, errorMapping{http.StatusBadRequest, "future_timestamp"}},
	{economy.ErrInvalidRefundReason, errorMapping{http.StatusBadRequest, "invalid_refund_reason"}},
	{economy.ErrRefundWindowClosed, errorMapping{http.StatusConflict, "refund_window_closed"}},
	{economy.ErrRefundAlreadyProcessed, errorMapping{http.StatusConflict, "refund_already_processed"}},
	{economy.ErrTransactionNotRefundable, errorMapping{http.StatusConflict, "transaction_not_refundable"}},
	{economy.ErrTransactionNotFound, errorMapping{http.StatusNotFound, "transaction_not_found"}},
	{economy.ErrStoreConflict, errorMapping{http.StatusServiceUnavailable, "store_conflict"}},
	{economy.ErrInvalidTier, errorMapping{http.StatusBadRequest, "invalid_tier"}},
	{economy.ErrUnknownEffectType, errorMapping{http.StatusBadRequest, "unknown_effect_type"}},
	{economy.ErrUnknownQuotaType, errorMapping{http.StatusBadRequest, "unknown_quota_type"}},
	{economy.ErrUnknownContentProduct, errorMapping{http.StatusBadRequest, "unknown_content_product"}},
	{economy.ErrUnknownCoinPackage, errorMapping{http.StatusBadRequest, "unknown_coin_package"}},
	{economy.ErrInvalidUserID, errorMapping{http.StatusBadRequest, "invalid_user_id"}},
	{economy.ErrInvalidCoinAmount, errorMapping{http.StatusBadRequest, "invalid_amount"}},
	{economy.ErrInvalidIdempotencyKey, errorMapping{http.StatusBadRequest, "invalid_idempotency_key"}},
	{economy.ErrInvalidContentID, errorMapping{http.StatusBadRequest, "invalid_content_id"}},
	{economy.ErrInvalidTransactionID, errorMapping{http.StatusBadRequest, "invalid_transaction_id"}},
	{economy.ErrInvalidMetadataJSON, errorMapping{http.StatusBadRequest, "invalid_metadata"}},
	{economy.ErrInvalidTransactionKind, errorMapping{http.StatusBadRequest, "invalid_transaction_kind"}},
}

// respondDomainError translates a service error into an HTTP response.
// Unrecognized errors surface as an opaque 500 so internals never leak.
func respondDomainError(ctx *gin.Context, err error) {
	for _, candidate := range domainErrorMappings {
		if errors.Is(err, candidate.target) {
			ctx.JSON(candidate.mapping.status, errorResponse(candidate.mapping.code, candidate.target.Error()))
			return
		}
	}
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "operation failed"))
}
