package economy

const (
	operationApplyTransaction = "apply_transaction"
	operationPurchaseCoins    = "purchase_coins"
	operationSendGift         = "send_gift"
	operationUpgrade          = "upgrade_membership"
	operationConsumeQuota     = "consume_quota"
	operationGrantEffect      = "grant_effect"
	operationUnlockContent    = "unlock_content"
	operationVerifyAdClaim    = "verify_ad_claim"
	operationRefund           = "refund"

	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusReplayed = "replayed"

	defaultConflictRetries = 3

	secondsPerDay = 24 * 60 * 60
)
