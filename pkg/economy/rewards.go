package economy

import (
	"context"
	"fmt"
)

// ClaimResult is the committed outcome of a verified ad-reward claim.
type ClaimResult struct {
	Claim       RewardClaim `json:"claim"`
	Transaction Transaction `json:"transaction"`
	Balance     Balance     `json:"balance"`
}

// RefundResult is the committed outcome of a refund.
type RefundResult struct {
	OriginalTransactionID string      `json:"original_transaction_id"`
	Refund                Transaction `json:"refund"`
	Balance               Balance     `json:"balance"`
}

// VerifyAdClaim validates an externally-sourced ad-view claim and credits the
// reward. The client timestamp is rejected when it lies beyond the configured
// skew tolerance ahead of server time, regardless of token validity; it is
// recorded for audit but never trusted for authorization. Crediting and
// consuming the claim token are one atomic unit, so a token can never be
// redeemed twice even under concurrent replay.
func (service *Service) VerifyAdClaim(ctx context.Context, userID UserID, claimToken ClaimToken, source string, clientUnixUTC int64, idempotencyKey IdempotencyKey, metadata MetadataJSON) (ClaimResult, error) {
	var result ClaimResult
	reward, err := NewCoinAmount(service.config.AdReward.RewardCoins)
	if err != nil {
		return ClaimResult{}, err
	}
	if clientUnixUTC > service.nowFn()+service.config.AdReward.ClockSkewToleranceSeconds {
		service.logOperation(ctx, OperationLog{
			Operation:      operationVerifyAdClaim,
			UserID:         userID,
			IdempotencyKey: idempotencyKey,
			Error:          ErrFutureTimestamp,
		})
		return ClaimResult{}, ErrFutureTimestamp
	}
	replayed, operationError := service.runIdempotent(ctx, idempotencyKey, &result, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetOrCreateAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		claim := RewardClaim{
			AccountID:       account.AccountID,
			ClaimToken:      claimToken.String(),
			Source:          source,
			ClientUnixUTC:   clientUnixUTC,
			VerifiedUnixUTC: nowUnixUTC,
			RewardCoins:     reward.Int64(),
		}
		if err := txStore.InsertRewardClaim(ctx, claim); err != nil {
			return err
		}
		transaction, newBalance, err := service.writeTransactionTx(ctx, txStore, account, TransactionCredit, reward, "ad_reward:"+source, "", idempotencyKey, metadata)
		if err != nil {
			return err
		}
		result = ClaimResult{
			Claim:       claim,
			Transaction: transaction,
			Balance:     Balance{BalanceCoins: newBalance},
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationVerifyAdClaim,
		UserID:         userID,
		Amount:         reward,
		IdempotencyKey: idempotencyKey,
		Replayed:       replayed,
		Error:          operationError,
	})
	return result, operationError
}

// Refund issues a compensating credit for a committed debit. The original
// transaction is never mutated beyond its status flip to refunded; the credit
// references it, and flipping the status is conditional, so a second refund
// of the same transaction fails with ErrRefundAlreadyProcessed no matter how
// the calls interleave.
func (service *Service) Refund(ctx context.Context, userID UserID, transactionID TransactionID, reason string, idempotencyKey IdempotencyKey, metadata MetadataJSON) (RefundResult, error) {
	var result RefundResult
	if !service.config.Refund.ReasonAllowed(reason) {
		return RefundResult{}, fmt.Errorf("%w: %q", ErrInvalidRefundReason, reason)
	}
	replayed, operationError := service.runIdempotent(ctx, idempotencyKey, &result, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetOrCreateAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		original, err := txStore.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if original.AccountID != account.AccountID {
			return ErrTransactionNotFound
		}
		if original.Kind != TransactionDebit {
			return ErrTransactionNotRefundable
		}
		nowUnixUTC := service.nowFn()
		windowSeconds := int64(service.config.Refund.WindowDays) * secondsPerDay
		if nowUnixUTC-original.CreatedUnixUTC > windowSeconds {
			return ErrRefundWindowClosed
		}
		if err := txStore.MarkTransactionRefunded(ctx, transactionID, nowUnixUTC); err != nil {
			return err
		}
		amount, err := NewCoinAmount(original.AmountCoins)
		if err != nil {
			return err
		}
		refund, newBalance, err := service.writeTransactionTx(ctx, txStore, account, TransactionRefund, amount, "refund:"+reason, original.TransactionID, idempotencyKey, metadata)
		if err != nil {
			return err
		}
		result = RefundResult{
			OriginalTransactionID: original.TransactionID,
			Refund:                refund,
			Balance:               Balance{BalanceCoins: newBalance},
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationRefund,
		UserID:         userID,
		IdempotencyKey: idempotencyKey,
		Replayed:       replayed,
		Error:          operationError,
	})
	return result, operationError
}
