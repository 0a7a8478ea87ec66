package economy

import (
	"context"
	"fmt"
	"time"
)

// Daily quota counters roll over at midnight Asia/Taipei. Taiwan observes no
// daylight saving, so a fixed offset is exact and avoids a tzdata dependency.
var quotaResetLocation = time.FixedZone("Asia/Taipei", 8*60*60)

// UpgradeResult is the committed outcome of a membership upgrade.
type UpgradeResult struct {
	Membership  MembershipState `json:"membership"`
	Transaction Transaction     `json:"transaction"`
	Balance     Balance         `json:"balance"`
}

// QuotaUsage reports the counter state after a consume.
type QuotaUsage struct {
	QuotaType         QuotaType `json:"quota_type"`
	Used              int64     `json:"used"`
	Limit             int64     `json:"limit"`
	QuotaResetUnixUTC int64     `json:"quota_reset_unix_utc"`
}

// Membership returns the evaluated membership state for a user. Expiry is
// checked lazily here: a paid tier whose expiry has passed is demoted to free
// and the demotion is persisted before the state is returned.
func (service *Service) Membership(ctx context.Context, userID UserID) (MembershipState, error) {
	var state MembershipState
	operationError := service.withConflictRetry(ctx, func() error {
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			account, err := txStore.GetOrCreateAccountForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			state, err = service.evaluateMembershipTx(ctx, txStore, account.AccountID)
			return err
		})
	})
	return state, operationError
}

// UpgradeMembership debits the target tier's price and writes the new tier
// and expiry in one store transaction. The tier is re-read under the account
// lock, so two concurrent upgrades to the same target can never both charge:
// the loser observes the committed tier and fails with ErrTierUnchanged.
func (service *Service) UpgradeMembership(ctx context.Context, userID UserID, targetTier Tier, idempotencyKey IdempotencyKey, metadata MetadataJSON) (UpgradeResult, error) {
	var result UpgradeResult
	targetDefinition, err := service.config.TierDefinition(targetTier)
	if err != nil {
		return UpgradeResult{}, err
	}
	if targetTier == TierFree {
		return UpgradeResult{}, fmt.Errorf("%w: cannot upgrade to free", ErrInvalidTier)
	}
	price, err := NewCoinAmount(targetDefinition.PriceCoins)
	if err != nil {
		return UpgradeResult{}, err
	}
	replayed, operationError := service.runIdempotent(ctx, idempotencyKey, &result, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetOrCreateAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		state, err := service.evaluateMembershipTx(ctx, txStore, account.AccountID)
		if err != nil {
			return err
		}
		currentDefinition, err := service.config.TierDefinition(state.Tier)
		if err != nil {
			return err
		}
		if targetDefinition.Rank == currentDefinition.Rank {
			return ErrTierUnchanged
		}
		if targetDefinition.Rank < currentDefinition.Rank {
			return ErrTierDowngrade
		}
		transaction, newBalance, err := service.writeTransactionTx(ctx, txStore, account, TransactionDebit, price, "membership:"+targetTier.String(), "", idempotencyKey, metadata)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		expiryBase := nowUnixUTC
		if state.Tier != TierFree && state.ExpiresAtUnixUTC > expiryBase {
			expiryBase = state.ExpiresAtUnixUTC
		}
		state.Tier = targetTier
		state.ExpiresAtUnixUTC = expiryBase + int64(targetDefinition.DurationDays)*secondsPerDay
		if err := txStore.SaveMembership(ctx, state); err != nil {
			return err
		}
		result = UpgradeResult{
			Membership:  state,
			Transaction: transaction,
			Balance:     Balance{BalanceCoins: newBalance},
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationUpgrade,
		UserID:         userID,
		Amount:         price,
		IdempotencyKey: idempotencyKey,
		Replayed:       replayed,
		Error:          operationError,
	})
	return result, operationError
}

// ConsumeQuota spends one unit of a daily usage counter. The first consume at
// or past the reset boundary zeroes all counters and advances the boundary in
// the same transaction; there is no background sweep.
func (service *Service) ConsumeQuota(ctx context.Context, userID UserID, quotaType QuotaType) (QuotaUsage, error) {
	var usage QuotaUsage
	operationError := service.withConflictRetry(ctx, func() error {
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			account, err := txStore.GetOrCreateAccountForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			state, err := service.evaluateMembershipTx(ctx, txStore, account.AccountID)
			if err != nil {
				return err
			}
			definition, err := service.config.TierDefinition(state.Tier)
			if err != nil {
				return err
			}
			limit, ok := definition.DailyQuotas[quotaType.String()]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownQuotaType, quotaType)
			}
			nowUnixUTC := service.nowFn()
			if nowUnixUTC >= state.QuotaResetUnixUTC {
				state.QuotaUsage = map[string]int64{}
				state.QuotaResetUnixUTC = nextQuotaResetUnixUTC(nowUnixUTC)
			}
			if state.QuotaUsage == nil {
				state.QuotaUsage = map[string]int64{}
			}
			used := state.QuotaUsage[quotaType.String()]
			if used >= limit {
				usage = QuotaUsage{QuotaType: quotaType, Used: used, Limit: limit, QuotaResetUnixUTC: state.QuotaResetUnixUTC}
				return ErrQuotaExceeded
			}
			state.QuotaUsage[quotaType.String()] = used + 1
			if err := txStore.SaveMembership(ctx, state); err != nil {
				return err
			}
			usage = QuotaUsage{QuotaType: quotaType, Used: used + 1, Limit: limit, QuotaResetUnixUTC: state.QuotaResetUnixUTC}
			return nil
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationConsumeQuota,
		UserID:    userID,
		Error:     operationError,
	})
	return usage, operationError
}

// evaluateMembershipTx is the single place expiry is evaluated. Absent rows
// read as free tier; a lapsed paid tier is eagerly demoted and persisted.
func (service *Service) evaluateMembershipTx(ctx context.Context, txStore Store, accountID string) (MembershipState, error) {
	state, found, err := txStore.GetMembership(ctx, accountID)
	if err != nil {
		return MembershipState{}, err
	}
	if !found {
		state = MembershipState{AccountID: accountID, Tier: TierFree}
	}
	nowUnixUTC := service.nowFn()
	if state.Tier != TierFree && state.ExpiresAtUnixUTC <= nowUnixUTC {
		state.Tier = TierFree
		state.ExpiresAtUnixUTC = 0
		if err := txStore.SaveMembership(ctx, state); err != nil {
			return MembershipState{}, err
		}
	}
	return state, nil
}

func nextQuotaResetUnixUTC(nowUnixUTC int64) int64 {
	localNow := time.Unix(nowUnixUTC, 0).In(quotaResetLocation)
	nextMidnight := time.Date(localNow.Year(), localNow.Month(), localNow.Day()+1, 0, 0, 0, 0, quotaResetLocation)
	return nextMidnight.Unix()
}
