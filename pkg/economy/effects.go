package economy

import "context"

// EffectResult is the committed outcome of an effect purchase.
type EffectResult struct {
	Grant       EffectGrant `json:"grant"`
	Transaction Transaction `json:"transaction"`
	Balance     Balance     `json:"balance"`
}

// GrantEffect debits the effect's price and writes the grant in one store
// transaction. Tier restrictions are evaluated against the freshly evaluated
// membership state at grant time, never a cached one. A repeat grant of an
// active effect follows the effect's extend policy: extendable effects expire
// at max(existing expiry, now + duration) so a re-grant refreshes but never
// stacks remaining time, replace-policy effects at now + duration. An account
// never holds two simultaneous grants of one type.
func (service *Service) GrantEffect(ctx context.Context, userID UserID, effectType EffectType, idempotencyKey IdempotencyKey, metadata MetadataJSON) (EffectResult, error) {
	var result EffectResult
	definition, err := service.config.EffectDefinition(effectType)
	if err != nil {
		return EffectResult{}, err
	}
	price, err := NewCoinAmount(definition.PriceCoins)
	if err != nil {
		return EffectResult{}, err
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
		if definition.Restricts(state.Tier) {
			return ErrTierRestricted
		}
		transaction, newBalance, err := service.writeTransactionTx(ctx, txStore, account, TransactionDebit, price, "effect:"+effectType.String(), "", idempotencyKey, metadata)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		expiresAtUnixUTC := nowUnixUTC + int64(definition.DurationDays)*secondsPerDay
		if definition.ExtendPolicy == EffectExtend {
			existing, found, err := txStore.GetEffectGrant(ctx, account.AccountID, effectType)
			if err != nil {
				return err
			}
			if found && existing.ExpiresAtUnixUTC > expiresAtUnixUTC {
				expiresAtUnixUTC = existing.ExpiresAtUnixUTC
			}
		}
		grant := EffectGrant{
			AccountID:        account.AccountID,
			EffectType:       effectType,
			Value:            definition.Value,
			ExpiresAtUnixUTC: expiresAtUnixUTC,
			GrantedUnixUTC:   nowUnixUTC,
		}
		if err := txStore.SaveEffectGrant(ctx, grant); err != nil {
			return err
		}
		result = EffectResult{
			Grant:       grant,
			Transaction: transaction,
			Balance:     Balance{BalanceCoins: newBalance},
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationGrantEffect,
		UserID:         userID,
		Amount:         price,
		IdempotencyKey: idempotencyKey,
		Replayed:       replayed,
		Error:          operationError,
	})
	return result, operationError
}

// IsEffectActive reports whether the user has a live grant of the effect.
// Pure read against the clock; lapsed grants are never swept, only observed
// as inactive.
func (service *Service) IsEffectActive(ctx context.Context, userID UserID, effectType EffectType) (bool, error) {
	if _, err := service.config.EffectDefinition(effectType); err != nil {
		return false, err
	}
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return false, err
	}
	if account.AccountID == "" {
		return false, nil
	}
	grant, found, err := service.store.GetEffectGrant(ctx, account.AccountID, effectType)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return grant.ActiveAt(service.nowFn()), nil
}
