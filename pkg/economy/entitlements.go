package economy

import "context"

// UnlockResult is the committed outcome of a content unlock.
type UnlockResult struct {
	Entitlement Entitlement `json:"entitlement"`
	// Transaction is zero-valued when the unlock did not charge (repurchase
	// of a permanent grant, or an unpaid extension).
	Transaction Transaction `json:"transaction"`
	Balance     Balance     `json:"balance"`
	Extended    bool        `json:"extended"`
	Charged     bool        `json:"charged"`
}

// UnlockContent grants or extends access to one piece of content. The debit
// and the entitlement write are one atomic unit, and (account, content)
// uniqueness is a hard invariant: an active entitlement is extended in place,
// never duplicated. Whether an extension charges again is the product's
// explicit PaidExtension policy. Repurchasing a permanent grant is an
// idempotent no-op without charge.
func (service *Service) UnlockContent(ctx context.Context, userID UserID, contentID ContentID, productID string, idempotencyKey IdempotencyKey, metadata MetadataJSON) (UnlockResult, error) {
	var result UnlockResult
	product, err := service.config.ContentProduct(productID)
	if err != nil {
		return UnlockResult{}, err
	}
	price, err := NewCoinAmount(product.PriceCoins)
	if err != nil {
		return UnlockResult{}, err
	}
	replayed, operationError := service.runIdempotent(ctx, idempotencyKey, &result, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetOrCreateAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		existing, found, err := txStore.GetEntitlement(ctx, account.AccountID, contentID)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()

		if found && existing.Permanent {
			result = UnlockResult{
				Entitlement: existing,
				Balance:     Balance{BalanceCoins: account.BalanceCoins},
			}
			return nil
		}

		extending := found && existing.ActiveAt(nowUnixUTC)
		charge := !extending || product.PaidExtension || product.Permanent

		var transaction Transaction
		newBalance := account.BalanceCoins
		if charge {
			transaction, newBalance, err = service.writeTransactionTx(ctx, txStore, account, TransactionDebit, price, "content:"+contentID.String(), "", idempotencyKey, metadata)
			if err != nil {
				return err
			}
		}

		entitlement := Entitlement{
			AccountID:      account.AccountID,
			ContentID:      contentID.String(),
			ProductID:      productID,
			Permanent:      product.Permanent,
			GrantedUnixUTC: nowUnixUTC,
		}
		if found {
			entitlement.GrantedUnixUTC = existing.GrantedUnixUTC
		}
		if !product.Permanent {
			expiryBase := nowUnixUTC
			if extending && existing.ExpiresAtUnixUTC > expiryBase {
				expiryBase = existing.ExpiresAtUnixUTC
			}
			entitlement.ExpiresAtUnixUTC = expiryBase + int64(product.DurationDays)*secondsPerDay
		}
		if err := txStore.SaveEntitlement(ctx, entitlement); err != nil {
			return err
		}
		result = UnlockResult{
			Entitlement: entitlement,
			Transaction: transaction,
			Balance:     Balance{BalanceCoins: newBalance},
			Extended:    extending,
			Charged:     charge,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationUnlockContent,
		UserID:         userID,
		Amount:         price,
		IdempotencyKey: idempotencyKey,
		Replayed:       replayed,
		Error:          operationError,
	})
	return result, operationError
}

// HasEntitlement reports whether the user holds a live entitlement for the
// content. Snapshot read; expiry is observed, never swept.
func (service *Service) HasEntitlement(ctx context.Context, userID UserID, contentID ContentID) (bool, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return false, err
	}
	if account.AccountID == "" {
		return false, nil
	}
	entitlement, found, err := service.store.GetEntitlement(ctx, account.AccountID, contentID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return entitlement.ActiveAt(service.nowFn()), nil
}
