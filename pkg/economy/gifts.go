package economy

import "context"

// GiftResult is the committed outcome of a gift delivery.
type GiftResult struct {
	Debit         Transaction `json:"debit"`
	Credit        Transaction `json:"credit"`
	SenderBalance Balance     `json:"sender_balance"`
}

// SendGift moves coins from one account to another. Both legs commit in one
// store transaction: the recipient is never credited without the sender being
// debited, and an insufficient sender balance leaves both wallets untouched.
// Account rows are locked in a stable order so two opposing gifts cannot
// deadlock.
func (service *Service) SendGift(ctx context.Context, fromUserID UserID, toUserID UserID, amount CoinAmount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (GiftResult, error) {
	var result GiftResult
	if fromUserID.String() == toUserID.String() {
		return GiftResult{}, ErrSelfGift
	}
	debitKey, err := deriveIdempotencyKey(idempotencyKey, "debit")
	if err != nil {
		return GiftResult{}, err
	}
	creditKey, err := deriveIdempotencyKey(idempotencyKey, "credit")
	if err != nil {
		return GiftResult{}, err
	}
	replayed, operationError := service.runIdempotent(ctx, idempotencyKey, &result, func(ctx context.Context, txStore Store) error {
		first, second := fromUserID, toUserID
		if second.String() < first.String() {
			first, second = second, first
		}
		firstAccount, err := txStore.GetOrCreateAccountForUpdate(ctx, first)
		if err != nil {
			return err
		}
		secondAccount, err := txStore.GetOrCreateAccountForUpdate(ctx, second)
		if err != nil {
			return err
		}
		sender, recipient := firstAccount, secondAccount
		if first.String() != fromUserID.String() {
			sender, recipient = secondAccount, firstAccount
		}
		debit, senderBalance, err := service.writeTransactionTx(ctx, txStore, sender, TransactionDebit, amount, "gift:"+recipient.AccountID, "", debitKey, metadata)
		if err != nil {
			return err
		}
		credit, _, err := service.writeTransactionTx(ctx, txStore, recipient, TransactionCredit, amount, "gift:"+sender.AccountID, "", creditKey, metadata)
		if err != nil {
			return err
		}
		result = GiftResult{
			Debit:         debit,
			Credit:        credit,
			SenderBalance: Balance{BalanceCoins: senderBalance},
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationSendGift,
		UserID:         fromUserID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Replayed:       replayed,
		Error:          operationError,
	})
	return result, operationError
}
