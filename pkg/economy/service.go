package economy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the economy domain logic over a Store. All mutating
// operations run inside a single store transaction so an economic action is
// applied completely or not at all, and every externally exposed mutation is
// wrapped by the idempotency guard.
type Service struct {
	store           Store
	config          ProductConfig
	nowFn           func() int64
	logger          OperationLogger
	conflictRetries int
}

// NewService wires a Service.
func NewService(store Store, config ProductConfig, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	service := &Service{
		store:           store,
		config:          config,
		nowFn:           now,
		conflictRetries: defaultConflictRetries,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Config returns the product configuration the service was built with.
func (service *Service) Config() ProductConfig {
	return service.config
}

// TransactionResult is the committed outcome of a single-transaction operation.
type TransactionResult struct {
	Transaction Transaction `json:"transaction"`
	Balance     Balance     `json:"balance"`
}

// Balance returns the wallet snapshot for a user. The read is unsynchronized
// and may trail concurrent writers slightly.
func (service *Service) Balance(ctx context.Context, userID UserID) (Balance, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{BalanceCoins: account.BalanceCoins}, nil
}

// ListTransactions lists ledger transactions for a user before a cutoff time,
// newest first.
func (service *Service) ListTransactions(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.AccountID == "" {
		return nil, nil
	}
	return service.store.ListTransactions(ctx, account.AccountID, beforeUnixUTC, limit)
}

// ApplyTransaction credits or debits an account as one atomic unit. Refund
// transactions cannot be written through this path; they are only produced by
// Refund so a compensating credit always references its original.
func (service *Service) ApplyTransaction(ctx context.Context, userID UserID, amount CoinAmount, kind TransactionKind, relatedEntity string, idempotencyKey IdempotencyKey, metadata MetadataJSON) (TransactionResult, error) {
	var result TransactionResult
	if kind != TransactionCredit && kind != TransactionDebit {
		return TransactionResult{}, fmt.Errorf("%w: %q", ErrInvalidTransactionKind, kind)
	}
	replayed, operationError := service.runIdempotent(ctx, idempotencyKey, &result, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetOrCreateAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		transaction, newBalance, err := service.writeTransactionTx(ctx, txStore, account, kind, amount, relatedEntity, "", idempotencyKey, metadata)
		if err != nil {
			return err
		}
		result = TransactionResult{Transaction: transaction, Balance: Balance{BalanceCoins: newBalance}}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationApplyTransaction,
		UserID:         userID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Replayed:       replayed,
		Error:          operationError,
	})
	return result, operationError
}

// PurchaseCoins credits the base and bonus coins of a configured package.
func (service *Service) PurchaseCoins(ctx context.Context, userID UserID, packageID string, idempotencyKey IdempotencyKey, metadata MetadataJSON) (TransactionResult, error) {
	var result TransactionResult
	pkg, err := service.config.CoinPackage(packageID)
	if err != nil {
		return TransactionResult{}, err
	}
	amount, err := NewCoinAmount(pkg.TotalCoins())
	if err != nil {
		return TransactionResult{}, err
	}
	replayed, operationError := service.runIdempotent(ctx, idempotencyKey, &result, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetOrCreateAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		transaction, newBalance, err := service.writeTransactionTx(ctx, txStore, account, TransactionCredit, amount, packageID, "", idempotencyKey, metadata)
		if err != nil {
			return err
		}
		result = TransactionResult{Transaction: transaction, Balance: Balance{BalanceCoins: newBalance}}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationPurchaseCoins,
		UserID:         userID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Replayed:       replayed,
		Error:          operationError,
	})
	return result, operationError
}

// writeTransactionTx appends one ledger transaction and moves the balance
// projection inside the surrounding store transaction. The caller must hold
// the account row lock. Returns the committed transaction and the new balance.
func (service *Service) writeTransactionTx(ctx context.Context, txStore Store, account Account, kind TransactionKind, amount CoinAmount, relatedEntity string, refundsID string, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Transaction, int64, error) {
	delta := amount.Int64()
	if kind == TransactionDebit {
		delta = -delta
	}
	newBalance := account.BalanceCoins + delta
	if newBalance < 0 {
		return Transaction{}, 0, ErrInsufficientBalance
	}
	transaction := Transaction{
		TransactionID:  uuid.NewString(),
		AccountID:      account.AccountID,
		Kind:           kind,
		AmountCoins:    amount.Int64(),
		RelatedEntity:  relatedEntity,
		RefundsID:      refundsID,
		IdempotencyKey: idempotencyKey.String(),
		Status:         TransactionStatusCommitted.String(),
		MetadataJSON:   metadata.String(),
		CreatedUnixUTC: service.nowFn(),
	}
	if err := txStore.InsertTransaction(ctx, transaction); err != nil {
		return Transaction{}, 0, err
	}
	if err := txStore.UpdateAccountBalance(ctx, account.AccountID, newBalance); err != nil {
		return Transaction{}, 0, err
	}
	return transaction, newBalance, nil
}

// withConflictRetry re-runs fn on transient store conflicts up to the
// configured bound. Domain rejections pass through untouched.
func (service *Service) withConflictRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < service.conflictRetries; attempt++ {
		lastErr = fn()
		if !errors.Is(lastErr, ErrStoreConflict) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error != nil:
			entry.Status = operationStatusError
		case entry.Replayed:
			entry.Status = operationStatusReplayed
		default:
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func deriveIdempotencyKey(baseKey IdempotencyKey, suffix string) (IdempotencyKey, error) {
	return NewIdempotencyKey(baseKey.String() + ":" + suffix)
}
