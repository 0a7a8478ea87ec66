package economy

import "context"

// Store is the persistence contract used by Service. Implementations must
// guarantee that WithTx executes the callback atomically and that
// GetOrCreateAccountForUpdate serializes concurrent transactions touching the
// same account (SELECT ... FOR UPDATE or an equivalent discipline). A
// transient write conflict is reported as ErrStoreConflict so the service can
// retry.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	// GetOrCreateAccountForUpdate resolves the account for a user, creating
	// it with a zero balance on first use, and locks its row for the
	// remainder of the surrounding transaction.
	GetOrCreateAccountForUpdate(ctx context.Context, userID UserID) (Account, error)
	// GetAccount is an unsynchronized snapshot read for display purposes.
	// A user without an account yet reads as a zero-value Account with an
	// empty AccountID, not as an error.
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	UpdateAccountBalance(ctx context.Context, accountID string, balanceCoins int64) error

	InsertTransaction(ctx context.Context, transaction Transaction) error
	GetTransaction(ctx context.Context, transactionID TransactionID) (Transaction, error)
	// MarkTransactionRefunded flips a committed transaction to refunded.
	// Returns ErrRefundAlreadyProcessed when the transaction is not in the
	// committed state anymore.
	MarkTransactionRefunded(ctx context.Context, transactionID TransactionID, refundedUnixUTC int64) error
	ListTransactions(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Transaction, error)

	// InsertIdempotencyRecord reserves a key. Returns
	// ErrDuplicateIdempotencyKey when the key already exists.
	InsertIdempotencyRecord(ctx context.Context, record IdempotencyRecord) error
	GetIdempotencyRecord(ctx context.Context, key IdempotencyKey) (IdempotencyRecord, bool, error)
	CompleteIdempotencyRecord(ctx context.Context, key IdempotencyKey, resultSnapshot []byte) error
	DeleteIdempotencyRecord(ctx context.Context, key IdempotencyKey) error

	GetMembership(ctx context.Context, accountID string) (MembershipState, bool, error)
	SaveMembership(ctx context.Context, state MembershipState) error

	GetEffectGrant(ctx context.Context, accountID string, effectType EffectType) (EffectGrant, bool, error)
	SaveEffectGrant(ctx context.Context, grant EffectGrant) error

	GetEntitlement(ctx context.Context, accountID string, contentID ContentID) (Entitlement, bool, error)
	SaveEntitlement(ctx context.Context, entitlement Entitlement) error

	// InsertRewardClaim consumes a claim token. Returns ErrInvalidClaimToken
	// when the token was consumed before.
	InsertRewardClaim(ctx context.Context, claim RewardClaim) error
}
