package economy

import (
	"context"
	"fmt"
	"testing"
)

// stubStore is an in-memory Store for service tests. It enforces the same
// uniqueness rules as the real store: one account per user, one transaction
// per (account, idempotency key), single-use claim tokens, and a conditional
// committed-to-refunded status flip.
type stubStore struct {
	accountSeq   int
	accounts     map[string]Account
	transactions map[string]Transaction
	order        []string
	idempotency  map[string]IdempotencyRecord
	memberships  map[string]MembershipState
	effects      map[string]EffectGrant
	entitlements map[string]Entitlement
	rewardClaims map[string]RewardClaim
	usedTxKeys   map[string]struct{}
	nowFn        func() int64

	getAccountError        error
	insertTransactionError error
	saveMembershipError    error
	saveEffectGrantError   error
	saveEntitlementError   error
}

func newStubStore(test *testing.T, now func() int64) *stubStore {
	test.Helper()
	return &stubStore{
		accounts:     map[string]Account{},
		transactions: map[string]Transaction{},
		idempotency:  map[string]IdempotencyRecord{},
		memberships:  map[string]MembershipState{},
		effects:      map[string]EffectGrant{},
		entitlements: map[string]Entitlement{},
		rewardClaims: map[string]RewardClaim{},
		usedTxKeys:   map[string]struct{}{},
		nowFn:        now,
	}
}

func (store *stubStore) seedAccount(test *testing.T, userID UserID, balance int64) Account {
	test.Helper()
	account, err := store.GetOrCreateAccountForUpdate(context.Background(), userID)
	if err != nil {
		test.Fatalf("seed account: %v", err)
	}
	account.BalanceCoins = balance
	store.accounts[userID.String()] = account
	return account
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateAccountForUpdate(_ context.Context, userID UserID) (Account, error) {
	if account, ok := store.accounts[userID.String()]; ok {
		return account, nil
	}
	store.accountSeq++
	account := Account{
		AccountID:      fmt.Sprintf("acct-%d", store.accountSeq),
		UserID:         userID.String(),
		CreatedUnixUTC: store.nowFn(),
	}
	store.accounts[userID.String()] = account
	return account, nil
}

func (store *stubStore) GetAccount(_ context.Context, userID UserID) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	return store.accounts[userID.String()], nil
}

func (store *stubStore) UpdateAccountBalance(_ context.Context, accountID string, balanceCoins int64) error {
	for userID, account := range store.accounts {
		if account.AccountID == accountID {
			account.BalanceCoins = balanceCoins
			store.accounts[userID] = account
			return nil
		}
	}
	return fmt.Errorf("unknown account %q", accountID)
}

func (store *stubStore) InsertTransaction(_ context.Context, transaction Transaction) error {
	if store.insertTransactionError != nil {
		return store.insertTransactionError
	}
	scopedKey := transaction.AccountID + "/" + transaction.IdempotencyKey
	if _, exists := store.usedTxKeys[scopedKey]; exists {
		return ErrDuplicateIdempotencyKey
	}
	store.usedTxKeys[scopedKey] = struct{}{}
	store.transactions[transaction.TransactionID] = transaction
	store.order = append(store.order, transaction.TransactionID)
	return nil
}

func (store *stubStore) GetTransaction(_ context.Context, transactionID TransactionID) (Transaction, error) {
	transaction, ok := store.transactions[transactionID.String()]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return transaction, nil
}

func (store *stubStore) MarkTransactionRefunded(_ context.Context, transactionID TransactionID, refundedUnixUTC int64) error {
	transaction, ok := store.transactions[transactionID.String()]
	if !ok {
		return ErrTransactionNotFound
	}
	if transaction.Status != TransactionStatusCommitted.String() {
		return ErrRefundAlreadyProcessed
	}
	transaction.Status = TransactionStatusRefunded.String()
	transaction.RefundedUnixUTC = refundedUnixUTC
	store.transactions[transactionID.String()] = transaction
	return nil
}

func (store *stubStore) ListTransactions(_ context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	var out []Transaction
	for i := len(store.order) - 1; i >= 0 && len(out) < limit; i-- {
		transaction := store.transactions[store.order[i]]
		if transaction.AccountID != accountID {
			continue
		}
		if beforeUnixUTC != 0 && transaction.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		out = append(out, transaction)
	}
	return out, nil
}

func (store *stubStore) InsertIdempotencyRecord(_ context.Context, record IdempotencyRecord) error {
	if existing, exists := store.idempotency[record.Key]; exists {
		if existing.ExpiresAtUnixUTC > record.CreatedUnixUTC {
			return ErrDuplicateIdempotencyKey
		}
	}
	store.idempotency[record.Key] = record
	return nil
}

func (store *stubStore) GetIdempotencyRecord(_ context.Context, key IdempotencyKey) (IdempotencyRecord, bool, error) {
	record, ok := store.idempotency[key.String()]
	return record, ok, nil
}

func (store *stubStore) CompleteIdempotencyRecord(_ context.Context, key IdempotencyKey, resultSnapshot []byte) error {
	record, ok := store.idempotency[key.String()]
	if !ok {
		return fmt.Errorf("unknown idempotency key %q", key.String())
	}
	record.Status = IdempotencyCommitted
	record.ResultSnapshot = resultSnapshot
	store.idempotency[key.String()] = record
	return nil
}

func (store *stubStore) DeleteIdempotencyRecord(_ context.Context, key IdempotencyKey) error {
	delete(store.idempotency, key.String())
	return nil
}

func (store *stubStore) GetMembership(_ context.Context, accountID string) (MembershipState, bool, error) {
	state, ok := store.memberships[accountID]
	return state, ok, nil
}

func (store *stubStore) SaveMembership(_ context.Context, state MembershipState) error {
	if store.saveMembershipError != nil {
		return store.saveMembershipError
	}
	store.memberships[state.AccountID] = state
	return nil
}

func (store *stubStore) GetEffectGrant(_ context.Context, accountID string, effectType EffectType) (EffectGrant, bool, error) {
	grant, ok := store.effects[accountID+"/"+effectType.String()]
	return grant, ok, nil
}

func (store *stubStore) SaveEffectGrant(_ context.Context, grant EffectGrant) error {
	if store.saveEffectGrantError != nil {
		return store.saveEffectGrantError
	}
	store.effects[grant.AccountID+"/"+grant.EffectType.String()] = grant
	return nil
}

func (store *stubStore) GetEntitlement(_ context.Context, accountID string, contentID ContentID) (Entitlement, bool, error) {
	entitlement, ok := store.entitlements[accountID+"/"+contentID.String()]
	return entitlement, ok, nil
}

func (store *stubStore) SaveEntitlement(_ context.Context, entitlement Entitlement) error {
	if store.saveEntitlementError != nil {
		return store.saveEntitlementError
	}
	store.entitlements[entitlement.AccountID+"/"+entitlement.ContentID] = entitlement
	return nil
}

func (store *stubStore) InsertRewardClaim(_ context.Context, claim RewardClaim) error {
	if _, exists := store.rewardClaims[claim.ClaimToken]; exists {
		return ErrInvalidClaimToken
	}
	store.rewardClaims[claim.ClaimToken] = claim
	return nil
}

func (store *stubStore) transactionCount() int {
	return len(store.transactions)
}

// testClock is a settable unix-seconds clock shared by a service and its
// assertions.
type testClock struct {
	nowUnixUTC int64
}

func newTestClock(start int64) *testClock {
	return &testClock{nowUnixUTC: start}
}

func (clock *testClock) Now() int64 {
	return clock.nowUnixUTC
}

func (clock *testClock) Advance(seconds int64) {
	clock.nowUnixUTC += seconds
}

func mustNewService(test *testing.T, store Store, clock *testClock, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, DefaultProductConfig(), clock.Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	value, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return value
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	value, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return value
}

func mustAmount(test *testing.T, raw int64) CoinAmount {
	test.Helper()
	value, err := NewCoinAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustContentID(test *testing.T, raw string) ContentID {
	test.Helper()
	value, err := NewContentID(raw)
	if err != nil {
		test.Fatalf("content id: %v", err)
	}
	return value
}

func mustClaimToken(test *testing.T, raw string) ClaimToken {
	test.Helper()
	value, err := NewClaimToken(raw)
	if err != nil {
		test.Fatalf("claim token: %v", err)
	}
	return value
}

func mustTransactionID(test *testing.T, raw string) TransactionID {
	test.Helper()
	value, err := NewTransactionID(raw)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	return value
}
