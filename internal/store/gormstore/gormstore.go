package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumichat/economy/pkg/economy"
)

const (
	defaultMetadataJSON        = "{}"
	dialectPostgres            = "postgres"
	pgUniqueViolationCode      = "23505"
	pgSerializationFailure     = "40001"
	pgDeadlockDetected         = "40P01"
	sqliteConstraintCode       = 19
	sqliteBusyCode             = 5
	sqliteLockedCode           = 6
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectTransaction    = "transaction"
	errorSubjectIdempotency    = "idempotency_record"
	errorSubjectMembership     = "membership"
	errorSubjectEffectGrant    = "effect_grant"
	errorSubjectEntitlement    = "entitlement"
	errorSubjectRewardClaim    = "reward_claim"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLookup            = "lookup"
	errorCodeSave              = "save"
	errorCodeDelete            = "delete"
	errorCodeUpdateBalance     = "update_balance"
	errorCodeUpdateStatus      = "update_status"
	errorCodeConflict          = "conflict"
)

// Store implements economy.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore economy.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetOrCreateAccountForUpdate locks the account row for the rest of the
// surrounding transaction, creating the account on first use. SQLite has a
// single writer so the row lock is only taken on postgres.
func (store *Store) GetOrCreateAccountForUpdate(ctx context.Context, userID economy.UserID) (economy.Account, error) {
	query := store.db.WithContext(ctx)
	if store.db.Dialector.Name() == dialectPostgres {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row Account
	err := query.Where("user_id = ?", userID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = Account{UserID: userID.String(), CreatedAt: time.Now().UTC()}
		createErr := store.db.WithContext(ctx).Create(&row).Error
		if isUniqueViolation(createErr) {
			err = query.Where("user_id = ?", userID.String()).Take(&row).Error
		} else {
			err = createErr
		}
	}
	if isWriteConflict(err) {
		return economy.Account{}, wrapStoreError(errorSubjectAccount, errorCodeConflict, economy.ErrStoreConflict)
	}
	if err != nil {
		return economy.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return mapAccount(row), nil
}

// GetAccount reads the account without locking. A user without an account
// yet reads as a zero-value Account, not as an error.
func (store *Store) GetAccount(ctx context.Context, userID economy.UserID) (economy.Account, error) {
	var row Account
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return economy.Account{}, nil
	}
	if err != nil {
		return economy.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(row), nil
}

func (store *Store) UpdateAccountBalance(ctx context.Context, accountID string, balanceCoins int64) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID).
		Update("balance_coins", balanceCoins)
	if isWriteConflict(result.Error) {
		return wrapStoreError(errorSubjectAccount, errorCodeConflict, economy.ErrStoreConflict)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateBalance, gorm.ErrRecordNotFound)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction economy.Transaction) error {
	var refundsID *string
	if transaction.RefundsID != "" {
		value := transaction.RefundsID
		refundsID = &value
	}
	row := Transaction{
		TransactionID:  transaction.TransactionID,
		AccountID:      transaction.AccountID,
		Kind:           transaction.Kind.String(),
		AmountCoins:    transaction.AmountCoins,
		RelatedEntity:  transaction.RelatedEntity,
		RefundsID:      refundsID,
		IdempotencyKey: transaction.IdempotencyKey,
		Status:         transaction.Status,
		Metadata:       datatypesJSON(transaction.MetadataJSON),
		CreatedAt:      time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, economy.ErrDuplicateIdempotencyKey)
	}
	if isWriteConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeConflict, economy.ErrStoreConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetTransaction(ctx context.Context, transactionID economy.TransactionID) (economy.Transaction, error) {
	var row Transaction
	err := store.db.WithContext(ctx).Where("transaction_id = ?", transactionID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return economy.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, economy.ErrTransactionNotFound)
	}
	if err != nil {
		return economy.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return economy.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

// MarkTransactionRefunded flips a committed transaction to refunded. The
// conditional update makes concurrent refund attempts race safely: exactly
// one wins, the rest see ErrRefundAlreadyProcessed.
func (store *Store) MarkTransactionRefunded(ctx context.Context, transactionID economy.TransactionID, refundedUnixUTC int64) error {
	refundedAt := time.Unix(refundedUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("transaction_id = ? AND status = ?", transactionID.String(), economy.TransactionStatusCommitted.String()).
		Updates(map[string]interface{}{
			"status":      economy.TransactionStatusRefunded.String(),
			"refunded_at": refundedAt,
		})
	if isWriteConflict(result.Error) {
		return wrapStoreError(errorSubjectTransaction, errorCodeConflict, economy.ErrStoreConflict)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, economy.ErrRefundAlreadyProcessed)
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]economy.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []Transaction
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}

	transactions := make([]economy.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// InsertIdempotencyRecord reserves a key. An expired row still occupying the
// key is reclaimed in place; a live row reports ErrDuplicateIdempotencyKey.
func (store *Store) InsertIdempotencyRecord(ctx context.Context, record economy.IdempotencyRecord) error {
	row := IdempotencyRecord{
		Key:            record.Key,
		Status:         record.Status.String(),
		ResultSnapshot: datatypes.JSON(record.ResultSnapshot),
		CreatedAt:      time.Unix(record.CreatedUnixUTC, 0).UTC(),
		ExpiresAt:      time.Unix(record.ExpiresAtUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		reclaim := store.db.WithContext(ctx).
			Model(&IdempotencyRecord{}).
			Where("key = ? AND expires_at <= ?", record.Key, row.CreatedAt).
			Updates(map[string]interface{}{
				"status":          row.Status,
				"result_snapshot": row.ResultSnapshot,
				"created_at":      row.CreatedAt,
				"expires_at":      row.ExpiresAt,
			})
		if reclaim.Error != nil {
			return wrapStoreError(errorSubjectIdempotency, errorCodeInsert, reclaim.Error)
		}
		if reclaim.RowsAffected == 0 {
			return wrapStoreError(errorSubjectIdempotency, errorCodeDuplicate, economy.ErrDuplicateIdempotencyKey)
		}
		return nil
	}
	if isWriteConflict(err) {
		return wrapStoreError(errorSubjectIdempotency, errorCodeConflict, economy.ErrStoreConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectIdempotency, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetIdempotencyRecord(ctx context.Context, key economy.IdempotencyKey) (economy.IdempotencyRecord, bool, error) {
	var row IdempotencyRecord
	err := store.db.WithContext(ctx).Where("key = ?", key.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return economy.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return economy.IdempotencyRecord{}, false, wrapStoreError(errorSubjectIdempotency, errorCodeGet, err)
	}
	return economy.IdempotencyRecord{
		Key:              row.Key,
		Status:           economy.IdempotencyStatus(row.Status),
		ResultSnapshot:   []byte(row.ResultSnapshot),
		CreatedUnixUTC:   row.CreatedAt.Unix(),
		ExpiresAtUnixUTC: row.ExpiresAt.Unix(),
	}, true, nil
}

func (store *Store) CompleteIdempotencyRecord(ctx context.Context, key economy.IdempotencyKey, resultSnapshot []byte) error {
	result := store.db.WithContext(ctx).
		Model(&IdempotencyRecord{}).
		Where("key = ?", key.String()).
		Updates(map[string]interface{}{
			"status":          economy.IdempotencyCommitted.String(),
			"result_snapshot": datatypes.JSON(resultSnapshot),
		})
	if isWriteConflict(result.Error) {
		return wrapStoreError(errorSubjectIdempotency, errorCodeConflict, economy.ErrStoreConflict)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectIdempotency, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectIdempotency, errorCodeUpdateStatus, gorm.ErrRecordNotFound)
	}
	return nil
}

func (store *Store) DeleteIdempotencyRecord(ctx context.Context, key economy.IdempotencyKey) error {
	err := store.db.WithContext(ctx).Where("key = ?", key.String()).Delete(&IdempotencyRecord{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectIdempotency, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) GetMembership(ctx context.Context, accountID string) (economy.MembershipState, bool, error) {
	var row Membership
	err := store.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return economy.MembershipState{}, false, nil
	}
	if err != nil {
		return economy.MembershipState{}, false, wrapStoreError(errorSubjectMembership, errorCodeGet, err)
	}
	state, err := mapMembership(row)
	if err != nil {
		return economy.MembershipState{}, false, wrapStoreError(errorSubjectMembership, errorCodeInvalid, err)
	}
	return state, true, nil
}

func (store *Store) SaveMembership(ctx context.Context, state economy.MembershipState) error {
	usage, err := encodeQuotaUsage(state.QuotaUsage)
	if err != nil {
		return wrapStoreError(errorSubjectMembership, errorCodeInvalid, err)
	}
	row := Membership{
		AccountID:    state.AccountID,
		Tier:         state.Tier.String(),
		ExpiresAt:    timePointer(state.ExpiresAtUnixUTC),
		QuotaUsage:   usage,
		QuotaResetAt: timePointer(state.QuotaResetUnixUTC),
		UpdatedAt:    time.Now().UTC(),
	}
	saveErr := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if isWriteConflict(saveErr) {
		return wrapStoreError(errorSubjectMembership, errorCodeConflict, economy.ErrStoreConflict)
	}
	if saveErr != nil {
		return wrapStoreError(errorSubjectMembership, errorCodeSave, saveErr)
	}
	return nil
}

func (store *Store) GetEffectGrant(ctx context.Context, accountID string, effectType economy.EffectType) (economy.EffectGrant, bool, error) {
	var row EffectGrant
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND effect_type = ?", accountID, effectType.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return economy.EffectGrant{}, false, nil
	}
	if err != nil {
		return economy.EffectGrant{}, false, wrapStoreError(errorSubjectEffectGrant, errorCodeGet, err)
	}
	return economy.EffectGrant{
		AccountID:        row.AccountID,
		EffectType:       economy.EffectType(row.EffectType),
		Value:            row.Value,
		ExpiresAtUnixUTC: row.ExpiresAt.Unix(),
		GrantedUnixUTC:   row.GrantedAt.Unix(),
	}, true, nil
}

func (store *Store) SaveEffectGrant(ctx context.Context, grant economy.EffectGrant) error {
	row := EffectGrant{
		AccountID:  grant.AccountID,
		EffectType: grant.EffectType.String(),
		Value:      grant.Value,
		ExpiresAt:  time.Unix(grant.ExpiresAtUnixUTC, 0).UTC(),
		GrantedAt:  time.Unix(grant.GrantedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "effect_type"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if isWriteConflict(err) {
		return wrapStoreError(errorSubjectEffectGrant, errorCodeConflict, economy.ErrStoreConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEffectGrant, errorCodeSave, err)
	}
	return nil
}

func (store *Store) GetEntitlement(ctx context.Context, accountID string, contentID economy.ContentID) (economy.Entitlement, bool, error) {
	var row Entitlement
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND content_id = ?", accountID, contentID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return economy.Entitlement{}, false, nil
	}
	if err != nil {
		return economy.Entitlement{}, false, wrapStoreError(errorSubjectEntitlement, errorCodeGet, err)
	}
	return economy.Entitlement{
		AccountID:        row.AccountID,
		ContentID:        row.ContentID,
		ProductID:        row.ProductID,
		Permanent:        row.Permanent,
		ExpiresAtUnixUTC: timeOrZero(row.ExpiresAt),
		GrantedUnixUTC:   row.GrantedAt.Unix(),
	}, true, nil
}

func (store *Store) SaveEntitlement(ctx context.Context, entitlement economy.Entitlement) error {
	row := Entitlement{
		AccountID: entitlement.AccountID,
		ContentID: entitlement.ContentID,
		ProductID: entitlement.ProductID,
		Permanent: entitlement.Permanent,
		ExpiresAt: timePointer(entitlement.ExpiresAtUnixUTC),
		GrantedAt: time.Unix(entitlement.GrantedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "content_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if isWriteConflict(err) {
		return wrapStoreError(errorSubjectEntitlement, errorCodeConflict, economy.ErrStoreConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntitlement, errorCodeSave, err)
	}
	return nil
}

// InsertRewardClaim consumes a claim token. The token primary key makes a
// replayed token fail the insert, which reads back as ErrInvalidClaimToken.
func (store *Store) InsertRewardClaim(ctx context.Context, claim economy.RewardClaim) error {
	row := RewardClaim{
		ClaimToken:      claim.ClaimToken,
		AccountID:       claim.AccountID,
		Source:          claim.Source,
		ClientTimestamp: time.Unix(claim.ClientUnixUTC, 0).UTC(),
		VerifiedAt:      time.Unix(claim.VerifiedUnixUTC, 0).UTC(),
		RewardCoins:     claim.RewardCoins,
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectRewardClaim, errorCodeDuplicate, economy.ErrInvalidClaimToken)
	}
	if isWriteConflict(err) {
		return wrapStoreError(errorSubjectRewardClaim, errorCodeConflict, economy.ErrStoreConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRewardClaim, errorCodeCreate, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return economy.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(row Account) economy.Account {
	return economy.Account{
		AccountID:      row.AccountID,
		UserID:         row.UserID,
		BalanceCoins:   row.BalanceCoins,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}
}

func mapTransaction(row Transaction) (economy.Transaction, error) {
	kind, err := economy.ParseTransactionKind(row.Kind)
	if err != nil {
		return economy.Transaction{}, err
	}
	if _, err := economy.ParseTransactionStatus(row.Status); err != nil {
		return economy.Transaction{}, err
	}
	refundsID := ""
	if row.RefundsID != nil {
		refundsID = *row.RefundsID
	}
	return economy.Transaction{
		TransactionID:   row.TransactionID,
		AccountID:       row.AccountID,
		Kind:            kind,
		AmountCoins:     row.AmountCoins,
		RelatedEntity:   row.RelatedEntity,
		RefundsID:       refundsID,
		IdempotencyKey:  row.IdempotencyKey,
		Status:          row.Status,
		MetadataJSON:    string(row.Metadata),
		CreatedUnixUTC:  row.CreatedAt.Unix(),
		RefundedUnixUTC: timeOrZero(row.RefundedAt),
	}, nil
}

func mapMembership(row Membership) (economy.MembershipState, error) {
	tier, err := economy.ParseTier(row.Tier)
	if err != nil {
		return economy.MembershipState{}, err
	}
	usage, err := decodeQuotaUsage(row.QuotaUsage)
	if err != nil {
		return economy.MembershipState{}, err
	}
	return economy.MembershipState{
		AccountID:         row.AccountID,
		Tier:              tier,
		ExpiresAtUnixUTC:  timeOrZero(row.ExpiresAt),
		QuotaUsage:        usage,
		QuotaResetUnixUTC: timeOrZero(row.QuotaResetAt),
	}, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func timePointer(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func encodeQuotaUsage(usage map[string]int64) (datatypes.JSON, error) {
	if usage == nil {
		usage = map[string]int64{}
	}
	encoded, err := json.Marshal(usage)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

func decodeQuotaUsage(raw datatypes.JSON) (map[string]int64, error) {
	usage := map[string]int64{}
	if len(raw) == 0 {
		return usage, nil
	}
	if err := json.Unmarshal([]byte(raw), &usage); err != nil {
		return nil, err
	}
	return usage, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isWriteConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	return false
}
