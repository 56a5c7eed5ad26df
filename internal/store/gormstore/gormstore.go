package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	controlOwnerRefPrefix = "control:"
	defaultRequestJSON    = "{}"
	pgUniqueViolationCode = "23505"
	pgRaiseExceptionCode  = "P0001"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectBalance   = "balance"
	errorSubjectEntry     = "entry"
	errorSubjectIdem      = "idempotency"
	errorSubjectTx        = "transaction"
	errorCodeApplyDelta   = "apply_delta"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeImmutable    = "immutable"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLookup       = "lookup"
	errorCodeUpdateStatus = "update_status"
)

// Store implements book.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore book.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// CreateAccount inserts the account row together with its zero balance
// projection so every account always has a lockable balance row.
func (store *Store) CreateAccount(ctx context.Context, account book.Account) error {
	model := Account{
		AccountID:      account.AccountID.String(),
		OrganizationID: account.Scope.Organization(),
		Environment:    account.Scope.Environment().String(),
		OwnerRef:       account.OwnerRef,
		Type:           account.Type.String(),
		Currency:       account.Currency.String(),
		Status:         account.Status.String(),
		CreatedAt:      time.Unix(account.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		err := transaction.Create(&model).Error
		if isUniqueViolation(err) {
			return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, book.ErrAccountExists)
		}
		if err != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
		}
		balance := AccountBalance{
			AccountID:      model.AccountID,
			OrganizationID: model.OrganizationID,
			Environment:    model.Environment,
			UpdatedAt:      model.CreatedAt,
		}
		if err := transaction.Create(&balance).Error; err != nil {
			return wrapStoreError(errorSubjectBalance, errorCodeCreate, err)
		}
		return nil
	})
}

// GetAccount looks an account up by id and verifies the scope, so a valid
// id leaked across organizations reads as a foreign-scope violation, not
// as someone else's account.
func (store *Store) GetAccount(ctx context.Context, scope book.Scope, accountID book.AccountID) (book.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return book.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, book.ErrUnknownAccount)
		}
		return book.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	if model.OrganizationID != scope.Organization() || model.Environment != scope.Environment().String() {
		return book.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, book.ErrForeignScopeAccount)
	}
	account, err := mapAccount(model)
	if err != nil {
		return book.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) FindAccountByOwner(ctx context.Context, scope book.Scope, ownerRef string) (book.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("organization_id = ? AND environment = ? AND owner_ref = ?", scope.Organization(), scope.Environment().String(), ownerRef).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return book.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, book.ErrUnknownAccount)
		}
		return book.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return book.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

// GetOrCreateControlAccount resolves the scope's clearing account for one
// currency, creating it on first use.
func (store *Store) GetOrCreateControlAccount(ctx context.Context, scope book.Scope, currency book.Currency) (book.Account, error) {
	ownerRef := controlOwnerRefPrefix + currency.String()
	account, err := store.FindAccountByOwner(ctx, scope, ownerRef)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, book.ErrUnknownAccount) {
		return book.Account{}, err
	}
	model := Account{
		OrganizationID: scope.Organization(),
		Environment:    scope.Environment().String(),
		OwnerRef:       ownerRef,
		Type:           book.AccountControl.String(),
		Currency:       currency.String(),
		Status:         book.AccountActive.String(),
		CreatedAt:      time.Now().UTC(),
	}
	createErr := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Create(&model).Error; err != nil {
			return err
		}
		balance := AccountBalance{
			AccountID:      model.AccountID,
			OrganizationID: model.OrganizationID,
			Environment:    model.Environment,
			UpdatedAt:      model.CreatedAt,
		}
		return transaction.Create(&balance).Error
	})
	if isUniqueViolation(createErr) {
		// Lost the creation race, the winner's row is authoritative.
		return store.FindAccountByOwner(ctx, scope, ownerRef)
	}
	if createErr != nil {
		return book.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, createErr)
	}
	mapped, err := mapAccount(model)
	if err != nil {
		return book.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) UpdateAccountStatus(ctx context.Context, scope book.Scope, accountID book.AccountID, from, to book.AccountStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND organization_id = ? AND environment = ? AND status = ?",
			accountID.String(), scope.Organization(), scope.Environment().String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateStatus, book.ErrImmutableRecord)
	}
	return nil
}

func (store *Store) CreateTransaction(ctx context.Context, transaction book.Transaction) error {
	var idempotencyKey *string
	if !transaction.IdempotencyKey.IsZero() {
		value := transaction.IdempotencyKey.String()
		idempotencyKey = &value
	}
	model := Transaction{
		TransactionID:     transaction.TransactionID.String(),
		OrganizationID:    transaction.Scope.Organization(),
		Environment:       transaction.Scope.Environment().String(),
		ExternalRef:       transaction.ExternalRef,
		IdempotencyKey:    idempotencyKey,
		Status:            transaction.Status.String(),
		FailureReason:     transaction.FailureReason.String(),
		Request:           datatypesJSON(transaction.RequestJSON),
		ReconcileAttempts: transaction.ReconcileAttempts,
		CreatedAt:         time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:         time.Unix(transaction.UpdatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectTx, errorCodeDuplicate, book.ErrDuplicateIdempotency)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetTransaction(ctx context.Context, scope book.Scope, transactionID book.TransactionID) (book.Transaction, error) {
	var model Transaction
	err := store.db.WithContext(ctx).
		Where("transaction_id = ? AND organization_id = ? AND environment = ?",
			transactionID.String(), scope.Organization(), scope.Environment().String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return book.Transaction{}, wrapStoreError(errorSubjectTx, errorCodeGet, book.ErrUnknownTransaction)
		}
		return book.Transaction{}, wrapStoreError(errorSubjectTx, errorCodeGet, err)
	}
	transaction, err := mapTransaction(model)
	if err != nil {
		return book.Transaction{}, wrapStoreError(errorSubjectTx, errorCodeInvalid, err)
	}
	return transaction, nil
}

// UpdateTransactionStatus is the compare-and-swap on the transaction
// state machine: the WHERE clause only matches rows still in the source
// status, so terminal rows can never be flipped again.
func (store *Store) UpdateTransactionStatus(ctx context.Context, scope book.Scope, transactionID book.TransactionID, from, to book.TransactionStatus, reason book.FailureReason) error {
	result := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("transaction_id = ? AND organization_id = ? AND environment = ? AND status = ?",
			transactionID.String(), scope.Organization(), scope.Environment().String(), from.String()).
		Updates(map[string]interface{}{
			"status":         to.String(),
			"failure_reason": reason.String(),
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		if isImmutableViolation(result.Error) {
			return wrapStoreError(errorSubjectTx, errorCodeImmutable, book.ErrImmutableRecord)
		}
		return wrapStoreError(errorSubjectTx, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := store.db.WithContext(ctx).
			Model(&Transaction{}).
			Where("transaction_id = ? AND organization_id = ? AND environment = ?",
				transactionID.String(), scope.Organization(), scope.Environment().String()).
			Count(&count).Error; err != nil {
			return wrapStoreError(errorSubjectTx, errorCodeUpdateStatus, err)
		}
		if count == 0 {
			return wrapStoreError(errorSubjectTx, errorCodeUpdateStatus, book.ErrUnknownTransaction)
		}
		return wrapStoreError(errorSubjectTx, errorCodeUpdateStatus, book.ErrImmutableRecord)
	}
	return nil
}

func (store *Store) ListPendingTransactions(ctx context.Context, olderThanUnixUTC int64, limit int) ([]book.Transaction, error) {
	var rows []Transaction
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", book.StatusPending.String(), time.Unix(olderThanUnixUTC, 0).UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTx, errorCodeList, err)
	}
	transactions := make([]book.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTx, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) IncrementReconcileAttempts(ctx context.Context, scope book.Scope, transactionID book.TransactionID) (int, error) {
	result := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("transaction_id = ? AND organization_id = ? AND environment = ? AND status = ?",
			transactionID.String(), scope.Organization(), scope.Environment().String(), book.StatusPending.String()).
		UpdateColumn("reconcile_attempts", gorm.Expr("reconcile_attempts + 1"))
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectTx, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectTx, errorCodeUpdateStatus, book.ErrImmutableRecord)
	}
	var model Transaction
	if err := store.db.WithContext(ctx).
		Select("reconcile_attempts").
		Where("transaction_id = ?", transactionID.String()).
		Take(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectTx, errorCodeGet, err)
	}
	return model.ReconcileAttempts, nil
}

func (store *Store) InsertEntries(ctx context.Context, entries []book.Entry) error {
	rows := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, Entry{
			EntryID:       entry.EntryID,
			TransactionID: entry.TransactionID.String(),
			AccountID:     entry.AccountID.String(),
			Direction:     entry.Direction.String(),
			AmountMinor:   entry.AmountMinor.Int64(),
			Currency:      entry.Currency.String(),
			CreatedAt:     time.Unix(entry.CreatedUnixUTC, 0).UTC(),
		})
	}
	if err := store.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListTransactionEntries(ctx context.Context, scope book.Scope, transactionID book.TransactionID) ([]book.Entry, error) {
	var rows []Entry
	err := store.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID.String()).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapEntries(rows)
}

func (store *Store) ListAccountEntries(ctx context.Context, scope book.Scope, accountID book.AccountID, beforeUnixUTC int64, limit int) ([]book.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	var rows []Entry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapEntries(rows)
}

// GetBalanceForUpdate locks the balance row for the rest of the
// surrounding transaction. Concurrent postings touching the same account
// queue here instead of reading a stale balance.
func (store *Store) GetBalanceForUpdate(ctx context.Context, scope book.Scope, accountID book.AccountID) (book.AccountBalance, error) {
	return store.getBalance(ctx, scope, accountID, true)
}

func (store *Store) GetBalance(ctx context.Context, scope book.Scope, accountID book.AccountID) (book.AccountBalance, error) {
	return store.getBalance(ctx, scope, accountID, false)
}

func (store *Store) getBalance(ctx context.Context, scope book.Scope, accountID book.AccountID, forUpdate bool) (book.AccountBalance, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model AccountBalance
	err := query.
		Where("account_id = ? AND organization_id = ? AND environment = ?",
			accountID.String(), scope.Organization(), scope.Environment().String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return book.AccountBalance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, book.ErrUnknownAccount)
		}
		return book.AccountBalance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := mapBalance(model)
	if err != nil {
		return book.AccountBalance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

// ApplyBalanceDelta moves the locked balance row. The version predicate
// backs up the row lock: a stale write loses the compare-and-swap instead
// of clobbering a newer balance.
func (store *Store) ApplyBalanceDelta(ctx context.Context, scope book.Scope, accountID book.AccountID, delta int64, expectVersion int64, atUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&AccountBalance{}).
		Where("account_id = ? AND organization_id = ? AND environment = ? AND version = ?",
			accountID.String(), scope.Organization(), scope.Environment().String(), expectVersion).
		Updates(map[string]interface{}{
			"balance_minor": gorm.Expr("balance_minor + ?", delta),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Unix(atUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeApplyDelta, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeApplyDelta, book.ErrImmutableRecord)
	}
	return nil
}

func (store *Store) GetIdempotencyRecord(ctx context.Context, scope book.Scope, key book.IdempotencyKey) (book.IdempotencyRecord, error) {
	var model IdempotencyRecord
	err := store.db.WithContext(ctx).
		Where("organization_id = ? AND environment = ? AND idempotency_key = ?",
			scope.Organization(), scope.Environment().String(), key.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return book.IdempotencyRecord{}, wrapStoreError(errorSubjectIdem, errorCodeGet, book.ErrUnknownIdempotency)
		}
		return book.IdempotencyRecord{}, wrapStoreError(errorSubjectIdem, errorCodeGet, err)
	}
	record, err := mapIdempotencyRecord(model)
	if err != nil {
		return book.IdempotencyRecord{}, wrapStoreError(errorSubjectIdem, errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) CreateIdempotencyRecord(ctx context.Context, record book.IdempotencyRecord) error {
	model := IdempotencyRecord{
		OrganizationID: record.Scope.Organization(),
		Environment:    record.Scope.Environment().String(),
		IdempotencyKey: record.Key.String(),
		Fingerprint:    record.Fingerprint,
		TransactionID:  record.TransactionID.String(),
		CreatedAt:      time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectIdem, errorCodeDuplicate, book.ErrDuplicateIdempotency)
	}
	if err != nil {
		return wrapStoreError(errorSubjectIdem, errorCodeCreate, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return book.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(model Account) (book.Account, error) {
	accountID, err := book.NewAccountID(model.AccountID)
	if err != nil {
		return book.Account{}, err
	}
	scope, err := book.NewScope(model.OrganizationID, model.Environment)
	if err != nil {
		return book.Account{}, err
	}
	accountType, err := book.ParseAccountType(model.Type)
	if err != nil {
		return book.Account{}, err
	}
	currency, err := book.NewCurrency(model.Currency)
	if err != nil {
		return book.Account{}, err
	}
	status, err := book.ParseAccountStatus(model.Status)
	if err != nil {
		return book.Account{}, err
	}
	return book.Account{
		AccountID:      accountID,
		Scope:          scope,
		OwnerRef:       model.OwnerRef,
		Type:           accountType,
		Currency:       currency,
		Status:         status,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func mapTransaction(model Transaction) (book.Transaction, error) {
	transactionID, err := book.NewTransactionID(model.TransactionID)
	if err != nil {
		return book.Transaction{}, err
	}
	scope, err := book.NewScope(model.OrganizationID, model.Environment)
	if err != nil {
		return book.Transaction{}, err
	}
	status, err := book.ParseTransactionStatus(model.Status)
	if err != nil {
		return book.Transaction{}, err
	}
	var idempotencyKey book.IdempotencyKey
	if model.IdempotencyKey != nil {
		idempotencyKey, err = book.NewIdempotencyKey(*model.IdempotencyKey)
		if err != nil {
			return book.Transaction{}, err
		}
	}
	return book.Transaction{
		TransactionID:     transactionID,
		Scope:             scope,
		ExternalRef:       model.ExternalRef,
		IdempotencyKey:    idempotencyKey,
		Status:            status,
		FailureReason:     book.FailureReason(model.FailureReason),
		RequestJSON:       string(model.Request),
		ReconcileAttempts: model.ReconcileAttempts,
		CreatedUnixUTC:    model.CreatedAt.Unix(),
		UpdatedUnixUTC:    model.UpdatedAt.Unix(),
	}, nil
}

func mapEntries(rows []Entry) ([]book.Entry, error) {
	entries := make([]book.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapEntry(model Entry) (book.Entry, error) {
	transactionID, err := book.NewTransactionID(model.TransactionID)
	if err != nil {
		return book.Entry{}, err
	}
	accountID, err := book.NewAccountID(model.AccountID)
	if err != nil {
		return book.Entry{}, err
	}
	direction, err := book.ParseEntryDirection(model.Direction)
	if err != nil {
		return book.Entry{}, err
	}
	amount, err := book.NewAmountMinor(model.AmountMinor)
	if err != nil {
		return book.Entry{}, err
	}
	currency, err := book.NewCurrency(model.Currency)
	if err != nil {
		return book.Entry{}, err
	}
	return book.Entry{
		EntryID:        model.EntryID,
		TransactionID:  transactionID,
		AccountID:      accountID,
		Direction:      direction,
		AmountMinor:    amount,
		Currency:       currency,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func mapBalance(model AccountBalance) (book.AccountBalance, error) {
	accountID, err := book.NewAccountID(model.AccountID)
	if err != nil {
		return book.AccountBalance{}, err
	}
	scope, err := book.NewScope(model.OrganizationID, model.Environment)
	if err != nil {
		return book.AccountBalance{}, err
	}
	return book.AccountBalance{
		AccountID:      accountID,
		Scope:          scope,
		BalanceMinor:   model.BalanceMinor,
		Version:        model.Version,
		UpdatedUnixUTC: model.UpdatedAt.Unix(),
	}, nil
}

func mapIdempotencyRecord(model IdempotencyRecord) (book.IdempotencyRecord, error) {
	scope, err := book.NewScope(model.OrganizationID, model.Environment)
	if err != nil {
		return book.IdempotencyRecord{}, err
	}
	key, err := book.NewIdempotencyKey(model.IdempotencyKey)
	if err != nil {
		return book.IdempotencyRecord{}, err
	}
	transactionID, err := book.NewTransactionID(model.TransactionID)
	if err != nil {
		return book.IdempotencyRecord{}, err
	}
	return book.IdempotencyRecord{
		Scope:          scope,
		Key:            key,
		Fingerprint:    model.Fingerprint,
		TransactionID:  transactionID,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultRequestJSON))
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

// isImmutableViolation recognizes the database-level guard triggers
// installed by InstallImmutabilityGuards.
func isImmutableViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgRaiseExceptionCode && strings.Contains(pgErr.Message, "immutable")
	}
	return strings.Contains(err.Error(), "immutable")
}
