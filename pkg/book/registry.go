package book

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateAccount registers a ledger account inside a scope. OwnerRef is
// unique per scope, so retrying a provisioning call returns the account
// the first attempt created instead of minting a second one.
func (service *Service) CreateAccount(ctx context.Context, scope Scope, ownerRef string, accountType AccountType, currency Currency) (Account, error) {
	var account Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if ownerRef == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidOwnerRef)
		}
		existing, err := txStore.FindAccountByOwner(ctx, scope, ownerRef)
		if err == nil {
			account = existing
			return nil
		}
		if !errors.Is(err, ErrUnknownAccount) {
			return err
		}
		accountID, err := NewAccountID(uuid.NewString())
		if err != nil {
			return err
		}
		account = Account{
			AccountID:      accountID,
			Scope:          scope,
			OwnerRef:       ownerRef,
			Type:           accountType,
			Currency:       currency,
			Status:         AccountActive,
			CreatedUnixUTC: service.nowFn(),
		}
		return txStore.CreateAccount(ctx, account)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateAccount,
		Scope:     scope,
		AccountID: account.AccountID,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return account, nil
}

// CloseAccount transitions an account from active to closed. The status
// column is the only mutable part of an account row.
func (service *Service) CloseAccount(ctx context.Context, scope Scope, accountID AccountID) error {
	operationError := service.store.UpdateAccountStatus(ctx, scope, accountID, AccountActive, AccountClosed)
	service.logOperation(ctx, OperationLog{
		Operation: operationCloseAccount,
		Scope:     scope,
		AccountID: accountID,
		Error:     operationError,
	})
	return operationError
}

// GetAccount reads one account within a scope.
func (service *Service) GetAccount(ctx context.Context, scope Scope, accountID AccountID) (Account, error) {
	return service.store.GetAccount(ctx, scope, accountID)
}

// Balance reads the materialized balance projection for an account.
func (service *Service) Balance(ctx context.Context, scope Scope, accountID AccountID) (AccountBalance, error) {
	balance, err := service.store.GetBalance(ctx, scope, accountID)
	if err != nil {
		return AccountBalance{}, WrapError(operationBalance, "balance", "get", err)
	}
	return balance, nil
}

// ListAccountEntries lists posted entries for an account before a cutoff.
func (service *Service) ListAccountEntries(ctx context.Context, scope Scope, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	return service.store.ListAccountEntries(ctx, scope, accountID, beforeUnixUTC, limit)
}

// ListTransactionEntries lists the entries posted under one transaction.
func (service *Service) ListTransactionEntries(ctx context.Context, scope Scope, transactionID TransactionID) ([]Entry, error) {
	return service.store.ListTransactionEntries(ctx, scope, transactionID)
}
