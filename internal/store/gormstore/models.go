package gormstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account mirrors the ledger_accounts table. OwnerRef is unique per scope
// so provisioning retries resolve to the account already created.
type Account struct {
	AccountID      string    `gorm:"type:uuid;primaryKey"`
	OrganizationID string    `gorm:"not null;index:idx_accounts_scope_owner,unique,priority:1"`
	Environment    string    `gorm:"not null;index:idx_accounts_scope_owner,unique,priority:2"`
	OwnerRef       string    `gorm:"not null;index:idx_accounts_scope_owner,unique,priority:3"`
	Type           string    `gorm:"not null"`
	Currency       string    `gorm:"not null"`
	Status         string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "ledger_accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// Accounts are never deleted, only closed.
func (account *Account) BeforeDelete(tx *gorm.DB) error {
	return book.ErrImmutableRecord
}

// Transaction mirrors the ledger_transactions table. Request holds the
// normalized initiate payload for reconciliation re-drives.
type Transaction struct {
	TransactionID     string         `gorm:"type:uuid;primaryKey"`
	OrganizationID    string         `gorm:"not null;index:idx_transactions_scope,priority:1"`
	Environment       string         `gorm:"not null;index:idx_transactions_scope,priority:2"`
	ExternalRef       string         `gorm:""`
	IdempotencyKey    *string        `gorm:""`
	Status            string         `gorm:"not null;index:idx_transactions_status_created,priority:1"`
	FailureReason     string         `gorm:""`
	Request           datatypes.JSON `gorm:"type:jsonb"`
	ReconcileAttempts int            `gorm:"not null;default:0"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_transactions_status_created,priority:2"`
	UpdatedAt         time.Time      `gorm:"not null"`
}

func (Transaction) TableName() string { return "ledger_transactions" }

func (transaction *Transaction) BeforeDelete(tx *gorm.DB) error {
	return book.ErrImmutableRecord
}

// Entry mirrors the ledger_entries table. Entries are write-once; the Go
// hooks are the first line of defense and the database triggers installed
// by InstallImmutabilityGuards are the second.
type Entry struct {
	EntryID       string    `gorm:"type:uuid;primaryKey"`
	TransactionID string    `gorm:"type:uuid;not null;index:idx_entries_transaction"`
	AccountID     string    `gorm:"type:uuid;not null;index:idx_entries_account_created,priority:1"`
	Direction     string    `gorm:"not null"`
	AmountMinor   int64     `gorm:"not null"`
	Currency      string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index:idx_entries_account_created,priority:2"`
}

func (Entry) TableName() string { return "ledger_entries" }

func (entry *Entry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

func (entry *Entry) BeforeUpdate(tx *gorm.DB) error {
	return book.ErrImmutableRecord
}

func (entry *Entry) BeforeDelete(tx *gorm.DB) error {
	return book.ErrImmutableRecord
}

// AccountBalance mirrors the account_balances table: the materialized
// projection of posted entries, written only inside the posting
// transaction and serialized by row locks plus the version column.
type AccountBalance struct {
	AccountID      string    `gorm:"type:uuid;primaryKey"`
	OrganizationID string    `gorm:"not null"`
	Environment    string    `gorm:"not null"`
	BalanceMinor   int64     `gorm:"not null;default:0"`
	Version        int64     `gorm:"not null;default:0"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (AccountBalance) TableName() string { return "account_balances" }

// IdempotencyRecord mirrors the idempotency_records table, keyed by
// (organization, environment, key).
type IdempotencyRecord struct {
	OrganizationID string    `gorm:"primaryKey"`
	Environment    string    `gorm:"primaryKey"`
	IdempotencyKey string    `gorm:"primaryKey"`
	Fingerprint    string    `gorm:"not null"`
	TransactionID  string    `gorm:"type:uuid;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }
