package gormstore

import (
	"gorm.io/gorm"
)

const (
	// DriverPostgres and DriverSQLite name the supported database drivers.
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var postgresGuardStatements = []string{
	`CREATE OR REPLACE FUNCTION ledger_reject_entry_change() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'ledger entries are immutable';
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS trg_entries_immutable_update ON ledger_entries`,
	`CREATE TRIGGER trg_entries_immutable_update BEFORE UPDATE ON ledger_entries
FOR EACH ROW EXECUTE FUNCTION ledger_reject_entry_change()`,
	`DROP TRIGGER IF EXISTS trg_entries_immutable_delete ON ledger_entries`,
	`CREATE TRIGGER trg_entries_immutable_delete BEFORE DELETE ON ledger_entries
FOR EACH ROW EXECUTE FUNCTION ledger_reject_entry_change()`,
	`CREATE OR REPLACE FUNCTION ledger_reject_terminal_change() RETURNS trigger AS $$
BEGIN
	IF OLD.status IN ('posted', 'failed') THEN
		RAISE EXCEPTION 'terminal transactions are immutable';
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS trg_transactions_terminal ON ledger_transactions`,
	`CREATE TRIGGER trg_transactions_terminal BEFORE UPDATE ON ledger_transactions
FOR EACH ROW EXECUTE FUNCTION ledger_reject_terminal_change()`,
	`CREATE OR REPLACE FUNCTION ledger_reject_row_delete() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'ledger rows are immutable';
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS trg_transactions_immutable_delete ON ledger_transactions`,
	`CREATE TRIGGER trg_transactions_immutable_delete BEFORE DELETE ON ledger_transactions
FOR EACH ROW EXECUTE FUNCTION ledger_reject_row_delete()`,
	`DROP TRIGGER IF EXISTS trg_accounts_immutable_delete ON ledger_accounts`,
	`CREATE TRIGGER trg_accounts_immutable_delete BEFORE DELETE ON ledger_accounts
FOR EACH ROW EXECUTE FUNCTION ledger_reject_row_delete()`,
}

var sqliteGuardStatements = []string{
	`CREATE TRIGGER IF NOT EXISTS trg_entries_immutable_update BEFORE UPDATE ON ledger_entries
BEGIN
	SELECT RAISE(ABORT, 'ledger entries are immutable');
END`,
	`CREATE TRIGGER IF NOT EXISTS trg_entries_immutable_delete BEFORE DELETE ON ledger_entries
BEGIN
	SELECT RAISE(ABORT, 'ledger entries are immutable');
END`,
	`CREATE TRIGGER IF NOT EXISTS trg_transactions_terminal BEFORE UPDATE ON ledger_transactions
WHEN OLD.status IN ('posted', 'failed')
BEGIN
	SELECT RAISE(ABORT, 'terminal transactions are immutable');
END`,
	`CREATE TRIGGER IF NOT EXISTS trg_transactions_immutable_delete BEFORE DELETE ON ledger_transactions
BEGIN
	SELECT RAISE(ABORT, 'ledger rows are immutable');
END`,
	`CREATE TRIGGER IF NOT EXISTS trg_accounts_immutable_delete BEFORE DELETE ON ledger_accounts
BEGIN
	SELECT RAISE(ABORT, 'ledger rows are immutable');
END`,
}

// InstallImmutabilityGuards adds database triggers that reject any attempt
// to rewrite posted entries, flip terminal transactions, or delete ledger
// rows. The application never issues those statements, the triggers exist
// so nothing else can either.
func InstallImmutabilityGuards(db *gorm.DB, driver string) error {
	statements := sqliteGuardStatements
	if driver == DriverPostgres {
		statements = postgresGuardStatements
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			return wrapStoreError(errorSubjectEntry, errorCodeCreate, err)
		}
	}
	return nil
}

// Migrate creates or updates the schema and installs the immutability
// guards on top of it.
func Migrate(db *gorm.DB, driver string) error {
	if err := db.AutoMigrate(&Account{}, &Transaction{}, &Entry{}, &AccountBalance{}, &IdempotencyRecord{}); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return InstallImmutabilityGuards(db, driver)
}
