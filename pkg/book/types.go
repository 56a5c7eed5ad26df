package book

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Environment partitions a scope into isolated books.
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

// ParseEnvironment validates an environment name.
func ParseEnvironment(raw string) (Environment, error) {
	switch Environment(strings.TrimSpace(raw)) {
	case EnvironmentSandbox:
		return EnvironmentSandbox, nil
	case EnvironmentProduction:
		return EnvironmentProduction, nil
	default:
		return "", fmt.Errorf("%w: unknown environment %q", ErrInvalidScope, raw)
	}
}

// String returns the environment name.
func (environment Environment) String() string {
	return string(environment)
}

// Scope is the (organization, environment) partition key every record
// carries. The engine trusts it as opaque; records never cross scopes.
type Scope struct {
	organization string
	environment  Environment
}

// NewScope validates and normalizes a scope.
func NewScope(organization string, environment string) (Scope, error) {
	trimmed := strings.TrimSpace(organization)
	if trimmed == "" {
		return Scope{}, fmt.Errorf("%w: empty organization", ErrInvalidScope)
	}
	parsedEnvironment, err := ParseEnvironment(environment)
	if err != nil {
		return Scope{}, err
	}
	return Scope{organization: trimmed, environment: parsedEnvironment}, nil
}

// Organization returns the owning organization id.
func (scope Scope) Organization() string {
	return scope.organization
}

// Environment returns the sandbox/production partition.
func (scope Scope) Environment() Environment {
	return scope.environment
}

// String returns "organization/environment".
func (scope Scope) String() string {
	return scope.organization + "/" + string(scope.environment)
}

// IsZero reports whether the scope was never initialized.
func (scope Scope) IsZero() bool {
	return scope.organization == ""
}

// AccountID identifies a ledger account.
type AccountID struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the id was never initialized.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// TransactionID identifies a ledger transaction.
type TransactionID struct {
	value string
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// IsZero reports whether the id was never initialized.
func (id TransactionID) IsZero() bool {
	return id.value == ""
}

// IdempotencyKey scopes duplicate detection for initiate requests.
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether the key was never initialized.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// AmountMinor is a strictly positive amount in minor currency units.
type AmountMinor int64

// NewAmountMinor validates an amount and ensures it is strictly positive.
func NewAmountMinor(raw int64) (AmountMinor, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountMinor)
	}
	return AmountMinor(raw), nil
}

// Int64 returns the raw minor-unit amount.
func (amount AmountMinor) Int64() int64 {
	return int64(amount)
}

// Currency is an upper-case ISO-4217 alphabetic code.
type Currency struct {
	value string
}

// NewCurrency validates and normalizes a currency code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if len(normalized) != 3 {
		return Currency{}, fmt.Errorf("%w: must be a three-letter code", ErrInvalidCurrency)
	}
	for _, letter := range normalized {
		if letter < 'A' || letter > 'Z' {
			return Currency{}, fmt.Errorf("%w: must be alphabetic", ErrInvalidCurrency)
		}
	}
	return Currency{value: normalized}, nil
}

// String returns the normalized code.
func (currency Currency) String() string {
	return currency.value
}

// IsZero reports whether the currency was never initialized.
func (currency Currency) IsZero() bool {
	return currency.value == ""
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates a metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// EntryDirection enumerates the two sides of the book.
type EntryDirection string

const (
	DirectionDebit  EntryDirection = "debit"
	DirectionCredit EntryDirection = "credit"
)

// ParseEntryDirection validates an entry direction.
func ParseEntryDirection(raw string) (EntryDirection, error) {
	switch EntryDirection(raw) {
	case DirectionDebit:
		return DirectionDebit, nil
	case DirectionCredit:
		return DirectionCredit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// String returns the direction name.
func (direction EntryDirection) String() string {
	return string(direction)
}

// AccountType enumerates ledger account kinds.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountControl   AccountType = "control"
)

// ParseAccountType validates an account type.
func ParseAccountType(raw string) (AccountType, error) {
	switch AccountType(raw) {
	case AccountAsset, AccountLiability, AccountEquity, AccountControl:
		return AccountType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountType, raw)
	}
}

// String returns the type name.
func (accountType AccountType) String() string {
	return string(accountType)
}

// AccountStatus defines the account lifecycle. Accounts are never deleted.
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountClosed AccountStatus = "closed"
)

// ParseAccountStatus validates an account status.
func ParseAccountStatus(raw string) (AccountStatus, error) {
	switch AccountStatus(raw) {
	case AccountActive, AccountClosed:
		return AccountStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountStatus, raw)
	}
}

// String returns the status name.
func (status AccountStatus) String() string {
	return string(status)
}

// TransactionStatus defines the transaction state machine.
// Pending is the only non-terminal state.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusPosted  TransactionStatus = "posted"
	StatusFailed  TransactionStatus = "failed"
)

// ParseTransactionStatus validates a transaction status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case StatusPending, StatusPosted, StatusFailed:
		return TransactionStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// String returns the status name.
func (status TransactionStatus) String() string {
	return string(status)
}

// Terminal reports whether the status admits no further transition.
func (status TransactionStatus) Terminal() bool {
	return status == StatusPosted || status == StatusFailed
}

// FailureReason is the machine-readable cause recorded on failed transactions.
type FailureReason string

const (
	ReasonNone                  FailureReason = ""
	ReasonTooFewEntries         FailureReason = "too_few_entries"
	ReasonUnbalancedEntries     FailureReason = "unbalanced_entries"
	ReasonCurrencyMismatch      FailureReason = "currency_mismatch"
	ReasonUnknownAccount        FailureReason = "unknown_account"
	ReasonAccountClosed         FailureReason = "account_closed"
	ReasonInsufficientFunds     FailureReason = "insufficient_funds"
	ReasonReconciliationTimeout FailureReason = "reconciliation_timeout"
)

// String returns the reason name.
func (reason FailureReason) String() string {
	return string(reason)
}
