// Package ledgerv1 defines the wire messages for the ledger.v1.LedgerEngine
// gRPC service. Messages travel as JSON through a registered codec, so the
// structs carry json tags instead of generated protobuf machinery.
package ledgerv1

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ledger.v1.LedgerEngine"

type EntryInput struct {
	AccountID   string `json:"account_id"`
	Direction   string `json:"direction"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

type PostRequest struct {
	OrganizationID string       `json:"organization_id"`
	Environment    string       `json:"environment"`
	TransactionID  string       `json:"transaction_id"`
	ExternalRef    string       `json:"external_ref,omitempty"`
	Entries        []EntryInput `json:"entries"`
}

type Transaction struct {
	TransactionID  string `json:"transaction_id"`
	OrganizationID string `json:"organization_id"`
	Environment    string `json:"environment"`
	ExternalRef    string `json:"external_ref,omitempty"`
	Status         string `json:"status"`
	FailureReason  string `json:"failure_reason,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
	UpdatedUnixUTC int64  `json:"updated_unix_utc"`
}

type PostResponse struct {
	Transaction Transaction `json:"transaction"`
}

type GetTransactionRequest struct {
	OrganizationID string `json:"organization_id"`
	Environment    string `json:"environment"`
	TransactionID  string `json:"transaction_id"`
}

type GetTransactionResponse struct {
	Transaction Transaction `json:"transaction"`
}

type CreateAccountRequest struct {
	OrganizationID string `json:"organization_id"`
	Environment    string `json:"environment"`
	OwnerRef       string `json:"owner_ref"`
	Type           string `json:"type"`
	Currency       string `json:"currency"`
}

type Account struct {
	AccountID      string `json:"account_id"`
	OrganizationID string `json:"organization_id"`
	Environment    string `json:"environment"`
	OwnerRef       string `json:"owner_ref"`
	Type           string `json:"type"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type CreateAccountResponse struct {
	Account Account `json:"account"`
}

type CloseAccountRequest struct {
	OrganizationID string `json:"organization_id"`
	Environment    string `json:"environment"`
	AccountID      string `json:"account_id"`
}

type CloseAccountResponse struct {
	Account Account `json:"account"`
}

type GetBalanceRequest struct {
	OrganizationID string `json:"organization_id"`
	Environment    string `json:"environment"`
	AccountID      string `json:"account_id"`
}

type GetBalanceResponse struct {
	AccountID      string `json:"account_id"`
	BalanceMinor   int64  `json:"balance_minor"`
	Currency       string `json:"currency"`
	Version        int64  `json:"version"`
	UpdatedUnixUTC int64  `json:"updated_unix_utc"`
}

type Entry struct {
	EntryID        string `json:"entry_id"`
	TransactionID  string `json:"transaction_id"`
	AccountID      string `json:"account_id"`
	Direction      string `json:"direction"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type ListAccountEntriesRequest struct {
	OrganizationID string `json:"organization_id"`
	Environment    string `json:"environment"`
	AccountID      string `json:"account_id"`
	BeforeUnixUTC  int64  `json:"before_unix_utc,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type ListAccountEntriesResponse struct {
	Entries []Entry `json:"entries"`
}

type ListTransactionEntriesRequest struct {
	OrganizationID string `json:"organization_id"`
	Environment    string `json:"environment"`
	TransactionID  string `json:"transaction_id"`
}

type ListTransactionEntriesResponse struct {
	Entries []Entry `json:"entries"`
}
