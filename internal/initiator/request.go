package initiator

import (
	"encoding/json"
	"fmt"
)

// Operation names recorded on the transaction request payload.
const (
	OperationDeposit    = "deposit"
	OperationWithdrawal = "withdrawal"
	OperationTransfer   = "transfer"
)

// RequestPayload is the normalized initiate request. It is persisted on the
// pending transaction row so the reconciliation worker can re-drive the
// posting with the exact original entries, and it is the input to the
// idempotency fingerprint.
type RequestPayload struct {
	Operation            string `json:"operation"`
	AccountID            string `json:"account_id,omitempty"`
	SourceAccountID      string `json:"source_account_id,omitempty"`
	DestinationAccountID string `json:"destination_account_id,omitempty"`
	AmountMinor          int64  `json:"amount_minor"`
	Currency             string `json:"currency"`
	Metadata             string `json:"metadata,omitempty"`
}

// ParseRequestPayload decodes a stored request payload.
func ParseRequestPayload(raw string) (RequestPayload, error) {
	var payload RequestPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return RequestPayload{}, fmt.Errorf("decode request payload: %w", err)
	}
	return payload, nil
}

// Encode serializes the payload for storage on the transaction row.
func (payload RequestPayload) Encode() (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request payload: %w", err)
	}
	return string(encoded), nil
}
