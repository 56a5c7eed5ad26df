package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/bookkeeper/api/ledgerv1"
	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	methodPost                   = "/" + ledgerv1.ServiceName + "/Post"
	methodGetTransaction         = "/" + ledgerv1.ServiceName + "/GetTransaction"
	methodCreateAccount          = "/" + ledgerv1.ServiceName + "/CreateAccount"
	methodCloseAccount           = "/" + ledgerv1.ServiceName + "/CloseAccount"
	methodGetBalance             = "/" + ledgerv1.ServiceName + "/GetBalance"
	methodListAccountEntries     = "/" + ledgerv1.ServiceName + "/ListAccountEntries"
	methodListTransactionEntries = "/" + ledgerv1.ServiceName + "/ListTransactionEntries"

	defaultInvokeAttempts = 3
	defaultRetryBackoff   = 200 * time.Millisecond
)

// Client drives a remote posting engine. It mirrors the in-process
// *book.Service surface closely enough that the initiator and the
// reconciliation worker cannot tell the difference.
type Client struct {
	connection   grpc.ClientConnInterface
	attempts     int
	retryBackoff time.Duration
}

// ClientOption adjusts client behavior.
type ClientOption func(*Client)

// WithInvokeAttempts caps how many times a transient failure is retried
// before it is surfaced as ErrTransientDependency.
func WithInvokeAttempts(attempts int) ClientOption {
	return func(client *Client) {
		if attempts > 0 {
			client.attempts = attempts
		}
	}
}

// WithRetryBackoff sets the pause between retry attempts.
func WithRetryBackoff(backoff time.Duration) ClientOption {
	return func(client *Client) {
		if backoff > 0 {
			client.retryBackoff = backoff
		}
	}
}

// NewClient wraps an established gRPC connection.
func NewClient(connection grpc.ClientConnInterface, options ...ClientOption) *Client {
	client := &Client{
		connection:   connection,
		attempts:     defaultInvokeAttempts,
		retryBackoff: defaultRetryBackoff,
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client
}

// Post submits a balanced entry set under the caller's transaction id.
// The remote engine reports validation failures as a terminal failed
// transaction; Post converts that back into the matching domain error so
// remote and in-process engines behave identically.
func (client *Client) Post(ctx context.Context, scope book.Scope, transactionID book.TransactionID, externalRef string, entries []book.EntryInput) (book.Transaction, error) {
	request := &ledgerv1.PostRequest{
		OrganizationID: scope.Organization(),
		Environment:    scope.Environment().String(),
		TransactionID:  transactionID.String(),
		ExternalRef:    externalRef,
		Entries:        encodeEntryInputs(entries),
	}
	response := &ledgerv1.PostResponse{}
	if err := client.invoke(ctx, methodPost, request, response); err != nil {
		return book.Transaction{}, err
	}
	transaction, err := decodeTransaction(response.Transaction)
	if err != nil {
		return book.Transaction{}, err
	}
	return transaction, book.TerminalFailure(transaction)
}

func (client *Client) GetTransaction(ctx context.Context, scope book.Scope, transactionID book.TransactionID) (book.Transaction, error) {
	request := &ledgerv1.GetTransactionRequest{
		OrganizationID: scope.Organization(),
		Environment:    scope.Environment().String(),
		TransactionID:  transactionID.String(),
	}
	response := &ledgerv1.GetTransactionResponse{}
	if err := client.invoke(ctx, methodGetTransaction, request, response); err != nil {
		return book.Transaction{}, err
	}
	return decodeTransaction(response.Transaction)
}

func (client *Client) CreateAccount(ctx context.Context, scope book.Scope, ownerRef string, accountType book.AccountType, currency book.Currency) (book.Account, error) {
	request := &ledgerv1.CreateAccountRequest{
		OrganizationID: scope.Organization(),
		Environment:    scope.Environment().String(),
		OwnerRef:       ownerRef,
		Type:           accountType.String(),
		Currency:       currency.String(),
	}
	response := &ledgerv1.CreateAccountResponse{}
	if err := client.invoke(ctx, methodCreateAccount, request, response); err != nil {
		return book.Account{}, err
	}
	return decodeAccount(response.Account)
}

func (client *Client) CloseAccount(ctx context.Context, scope book.Scope, accountID book.AccountID) error {
	request := &ledgerv1.CloseAccountRequest{
		OrganizationID: scope.Organization(),
		Environment:    scope.Environment().String(),
		AccountID:      accountID.String(),
	}
	response := &ledgerv1.CloseAccountResponse{}
	return client.invoke(ctx, methodCloseAccount, request, response)
}

func (client *Client) GetBalance(ctx context.Context, scope book.Scope, accountID book.AccountID) (book.AccountBalance, error) {
	request := &ledgerv1.GetBalanceRequest{
		OrganizationID: scope.Organization(),
		Environment:    scope.Environment().String(),
		AccountID:      accountID.String(),
	}
	response := &ledgerv1.GetBalanceResponse{}
	if err := client.invoke(ctx, methodGetBalance, request, response); err != nil {
		return book.AccountBalance{}, err
	}
	decodedAccountID, err := book.NewAccountID(response.AccountID)
	if err != nil {
		return book.AccountBalance{}, err
	}
	return book.AccountBalance{
		AccountID:      decodedAccountID,
		Scope:          scope,
		BalanceMinor:   response.BalanceMinor,
		Version:        response.Version,
		UpdatedUnixUTC: response.UpdatedUnixUTC,
	}, nil
}

func (client *Client) ListAccountEntries(ctx context.Context, scope book.Scope, accountID book.AccountID, beforeUnixUTC int64, limit int) ([]book.Entry, error) {
	request := &ledgerv1.ListAccountEntriesRequest{
		OrganizationID: scope.Organization(),
		Environment:    scope.Environment().String(),
		AccountID:      accountID.String(),
		BeforeUnixUTC:  beforeUnixUTC,
		Limit:          limit,
	}
	response := &ledgerv1.ListAccountEntriesResponse{}
	if err := client.invoke(ctx, methodListAccountEntries, request, response); err != nil {
		return nil, err
	}
	return decodeEntries(response.Entries)
}

func (client *Client) ListTransactionEntries(ctx context.Context, scope book.Scope, transactionID book.TransactionID) ([]book.Entry, error) {
	request := &ledgerv1.ListTransactionEntriesRequest{
		OrganizationID: scope.Organization(),
		Environment:    scope.Environment().String(),
		TransactionID:  transactionID.String(),
	}
	response := &ledgerv1.ListTransactionEntriesResponse{}
	if err := client.invoke(ctx, methodListTransactionEntries, request, response); err != nil {
		return nil, err
	}
	return decodeEntries(response.Entries)
}

// invoke performs the unary call with a bounded retry on transport-level
// failures. Retrying Post is safe because the engine keys every posting
// on the caller-supplied transaction id.
func (client *Client) invoke(ctx context.Context, method string, request interface{}, response interface{}) error {
	var lastErr error
	for attempt := 0; attempt < client.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", book.ErrTransientDependency, ctx.Err())
			case <-time.After(client.retryBackoff):
			}
		}
		err := client.connection.Invoke(ctx, method, request, response, grpc.CallContentSubtype(CodecName))
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return mapFromGRPCError(err)
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", book.ErrTransientDependency, lastErr)
}

func isRetryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		return true
	default:
		return false
	}
}

func mapFromGRPCError(err error) error {
	remote, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", book.ErrTransientDependency, err)
	}
	switch remote.Code() {
	case codes.InvalidArgument:
		return sentinelForMessage(remote.Message(), err)
	case codes.NotFound:
		return sentinelForMessage(remote.Message(), err)
	case codes.AlreadyExists:
		return sentinelForMessage(remote.Message(), err)
	case codes.FailedPrecondition:
		return sentinelForMessage(remote.Message(), err)
	case codes.PermissionDenied:
		return sentinelForMessage(remote.Message(), err)
	default:
		return err
	}
}

// sentinelForMessage reverses mapToGRPCError: the server encodes the
// domain condition as a stable message code.
func sentinelForMessage(message string, fallback error) error {
	switch message {
	case errorTooFewEntries:
		return book.ErrTooFewEntries
	case errorUnbalancedEntries:
		return book.ErrUnbalancedEntries
	case errorCurrencyMismatch:
		return book.ErrCurrencyMismatch
	case errorUnknownAccount:
		return book.ErrUnknownAccount
	case errorForeignScopeAccount:
		return book.ErrForeignScopeAccount
	case errorAccountClosed:
		return book.ErrAccountClosed
	case errorAccountExists:
		return book.ErrAccountExists
	case errorInsufficientFunds:
		return book.ErrInsufficientFunds
	case errorUnknownTransaction:
		return book.ErrUnknownTransaction
	case errorImmutableRecord:
		return book.ErrImmutableRecord
	case errorDuplicateIdempotency:
		return book.ErrDuplicateIdempotency
	case errorInvalidScope:
		return book.ErrInvalidScope
	case errorInvalidAccountID:
		return book.ErrInvalidAccountID
	case errorInvalidTransactionID:
		return book.ErrInvalidTransactionID
	case errorInvalidOwnerRef:
		return book.ErrInvalidOwnerRef
	case errorInvalidAmount:
		return book.ErrInvalidAmountMinor
	case errorInvalidCurrency:
		return book.ErrInvalidCurrency
	case errorInvalidDirection:
		return book.ErrInvalidDirection
	case errorInvalidAccountType:
		return book.ErrInvalidAccountType
	default:
		return fallback
	}
}

func encodeEntryInputs(entries []book.EntryInput) []ledgerv1.EntryInput {
	encoded := make([]ledgerv1.EntryInput, 0, len(entries))
	for _, entry := range entries {
		encoded = append(encoded, ledgerv1.EntryInput{
			AccountID:   entry.AccountID.String(),
			Direction:   entry.Direction.String(),
			AmountMinor: entry.AmountMinor.Int64(),
			Currency:    entry.Currency.String(),
		})
	}
	return encoded
}

func decodeTransaction(wire ledgerv1.Transaction) (book.Transaction, error) {
	transactionID, err := book.NewTransactionID(wire.TransactionID)
	if err != nil {
		return book.Transaction{}, err
	}
	scope, err := book.NewScope(wire.OrganizationID, wire.Environment)
	if err != nil {
		return book.Transaction{}, err
	}
	transactionStatus, err := book.ParseTransactionStatus(wire.Status)
	if err != nil {
		return book.Transaction{}, err
	}
	return book.Transaction{
		TransactionID:  transactionID,
		Scope:          scope,
		ExternalRef:    wire.ExternalRef,
		Status:         transactionStatus,
		FailureReason:  book.FailureReason(wire.FailureReason),
		CreatedUnixUTC: wire.CreatedUnixUTC,
		UpdatedUnixUTC: wire.UpdatedUnixUTC,
	}, nil
}

func decodeAccount(wire ledgerv1.Account) (book.Account, error) {
	accountID, err := book.NewAccountID(wire.AccountID)
	if err != nil {
		return book.Account{}, err
	}
	scope, err := book.NewScope(wire.OrganizationID, wire.Environment)
	if err != nil {
		return book.Account{}, err
	}
	accountType, err := book.ParseAccountType(wire.Type)
	if err != nil {
		return book.Account{}, err
	}
	currency, err := book.NewCurrency(wire.Currency)
	if err != nil {
		return book.Account{}, err
	}
	accountStatus, err := book.ParseAccountStatus(wire.Status)
	if err != nil {
		return book.Account{}, err
	}
	return book.Account{
		AccountID:      accountID,
		Scope:          scope,
		OwnerRef:       wire.OwnerRef,
		Type:           accountType,
		Currency:       currency,
		Status:         accountStatus,
		CreatedUnixUTC: wire.CreatedUnixUTC,
	}, nil
}

func decodeEntries(wire []ledgerv1.Entry) ([]book.Entry, error) {
	entries := make([]book.Entry, 0, len(wire))
	for _, item := range wire {
		transactionID, err := book.NewTransactionID(item.TransactionID)
		if err != nil {
			return nil, err
		}
		accountID, err := book.NewAccountID(item.AccountID)
		if err != nil {
			return nil, err
		}
		direction, err := book.ParseEntryDirection(item.Direction)
		if err != nil {
			return nil, err
		}
		amount, err := book.NewAmountMinor(item.AmountMinor)
		if err != nil {
			return nil, err
		}
		currency, err := book.NewCurrency(item.Currency)
		if err != nil {
			return nil, err
		}
		entries = append(entries, book.Entry{
			EntryID:        item.EntryID,
			TransactionID:  transactionID,
			AccountID:      accountID,
			Direction:      direction,
			AmountMinor:    amount,
			Currency:       currency,
			CreatedUnixUTC: item.CreatedUnixUTC,
		})
	}
	return entries, nil
}
