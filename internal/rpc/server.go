package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/bookkeeper/api/ledgerv1"
	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorTooFewEntries        = "too_few_entries"
	errorUnbalancedEntries    = "unbalanced_entries"
	errorCurrencyMismatch     = "currency_mismatch"
	errorUnknownAccount       = "unknown_account"
	errorForeignScopeAccount  = "foreign_scope_account"
	errorAccountClosed        = "account_closed"
	errorAccountExists        = "account_exists"
	errorInsufficientFunds    = "insufficient_funds"
	errorUnknownTransaction   = "unknown_transaction"
	errorImmutableRecord      = "immutable_record"
	errorDuplicateIdempotency = "duplicate_idempotency"
	errorInvalidScope         = "invalid_scope"
	errorInvalidAccountID     = "invalid_account_id"
	errorInvalidTransactionID = "invalid_transaction_id"
	errorInvalidOwnerRef      = "invalid_owner_ref"
	errorInvalidAmount        = "invalid_amount_minor"
	errorInvalidCurrency      = "invalid_currency"
	errorInvalidDirection     = "invalid_direction"
	errorInvalidAccountType   = "invalid_account_type"
	errorInvalidListLimit     = "invalid_list_limit"

	defaultListEntriesLimit = 50
	maxListEntriesLimit     = 200
)

// EngineServer exposes the posting engine and account registry over gRPC.
type EngineServer struct {
	engine *book.Service
}

// NewEngineServer constructs a gRPC server around the ledger service.
func NewEngineServer(engine *book.Service) *EngineServer {
	return &EngineServer{engine: engine}
}

// Register attaches the ledger service descriptor to a gRPC server.
func (server *EngineServer) Register(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&engineServiceDesc, server)
}

func (server *EngineServer) Post(ctx context.Context, request *ledgerv1.PostRequest) (*ledgerv1.PostResponse, error) {
	scope, err := book.NewScope(request.OrganizationID, request.Environment)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transactionID, err := book.NewTransactionID(request.TransactionID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entries := make([]book.EntryInput, 0, len(request.Entries))
	for _, wire := range request.Entries {
		entry, err := decodeEntryInput(wire)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		entries = append(entries, entry)
	}
	transaction, operationError := server.engine.Post(ctx, scope, transactionID, request.ExternalRef, entries)
	if operationError != nil && !transaction.Status.Terminal() {
		return nil, mapToGRPCError(operationError)
	}
	// Validation failures come back as a terminal failed transaction; the
	// caller reads the outcome from the record, not from a transport error.
	return &ledgerv1.PostResponse{Transaction: encodeTransaction(transaction)}, nil
}

func (server *EngineServer) GetTransaction(ctx context.Context, request *ledgerv1.GetTransactionRequest) (*ledgerv1.GetTransactionResponse, error) {
	scope, err := book.NewScope(request.OrganizationID, request.Environment)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transactionID, err := book.NewTransactionID(request.TransactionID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, operationError := server.engine.GetTransaction(ctx, scope, transactionID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerv1.GetTransactionResponse{Transaction: encodeTransaction(transaction)}, nil
}

func (server *EngineServer) CreateAccount(ctx context.Context, request *ledgerv1.CreateAccountRequest) (*ledgerv1.CreateAccountResponse, error) {
	scope, err := book.NewScope(request.OrganizationID, request.Environment)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	accountType, err := book.ParseAccountType(request.Type)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	currency, err := book.NewCurrency(request.Currency)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	account, operationError := server.engine.CreateAccount(ctx, scope, request.OwnerRef, accountType, currency)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerv1.CreateAccountResponse{Account: encodeAccount(account)}, nil
}

func (server *EngineServer) CloseAccount(ctx context.Context, request *ledgerv1.CloseAccountRequest) (*ledgerv1.CloseAccountResponse, error) {
	scope, err := book.NewScope(request.OrganizationID, request.Environment)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	accountID, err := book.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if operationError := server.engine.CloseAccount(ctx, scope, accountID); operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	account, operationError := server.engine.GetAccount(ctx, scope, accountID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerv1.CloseAccountResponse{Account: encodeAccount(account)}, nil
}

func (server *EngineServer) GetBalance(ctx context.Context, request *ledgerv1.GetBalanceRequest) (*ledgerv1.GetBalanceResponse, error) {
	scope, err := book.NewScope(request.OrganizationID, request.Environment)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	accountID, err := book.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	account, operationError := server.engine.GetAccount(ctx, scope, accountID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	balance, operationError := server.engine.Balance(ctx, scope, accountID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerv1.GetBalanceResponse{
		AccountID:      balance.AccountID.String(),
		BalanceMinor:   balance.BalanceMinor,
		Currency:       account.Currency.String(),
		Version:        balance.Version,
		UpdatedUnixUTC: balance.UpdatedUnixUTC,
	}, nil
}

func (server *EngineServer) ListAccountEntries(ctx context.Context, request *ledgerv1.ListAccountEntriesRequest) (*ledgerv1.ListAccountEntriesResponse, error) {
	scope, err := book.NewScope(request.OrganizationID, request.Environment)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	accountID, err := book.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, err := normalizeListLimit(request.Limit)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	before := request.BeforeUnixUTC
	if before == 0 {
		before = time.Now().UTC().Unix()
	}
	entries, operationError := server.engine.ListAccountEntries(ctx, scope, accountID, before, limit)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerv1.ListAccountEntriesResponse{Entries: encodeEntries(entries)}, nil
}

func (server *EngineServer) ListTransactionEntries(ctx context.Context, request *ledgerv1.ListTransactionEntriesRequest) (*ledgerv1.ListTransactionEntriesResponse, error) {
	scope, err := book.NewScope(request.OrganizationID, request.Environment)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transactionID, err := book.NewTransactionID(request.TransactionID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entries, operationError := server.engine.ListTransactionEntries(ctx, scope, transactionID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerv1.ListTransactionEntriesResponse{Entries: encodeEntries(entries)}, nil
}

func decodeEntryInput(wire ledgerv1.EntryInput) (book.EntryInput, error) {
	accountID, err := book.NewAccountID(wire.AccountID)
	if err != nil {
		return book.EntryInput{}, err
	}
	direction, err := book.ParseEntryDirection(wire.Direction)
	if err != nil {
		return book.EntryInput{}, err
	}
	amount, err := book.NewAmountMinor(wire.AmountMinor)
	if err != nil {
		return book.EntryInput{}, err
	}
	currency, err := book.NewCurrency(wire.Currency)
	if err != nil {
		return book.EntryInput{}, err
	}
	return book.NewEntryInput(accountID, direction, amount, currency)
}

func encodeTransaction(transaction book.Transaction) ledgerv1.Transaction {
	return ledgerv1.Transaction{
		TransactionID:  transaction.TransactionID.String(),
		OrganizationID: transaction.Scope.Organization(),
		Environment:    transaction.Scope.Environment().String(),
		ExternalRef:    transaction.ExternalRef,
		Status:         transaction.Status.String(),
		FailureReason:  transaction.FailureReason.String(),
		CreatedUnixUTC: transaction.CreatedUnixUTC,
		UpdatedUnixUTC: transaction.UpdatedUnixUTC,
	}
}

func encodeAccount(account book.Account) ledgerv1.Account {
	return ledgerv1.Account{
		AccountID:      account.AccountID.String(),
		OrganizationID: account.Scope.Organization(),
		Environment:    account.Scope.Environment().String(),
		OwnerRef:       account.OwnerRef,
		Type:           account.Type.String(),
		Currency:       account.Currency.String(),
		Status:         account.Status.String(),
		CreatedUnixUTC: account.CreatedUnixUTC,
	}
}

func encodeEntries(entries []book.Entry) []ledgerv1.Entry {
	encoded := make([]ledgerv1.Entry, 0, len(entries))
	for _, entry := range entries {
		encoded = append(encoded, ledgerv1.Entry{
			EntryID:        entry.EntryID,
			TransactionID:  entry.TransactionID.String(),
			AccountID:      entry.AccountID.String(),
			Direction:      entry.Direction.String(),
			AmountMinor:    entry.AmountMinor.Int64(),
			Currency:       entry.Currency.String(),
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	return encoded
}

func normalizeListLimit(limit int) (int, error) {
	if limit <= 0 {
		return defaultListEntriesLimit, nil
	}
	if limit > maxListEntriesLimit {
		return 0, fmt.Errorf("limit exceeds maximum: %d > %d", limit, maxListEntriesLimit)
	}
	return limit, nil
}

func mapToGRPCError(source error) error {
	if errors.Is(source, book.ErrInvalidScope) {
		return status.Error(codes.InvalidArgument, errorInvalidScope)
	}
	if errors.Is(source, book.ErrInvalidAccountID) {
		return status.Error(codes.InvalidArgument, errorInvalidAccountID)
	}
	if errors.Is(source, book.ErrInvalidTransactionID) {
		return status.Error(codes.InvalidArgument, errorInvalidTransactionID)
	}
	if errors.Is(source, book.ErrInvalidOwnerRef) {
		return status.Error(codes.InvalidArgument, errorInvalidOwnerRef)
	}
	if errors.Is(source, book.ErrInvalidAmountMinor) {
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	if errors.Is(source, book.ErrInvalidCurrency) {
		return status.Error(codes.InvalidArgument, errorInvalidCurrency)
	}
	if errors.Is(source, book.ErrInvalidDirection) {
		return status.Error(codes.InvalidArgument, errorInvalidDirection)
	}
	if errors.Is(source, book.ErrInvalidAccountType) {
		return status.Error(codes.InvalidArgument, errorInvalidAccountType)
	}
	if errors.Is(source, book.ErrTooFewEntries) {
		return status.Error(codes.InvalidArgument, errorTooFewEntries)
	}
	if errors.Is(source, book.ErrUnbalancedEntries) {
		return status.Error(codes.InvalidArgument, errorUnbalancedEntries)
	}
	if errors.Is(source, book.ErrCurrencyMismatch) {
		return status.Error(codes.InvalidArgument, errorCurrencyMismatch)
	}
	if errors.Is(source, book.ErrUnknownAccount) {
		return status.Error(codes.NotFound, errorUnknownAccount)
	}
	if errors.Is(source, book.ErrForeignScopeAccount) {
		return status.Error(codes.PermissionDenied, errorForeignScopeAccount)
	}
	if errors.Is(source, book.ErrUnknownTransaction) {
		return status.Error(codes.NotFound, errorUnknownTransaction)
	}
	if errors.Is(source, book.ErrAccountClosed) {
		return status.Error(codes.FailedPrecondition, errorAccountClosed)
	}
	if errors.Is(source, book.ErrAccountExists) {
		return status.Error(codes.AlreadyExists, errorAccountExists)
	}
	if errors.Is(source, book.ErrInsufficientFunds) {
		return status.Error(codes.FailedPrecondition, errorInsufficientFunds)
	}
	if errors.Is(source, book.ErrImmutableRecord) {
		return status.Error(codes.FailedPrecondition, errorImmutableRecord)
	}
	if errors.Is(source, book.ErrDuplicateIdempotency) {
		return status.Error(codes.AlreadyExists, errorDuplicateIdempotency)
	}
	return status.Error(codes.Internal, source.Error())
}
