// Package httpserver is the HTTP facade over the transaction initiator.
// It accepts money-movement requests, requires an idempotency key on every
// write, and reports transaction status while the posting engine settles.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/bookkeeper/internal/initiator"
	"github.com/MarkoPoloResearchLab/bookkeeper/internal/provisioning"
	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const headerIdempotencyKey = "Idempotency-Key"

// LedgerReader is the read-only slice of the posting engine the facade
// serves directly.
type LedgerReader interface {
	GetBalance(ctx context.Context, scope book.Scope, accountID book.AccountID) (book.AccountBalance, error)
	ListAccountEntries(ctx context.Context, scope book.Scope, accountID book.AccountID, beforeUnixUTC int64, limit int) ([]book.Entry, error)
}

// Server hosts the HTTP API.
type Server struct {
	config    Config
	logger    *zap.Logger
	initiator *initiator.Service
	bridge    *provisioning.Bridge
	reader    LedgerReader
}

// NewServer wires the HTTP facade.
func NewServer(config Config, logger *zap.Logger, initiatorService *initiator.Service, bridge *provisioning.Bridge, reader LedgerReader) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config:    config.withDefaults(),
		logger:    logger,
		initiator: initiatorService,
		bridge:    bridge,
		reader:    reader,
	}
}

// Run serves until the context is canceled, then drains in-flight requests.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.config.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http facade listening", zap.String("addr", server.config.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the gin handler tree.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization", headerIdempotencyKey},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/v1")
	api.Use(authMiddleware([]byte(server.config.SigningKey), server.config.Issuer))

	api.POST("/accounts", server.handleProvisionAccount)
	api.POST("/deposits", server.handleDeposit)
	api.POST("/withdrawals", server.handleWithdrawal)
	api.POST("/transfers", server.handleTransfer)
	api.GET("/transactions/:id", server.handleTransactionStatus)
	api.GET("/accounts/:id/balance", server.handleBalance)
	api.GET("/accounts/:id/entries", server.handleAccountEntries)

	return router
}

type provisionRequest struct {
	UserID string `json:"user_id"`
}

type moveRequest struct {
	AccountID   string         `json:"account_id"`
	AmountMinor int64          `json:"amount_minor"`
	Currency    string         `json:"currency"`
	Metadata    map[string]any `json:"metadata"`
}

type transferRequest struct {
	SourceAccountID      string         `json:"source_account_id"`
	DestinationAccountID string         `json:"destination_account_id"`
	AmountMinor          int64          `json:"amount_minor"`
	Currency             string         `json:"currency"`
	Metadata             map[string]any `json:"metadata"`
}

func (server *Server) handleProvisionAccount(ctx *gin.Context) {
	scope, ok := scopeFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing scope"))
		return
	}
	var request provisionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.config.RequestTimeout)
	defer cancel()
	accountID, err := server.bridge.ProvisionAccount(requestCtx, request.UserID, scope, nil)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"account_id": accountID.String()})
}

func (server *Server) handleDeposit(ctx *gin.Context) {
	server.handleMove(ctx, func(requestCtx context.Context, scope book.Scope, key book.IdempotencyKey, request moveRequest, amount book.AmountMinor, currency book.Currency, metadata book.MetadataJSON) (initiator.Result, error) {
		accountID, err := book.NewAccountID(request.AccountID)
		if err != nil {
			return initiator.Result{}, err
		}
		return server.initiator.Deposit(requestCtx, scope, key, accountID, amount, currency, metadata)
	})
}

func (server *Server) handleWithdrawal(ctx *gin.Context) {
	server.handleMove(ctx, func(requestCtx context.Context, scope book.Scope, key book.IdempotencyKey, request moveRequest, amount book.AmountMinor, currency book.Currency, metadata book.MetadataJSON) (initiator.Result, error) {
		accountID, err := book.NewAccountID(request.AccountID)
		if err != nil {
			return initiator.Result{}, err
		}
		return server.initiator.Withdraw(requestCtx, scope, key, accountID, amount, currency, metadata)
	})
}

type moveFn func(ctx context.Context, scope book.Scope, key book.IdempotencyKey, request moveRequest, amount book.AmountMinor, currency book.Currency, metadata book.MetadataJSON) (initiator.Result, error)

func (server *Server) handleMove(ctx *gin.Context, move moveFn) {
	scope, ok := scopeFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing scope"))
		return
	}
	key, ok := server.idempotencyKey(ctx)
	if !ok {
		return
	}
	var request moveRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, currency, metadata, err := parseMoney(request.AmountMinor, request.Currency, request.Metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.config.RequestTimeout)
	defer cancel()
	result, err := move(requestCtx, scope, key, request, amount, currency, metadata)
	server.respondResult(ctx, result, err)
}

func (server *Server) handleTransfer(ctx *gin.Context) {
	scope, ok := scopeFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing scope"))
		return
	}
	key, ok := server.idempotencyKey(ctx)
	if !ok {
		return
	}
	var request transferRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	source, err := book.NewAccountID(request.SourceAccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	destination, err := book.NewAccountID(request.DestinationAccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	amount, currency, metadata, err := parseMoney(request.AmountMinor, request.Currency, request.Metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.config.RequestTimeout)
	defer cancel()
	result, err := server.initiator.Transfer(requestCtx, scope, key, source, destination, amount, currency, metadata)
	server.respondResult(ctx, result, err)
}

func (server *Server) handleTransactionStatus(ctx *gin.Context) {
	scope, ok := scopeFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing scope"))
		return
	}
	transactionID, err := book.NewTransactionID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.config.RequestTimeout)
	defer cancel()
	result, err := server.initiator.GetStatus(requestCtx, scope, transactionID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, resultPayload(result))
}

func (server *Server) handleBalance(ctx *gin.Context) {
	scope, ok := scopeFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing scope"))
		return
	}
	accountID, err := book.NewAccountID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.config.RequestTimeout)
	defer cancel()
	balance, err := server.reader.GetBalance(requestCtx, scope, accountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"account_id":       balance.AccountID.String(),
		"balance_minor":    balance.BalanceMinor,
		"version":          balance.Version,
		"updated_unix_utc": balance.UpdatedUnixUTC,
	})
}

func (server *Server) handleAccountEntries(ctx *gin.Context) {
	scope, ok := scopeFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing scope"))
		return
	}
	accountID, err := book.NewAccountID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.config.RequestTimeout)
	defer cancel()
	entries, err := server.reader.ListAccountEntries(requestCtx, scope, accountID, 0, 0)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, gin.H{
			"entry_id":         entry.EntryID,
			"transaction_id":   entry.TransactionID.String(),
			"account_id":       entry.AccountID.String(),
			"direction":        entry.Direction.String(),
			"amount_minor":     entry.AmountMinor.Int64(),
			"currency":         entry.Currency.String(),
			"created_unix_utc": entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (server *Server) idempotencyKey(ctx *gin.Context) (book.IdempotencyKey, bool) {
	key, err := book.NewIdempotencyKey(ctx.GetHeader(headerIdempotencyKey))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_idempotency_key", "Idempotency-Key header is required"))
		return book.IdempotencyKey{}, false
	}
	return key, true
}

// respondResult renders the initiator outcome: posted settles as 200,
// pending acknowledges as 202 and is resolved later by the reconciler,
// failed maps the recorded reason to a client error.
func (server *Server) respondResult(ctx *gin.Context, result initiator.Result, err error) {
	if err != nil && result.TransactionID.IsZero() {
		server.respondError(ctx, err)
		return
	}
	switch result.Status {
	case book.StatusPosted:
		ctx.JSON(http.StatusOK, resultPayload(result))
	case book.StatusPending:
		ctx.JSON(http.StatusAccepted, resultPayload(result))
	case book.StatusFailed:
		ctx.JSON(statusForFailure(result.FailureReason), resultPayload(result))
	default:
		server.respondError(ctx, err)
	}
}

func resultPayload(result initiator.Result) gin.H {
	payload := gin.H{
		"transaction_id": result.TransactionID.String(),
		"status":         result.Status.String(),
	}
	if result.FailureReason != book.ReasonNone {
		payload["failure_reason"] = result.FailureReason.String()
	}
	return payload
}

func statusForFailure(reason book.FailureReason) int {
	switch reason {
	case book.ReasonUnknownAccount:
		return http.StatusNotFound
	case book.ReasonInsufficientFunds, book.ReasonAccountClosed:
		return http.StatusUnprocessableEntity
	case book.ReasonTooFewEntries, book.ReasonUnbalancedEntries, book.ReasonCurrencyMismatch:
		return http.StatusUnprocessableEntity
	case book.ReasonReconciliationTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, book.ErrIdempotencyConflict):
		ctx.JSON(http.StatusConflict, errorResponse("idempotency_conflict", "idempotency key reused with a different request"))
	case errors.Is(err, book.ErrUnknownAccount), errors.Is(err, book.ErrUnknownTransaction):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, book.ErrForeignScopeAccount):
		ctx.JSON(http.StatusForbidden, errorResponse("foreign_scope", "account belongs to another scope"))
	case errors.Is(err, book.ErrInsufficientFunds):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("insufficient_funds", "insufficient funds"))
	case errors.Is(err, book.ErrAccountClosed):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("account_closed", "account closed"))
	case errors.Is(err, book.ErrAccountExists):
		ctx.JSON(http.StatusConflict, errorResponse("account_exists", "account already exists"))
	case errors.Is(err, book.ErrInvalidAccountID),
		errors.Is(err, book.ErrInvalidTransactionID),
		errors.Is(err, book.ErrInvalidIdempotencyKey),
		errors.Is(err, book.ErrInvalidAmountMinor),
		errors.Is(err, book.ErrInvalidCurrency),
		errors.Is(err, book.ErrInvalidMetadataJSON),
		errors.Is(err, book.ErrInvalidOwnerRef):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	case errors.Is(err, book.ErrTransientDependency):
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_unavailable", "posting engine unavailable"))
	default:
		server.logger.Error("request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "internal error"))
	}
}

func parseMoney(amountMinor int64, currencyCode string, metadata map[string]any) (book.AmountMinor, book.Currency, book.MetadataJSON, error) {
	amount, err := book.NewAmountMinor(amountMinor)
	if err != nil {
		return 0, book.Currency{}, book.MetadataJSON{}, err
	}
	currency, err := book.NewCurrency(currencyCode)
	if err != nil {
		return 0, book.Currency{}, book.MetadataJSON{}, err
	}
	metadataJSON, err := book.NewMetadataJSON(marshalMetadata(metadata))
	if err != nil {
		return 0, book.Currency{}, book.MetadataJSON{}, err
	}
	return amount, currency, metadataJSON, nil
}

func marshalMetadata(metadata map[string]any) string {
	if metadata == nil {
		return "{}"
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
