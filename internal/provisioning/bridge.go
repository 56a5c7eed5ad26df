package provisioning

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"go.uber.org/zap"
)

const ownerRefPrefix = "user:"

// Registry is the slice of the ledger engine the bridge drives.
type Registry interface {
	CreateAccount(ctx context.Context, scope book.Scope, ownerRef string, accountType book.AccountType, currency book.Currency) (book.Account, error)
	CloseAccount(ctx context.Context, scope book.Scope, accountID book.AccountID) error
}

// Confirmer acknowledges a freshly provisioned account to the system that
// triggered provisioning (typically the identity service writing the
// account id onto the user record). A confirmation failure triggers the
// compensation path.
type Confirmer func(ctx context.Context, accountID book.AccountID) error

// Bridge provisions the default account for a new user synchronously:
// "user exists" implies "user has exactly one default account". It runs
// as a two-phase operation so the outer user creation either sees a
// confirmed account or a definitive failure, never a fire-and-forget.
type Bridge struct {
	registry        Registry
	defaultCurrency book.Currency
	logger          *zap.Logger
}

// NewBridge wires a Bridge.
func NewBridge(registry Registry, defaultCurrency book.Currency, logger *zap.Logger) (*Bridge, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry dependency is nil", book.ErrInvalidServiceConfig)
	}
	if defaultCurrency.IsZero() {
		return nil, fmt.Errorf("%w: default currency is required", book.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{registry: registry, defaultCurrency: defaultCurrency, logger: logger}, nil
}

// ProvisionAccount creates (or re-finds, on retry) the user's default
// liability account, then confirms it. When confirmation fails the
// account is compensated by closing it, and the error propagates so the
// outer user-creation call fails atomically.
func (bridge *Bridge) ProvisionAccount(ctx context.Context, userID string, scope book.Scope, confirm Confirmer) (book.AccountID, error) {
	if userID == "" {
		return book.AccountID{}, fmt.Errorf("%w: empty user id", book.ErrInvalidOwnerRef)
	}
	account, err := bridge.registry.CreateAccount(ctx, scope, ownerRefPrefix+userID, book.AccountLiability, bridge.defaultCurrency)
	if err != nil {
		return book.AccountID{}, err
	}
	if confirm != nil {
		if confirmErr := confirm(ctx, account.AccountID); confirmErr != nil {
			bridge.compensate(ctx, scope, account.AccountID)
			return book.AccountID{}, fmt.Errorf("confirm provisioned account: %w", confirmErr)
		}
	}
	bridge.logger.Info("default account provisioned",
		zap.String("scope", scope.String()),
		zap.String("user_id", userID),
		zap.String("account_id", account.AccountID.String()))
	return account.AccountID, nil
}

// compensate closes the orphan account so a failed user creation cannot
// leave a live account behind. A failed compensation is loud: the orphan
// needs operator cleanup.
func (bridge *Bridge) compensate(ctx context.Context, scope book.Scope, accountID book.AccountID) {
	if err := bridge.registry.CloseAccount(ctx, scope, accountID); err != nil {
		bridge.logger.Error("orphan account compensation failed",
			zap.String("scope", scope.String()),
			zap.String("account_id", accountID.String()),
			zap.Error(err))
	}
}
