package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// AccountTypes are the account types an account can be opened with.
var AccountTypes = []string{"savings", "checking"}

const (
	accountNumberMin      = 1_000_000_000
	accountNumberSpan     = 9_000_000_000
	accountNumberAttempts = 5
)

// AccountRegistry is the store surface account provisioning needs.
type AccountRegistry interface {
	CreateAccount(ctx context.Context, na NewAccount) (*Account, error)
	ListAccountsForUser(ctx context.Context, userID string) ([]Account, error)
}

// OpenAccountRequest opens an account for a user in one currency.
type OpenAccountRequest struct {
	UserID         string          `json:"user_id"`
	HolderName     string          `json:"holder_name"`
	CurrencyCode   string          `json:"currency_code"`
	AccountType    string          `json:"account_type"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// AccountService provisions accounts and lists the ones a user holds. It never
// changes a balance after the account is opened.
type AccountService struct {
	store      AccountRegistry
	currencies CurrencyDirectory
	logger     *slog.Logger
	newNumber  func() string
}

// NewAccountService creates an account service over store.
func NewAccountService(store AccountRegistry, currencies CurrencyDirectory, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		store:      store,
		currencies: currencies,
		logger:     logger,
		newNumber:  randomAccountNumber,
	}
}

// randomAccountNumber returns a ten digit number that never starts with zero.
func randomAccountNumber() string {
	return strconv.FormatInt(accountNumberMin+rand.Int63n(accountNumberSpan), 10)
}

// OpenAccount validates req, assigns a fresh account number and stores the
// account. A user holds at most one account per currency. An empty holder
// name falls back to the user id and an empty type to savings.
func (s *AccountService) OpenAccount(ctx context.Context, req OpenAccountRequest) (*Account, error) {
	accountType := strings.ToLower(strings.TrimSpace(req.AccountType))
	if accountType == "" {
		accountType = AccountTypes[0]
	}
	if !slices.Contains(AccountTypes, accountType) {
		return nil, newError(KindInvalidAccountType,
			fmt.Sprintf("account type must be one of %s", strings.Join(AccountTypes, ", ")))
	}
	if req.InitialBalance.IsNegative() {
		return nil, newError(KindInvalidAmount, "initial balance must not be negative")
	}
	if !req.InitialBalance.Equal(req.InitialBalance.Truncate(AmountScale)) {
		return nil, newError(KindInvalidAmount,
			fmt.Sprintf("initial balance %s has more than %d decimal places", req.InitialBalance, AmountScale))
	}

	currency, err := s.currencies.Resolve(ctx, req.CurrencyCode)
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, wrapError(KindStorageFault, "failed to resolve currency", err)
	}

	holder := strings.TrimSpace(req.HolderName)
	if holder == "" {
		holder = req.UserID
	}

	logger := s.logger.With("user_id", req.UserID, "currency", currency.Code)
	for attempt := 1; attempt <= accountNumberAttempts; attempt++ {
		acc, err := s.store.CreateAccount(ctx, NewAccount{
			UserID:         req.UserID,
			CurrencyID:     currency.ID,
			HolderName:     holder,
			AccountNumber:  s.newNumber(),
			AccountType:    accountType,
			InitialBalance: req.InitialBalance,
		})
		switch {
		case err == nil:
			logger.Info("account opened", "account_id", acc.ID, "account_number", acc.AccountNumber)
			return acc, nil
		case errors.Is(err, ErrAccountNumberTaken):
			logger.Debug("account number collision", "attempt", attempt)
		case errors.Is(err, ErrAccountExists):
			return nil, newError(KindAccountExists, fmt.Sprintf("you already have an account in %s", currency.Code))
		default:
			return nil, wrapError(KindStorageFault, "failed to open account", err)
		}
	}
	return nil, newError(KindStorageFault, "could not allocate a unique account number")
}

// ListAccounts returns every account the user holds.
func (s *AccountService) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	accounts, err := s.store.ListAccountsForUser(ctx, userID)
	if err != nil {
		return nil, wrapError(KindStorageFault, "failed to list accounts", err)
	}
	return accounts, nil
}

// GetAccount returns one of the user's accounts. Accounts held by other users
// are reported as not found.
func (s *AccountService) GetAccount(ctx context.Context, userID, accountID string) (*Account, error) {
	accounts, err := s.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].ID == accountID {
			return &accounts[i], nil
		}
	}
	return nil, newError(KindAccountNotFound, "account not found")
}
