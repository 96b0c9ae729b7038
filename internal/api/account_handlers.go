package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/ledger-transfer/internal/ledger"
	"github.com/example/ledger-transfer/internal/security"
)

// AccountService is the account provisioning surface the HTTP adapter drives.
type AccountService interface {
	OpenAccount(ctx context.Context, req ledger.OpenAccountRequest) (*ledger.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]ledger.Account, error)
	GetAccount(ctx context.Context, userID, accountID string) (*ledger.Account, error)
}

type openAccountRequest struct {
	CurrencyCode   string      `json:"currency_code"`
	AccountType    string      `json:"account_type"`
	HolderName     string      `json:"holder_name"`
	InitialBalance json.Number `json:"initial_balance"`
}

type accountResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Account       *ledger.Account `json:"account"`
}

type listAccountsResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Accounts      []ledger.Account `json:"accounts"`
}

func handleOpenAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Accounts == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable", "")
			return
		}

		var req openAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json", "")
			return
		}

		balance := decimal.Zero
		if req.InitialBalance != "" {
			var err error
			if balance, err = ledger.ParseAmount(req.InitialBalance.String()); err != nil {
				security.WriteJSONError(w, r, http.StatusBadRequest, "validation_error", err.Error())
				return
			}
		}

		acc, err := deps.Accounts.OpenAccount(r.Context(), ledger.OpenAccountRequest{
			UserID:         security.CallerFromContext(r.Context()),
			HolderName:     strings.TrimSpace(req.HolderName),
			CurrencyCode:   strings.ToUpper(req.CurrencyCode),
			AccountType:    req.AccountType,
			InitialBalance: balance,
		})
		if err != nil {
			writeServiceError(w, r, deps, err, "account_request_failed", "account request could not be completed")
			return
		}

		writeJSON(w, r, http.StatusCreated, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       acc,
		})
	}
}

func handleListAccounts(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Accounts == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable", "")
			return
		}

		accounts, err := deps.Accounts.ListAccounts(r.Context(), security.CallerFromContext(r.Context()))
		if err != nil {
			writeServiceError(w, r, deps, err, "account_request_failed", "account request could not be completed")
			return
		}

		writeJSON(w, r, http.StatusOK, listAccountsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Accounts:      accounts,
		})
	}
}

func handleGetAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Accounts == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable", "")
			return
		}

		acc, err := deps.Accounts.GetAccount(r.Context(), security.CallerFromContext(r.Context()), chi.URLParam(r, "accountID"))
		if err != nil {
			writeServiceError(w, r, deps, err, "account_request_failed", "account request could not be completed")
			return
		}

		writeJSON(w, r, http.StatusOK, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       acc,
		})
	}
}
