package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/ledger-transfer/internal/ledger"
	"github.com/example/ledger-transfer/internal/security"
)

type createTransferRequest struct {
	ReceiverAccountNumber string      `json:"receiver_account_number"`
	CurrencyCode          string      `json:"currency_code"`
	Amount                json.Number `json:"amount"`
}

type transferResponse struct {
	CorrelationID string                 `json:"correlation_id"`
	Transfer      *ledger.TransferRecord `json:"transfer"`
}

type listTransfersResponse struct {
	CorrelationID string                  `json:"correlation_id"`
	Transfers     []ledger.TransferRecord `json:"transfers"`
}

func handleCreateTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Transfers == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable", "")
			return
		}

		var req createTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json", "")
			return
		}

		amount, err := ledger.ParseAmount(req.Amount.String())
		if err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "validation_error", err.Error())
			return
		}

		record, err := deps.Transfers.Transfer(r.Context(), ledger.TransferRequest{
			CallerUserID:          security.CallerFromContext(r.Context()),
			ReceiverAccountNumber: strings.TrimSpace(req.ReceiverAccountNumber),
			CurrencyCode:          strings.ToUpper(req.CurrencyCode),
			Amount:                amount,
		})
		if err != nil {
			writeEngineError(w, r, deps, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, transferResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Transfer:      record,
		})
	}
}

func handleListTransfers(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Transfers == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable", "")
			return
		}

		caller := security.CallerFromContext(r.Context())

		var (
			records []ledger.TransferRecord
			err     error
		)
		if currency := r.URL.Query().Get("currency"); currency != "" {
			records, err = deps.Transfers.ListTransfersForUserByCurrency(r.Context(), caller, currency)
		} else {
			records, err = deps.Transfers.ListTransfersForUser(r.Context(), caller)
		}
		if err != nil {
			writeEngineError(w, r, deps, err)
			return
		}

		writeJSON(w, r, http.StatusOK, listTransfersResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Transfers:     records,
		})
	}
}

func handleGetTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Transfers == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable", "")
			return
		}

		record, err := deps.Transfers.GetTransfer(r.Context(), security.CallerFromContext(r.Context()), chi.URLParam(r, "transferID"))
		if err != nil {
			writeEngineError(w, r, deps, err)
			return
		}

		writeJSON(w, r, http.StatusOK, transferResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Transfer:      record,
		})
	}
}

// writeEngineError maps engine failures onto HTTP. Validation messages are safe
// to show; anything else is logged and reported generically.
func writeEngineError(w http.ResponseWriter, r *http.Request, deps Dependencies, err error) {
	writeServiceError(w, r, deps, err, string(ledger.KindTransferFailed), "transfer could not be completed")
}

func writeServiceError(w http.ResponseWriter, r *http.Request, deps Dependencies, err error, failure, failureMessage string) {
	kind := ledger.KindOf(err)
	switch {
	case kind == ledger.KindAccountExists:
		security.WriteJSONError(w, r, http.StatusConflict, string(kind), validationMessage(err))
	case ledger.IsValidation(err):
		security.WriteJSONError(w, r, http.StatusUnprocessableEntity, string(kind), validationMessage(err))
	case kind.Category() == ledger.CategoryNotFound:
		security.WriteJSONError(w, r, http.StatusNotFound, string(kind), validationMessage(err))
	default:
		deps.Logger.Error("request failed",
			"cid", security.CorrelationIDFromContext(r.Context()),
			"kind", kind,
			"error", err,
		)
		security.WriteJSONError(w, r, http.StatusInternalServerError, failure, failureMessage)
	}
}

func validationMessage(err error) string {
	var e *ledger.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
