package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/ledger-transfer/internal/ledger"
	"github.com/example/ledger-transfer/internal/security"
	"github.com/example/ledger-transfer/pkg/audit"
)

type Auditor interface {
	Append(action string, payload any) (*audit.LogEntry, error)
}

// TransferService is the part of the engine the HTTP adapter drives.
type TransferService interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.TransferRecord, error)
	ListTransfersForUser(ctx context.Context, userID string) ([]ledger.TransferRecord, error)
	ListTransfersForUserByCurrency(ctx context.Context, userID, currencyCode string) ([]ledger.TransferRecord, error)
	GetTransfer(ctx context.Context, userID, transferID string) (*ledger.TransferRecord, error)
}

type Dependencies struct {
	Logger    *slog.Logger
	Transfers TransferService
	Accounts  AccountService

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	transferV, err := security.NewJSONSchemaValidator(transferSchema, deps.MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	accountV, err := security.NewJSONSchemaValidator(openAccountSchema, deps.MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.IPAllowlist(deps.IPAllowlist))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(security.RequireCaller)
		if deps.RateLimiter != nil {
			r.Use(security.RateLimitMiddleware(deps.RateLimiter, security.CallerOrIPKey))
		}
		if deps.Auditor != nil {
			r.Use(AuditMiddleware(deps.Auditor))
		}

		r.Route("/transfers", func(r chi.Router) {
			r.With(transferV.Middleware).Post("/", handleCreateTransfer(deps))
			r.Get("/", handleListTransfers(deps))
			r.Get("/{transferID}", handleGetTransfer(deps))
		})

		r.Route("/accounts", func(r chi.Router) {
			r.With(accountV.Middleware).Post("/", handleOpenAccount(deps))
			r.Get("/", handleListAccounts(deps))
			r.Get("/{accountID}", handleGetAccount(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found", "")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
	})

	return r, nil
}
