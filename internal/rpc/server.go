// Package rpc exposes the transfer engine over gRPC.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	ledgerpb "github.com/example/ledger-transfer/api/gen/ledger"
	"github.com/example/ledger-transfer/internal/ledger"
	"github.com/example/ledger-transfer/internal/security"
	"github.com/example/ledger-transfer/pkg/audit"
)

// TransferService is the part of the engine the gRPC adapter drives.
type TransferService interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.TransferRecord, error)
	ListTransfersForUser(ctx context.Context, userID string) ([]ledger.TransferRecord, error)
	ListTransfersForUserByCurrency(ctx context.Context, userID, currencyCode string) ([]ledger.TransferRecord, error)
	GetTransfer(ctx context.Context, userID, transferID string) (*ledger.TransferRecord, error)
}

// AccountService is the account provisioning surface the gRPC adapter drives.
type AccountService interface {
	OpenAccount(ctx context.Context, req ledger.OpenAccountRequest) (*ledger.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]ledger.Account, error)
}

type Auditor interface {
	Append(action string, payload any) (*audit.LogEntry, error)
}

// Server implements ledgerpb.TransferServiceServer.
type Server struct {
	ledgerpb.UnimplementedTransferServiceServer

	transfers TransferService
	accounts  AccountService
	logger    *slog.Logger
}

// NewServer creates the gRPC service. accounts may be nil, in which case the
// account methods report Unavailable.
func NewServer(transfers TransferService, accounts AccountService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{transfers: transfers, accounts: accounts, logger: logger}
}

const (
	transferFailure = string(ledger.KindTransferFailed) + ": transfer could not be completed"
	accountFailure  = "account_request_failed: account request could not be completed"
)

func (s *Server) Transfer(ctx context.Context, req *ledgerpb.TransferRequest) (*ledgerpb.TransferResponse, error) {
	if strings.TrimSpace(req.ReceiverAccountNumber) == "" {
		return nil, status.Error(codes.InvalidArgument, "receiver_account_number is required")
	}
	if len(req.CurrencyCode) != 3 {
		return nil, status.Error(codes.InvalidArgument, "currency_code must be a 3-letter code")
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	record, err := s.transfers.Transfer(ctx, ledger.TransferRequest{
		CallerUserID:          security.CallerFromContext(ctx),
		ReceiverAccountNumber: strings.TrimSpace(req.ReceiverAccountNumber),
		CurrencyCode:          strings.ToUpper(req.CurrencyCode),
		Amount:                amount,
	})
	if err != nil {
		return nil, s.statusFromError(ctx, err, transferFailure)
	}

	return &ledgerpb.TransferResponse{
		CorrelationID: security.CorrelationIDFromContext(ctx),
		Transfer:      toProto(record),
	}, nil
}

func (s *Server) ListTransfers(ctx context.Context, req *ledgerpb.ListTransfersRequest) (*ledgerpb.ListTransfersResponse, error) {
	caller := security.CallerFromContext(ctx)

	var (
		records []ledger.TransferRecord
		err     error
	)
	if req.CurrencyCode != "" {
		records, err = s.transfers.ListTransfersForUserByCurrency(ctx, caller, strings.ToUpper(req.CurrencyCode))
	} else {
		records, err = s.transfers.ListTransfersForUser(ctx, caller)
	}
	if err != nil {
		return nil, s.statusFromError(ctx, err, transferFailure)
	}

	resp := &ledgerpb.ListTransfersResponse{Transfers: make([]*ledgerpb.Transfer, 0, len(records))}
	for i := range records {
		resp.Transfers = append(resp.Transfers, toProto(&records[i]))
	}
	return resp, nil
}

func (s *Server) GetTransfer(ctx context.Context, req *ledgerpb.GetTransferRequest) (*ledgerpb.TransferResponse, error) {
	if req.TransferID == "" {
		return nil, status.Error(codes.InvalidArgument, "transfer_id is required")
	}

	record, err := s.transfers.GetTransfer(ctx, security.CallerFromContext(ctx), req.TransferID)
	if err != nil {
		return nil, s.statusFromError(ctx, err, transferFailure)
	}
	return &ledgerpb.TransferResponse{
		CorrelationID: security.CorrelationIDFromContext(ctx),
		Transfer:      toProto(record),
	}, nil
}

func (s *Server) OpenAccount(ctx context.Context, req *ledgerpb.OpenAccountRequest) (*ledgerpb.AccountResponse, error) {
	if s.accounts == nil {
		return nil, status.Error(codes.Unavailable, "account service unavailable")
	}
	if len(req.CurrencyCode) != 3 {
		return nil, status.Error(codes.InvalidArgument, "currency_code must be a 3-letter code")
	}
	balance := decimal.Zero
	if req.InitialBalance != "" {
		var err error
		if balance, err = ledger.ParseAmount(req.InitialBalance); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	acc, err := s.accounts.OpenAccount(ctx, ledger.OpenAccountRequest{
		UserID:         security.CallerFromContext(ctx),
		HolderName:     strings.TrimSpace(req.HolderName),
		CurrencyCode:   strings.ToUpper(req.CurrencyCode),
		AccountType:    req.AccountType,
		InitialBalance: balance,
	})
	if err != nil {
		return nil, s.statusFromError(ctx, err, accountFailure)
	}
	return &ledgerpb.AccountResponse{
		CorrelationID: security.CorrelationIDFromContext(ctx),
		Account:       accountToProto(acc),
	}, nil
}

func (s *Server) ListAccounts(ctx context.Context, _ *ledgerpb.ListAccountsRequest) (*ledgerpb.ListAccountsResponse, error) {
	if s.accounts == nil {
		return nil, status.Error(codes.Unavailable, "account service unavailable")
	}
	accounts, err := s.accounts.ListAccounts(ctx, security.CallerFromContext(ctx))
	if err != nil {
		return nil, s.statusFromError(ctx, err, accountFailure)
	}

	resp := &ledgerpb.ListAccountsResponse{Accounts: make([]*ledgerpb.Account, 0, len(accounts))}
	for i := range accounts {
		resp.Accounts = append(resp.Accounts, accountToProto(&accounts[i]))
	}
	return resp, nil
}

// statusFromError maps engine failures to gRPC codes. The status message is
// "<kind>: <message>" for validation and not-found failures; internal is the
// message reported for everything else.
func (s *Server) statusFromError(ctx context.Context, err error, internal string) error {
	kind := ledger.KindOf(err)
	switch {
	case kind == ledger.KindInsufficientBalance:
		return status.Error(codes.FailedPrecondition, string(kind)+": "+message(err))
	case kind == ledger.KindAccountExists:
		return status.Error(codes.AlreadyExists, string(kind)+": "+message(err))
	case ledger.IsValidation(err):
		return status.Error(codes.InvalidArgument, string(kind)+": "+message(err))
	case kind.Category() == ledger.CategoryNotFound:
		return status.Error(codes.NotFound, string(kind)+": "+message(err))
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	default:
		s.logger.Error("rpc failed",
			"cid", security.CorrelationIDFromContext(ctx),
			"kind", kind,
			"error", err,
		)
		return status.Error(codes.Internal, internal)
	}
}

func message(err error) string {
	var e *ledger.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func toProto(r *ledger.TransferRecord) *ledgerpb.Transfer {
	return &ledgerpb.Transfer{
		ID:                        r.ID,
		SenderAccountID:           r.SenderAccountID,
		ReceiverAccountID:         r.ReceiverAccountID,
		ReceiverAccountNumber:     r.ReceiverAccountNumber,
		ReceiverAccountHolderName: r.ReceiverHolderName,
		CurrencyCode:              r.CurrencyCode,
		Amount:                    r.Amount.StringFixed(ledger.AmountScale),
		Status:                    string(r.Status),
		CreatedAt:                 r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func accountToProto(a *ledger.Account) *ledgerpb.Account {
	return &ledgerpb.Account{
		ID:            a.ID,
		AccountNumber: a.AccountNumber,
		AccountType:   a.AccountType,
		HolderName:    a.HolderName,
		CurrencyID:    a.CurrencyID,
		Balance:       a.Balance.StringFixed(ledger.AmountScale),
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Options configures NewGRPCServer.
type Options struct {
	Credentials  credentials.TransportCredentials
	RateLimiter  *security.RedisTokenBucket
	Auditor      Auditor
	IPAllowlist  []*net.IPNet
	MaxRecvBytes int
}

// NewGRPCServer builds a grpc.Server with the security interceptors and the
// transfer service registered.
func NewGRPCServer(srv *Server, opts Options) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		security.UnaryCorrelationID,
		security.UnaryIPAllowlist(opts.IPAllowlist),
		security.UnaryRequireCaller,
	}
	if opts.RateLimiter != nil {
		interceptors = append(interceptors, security.UnaryRateLimit(opts.RateLimiter))
	}
	if opts.Auditor != nil {
		interceptors = append(interceptors, unaryAudit(opts.Auditor))
	}
	interceptors = append(interceptors, unaryLogger(srv.logger))

	if opts.MaxRecvBytes <= 0 {
		opts.MaxRecvBytes = 1 << 20
	}
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.MaxRecvMsgSize(opts.MaxRecvBytes),
		grpc.MaxSendMsgSize(opts.MaxRecvBytes),
	}
	if opts.Credentials != nil {
		serverOpts = append(serverOpts, grpc.Creds(opts.Credentials))
	}

	gs := grpc.NewServer(serverOpts...)
	ledgerpb.RegisterTransferServiceServer(gs, srv)
	return gs
}

func unaryLogger(l *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := slog.LevelInfo
		if code == codes.Internal || code == codes.Unavailable {
			level = slog.LevelError
		}
		l.Log(ctx, level, "grpc_request",
			"cid", security.CorrelationIDFromContext(ctx),
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

type rpcAudit struct {
	CorrelationID string `json:"cid"`
	Caller        string `json:"caller"`
	Method        string `json:"method"`
	Code          string `json:"code"`
}

func unaryAudit(a Auditor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		_, _ = a.Append("grpc.request", rpcAudit{
			CorrelationID: security.CorrelationIDFromContext(ctx),
			Caller:        security.CallerFromContext(ctx),
			Method:        info.FullMethod,
			Code:          status.Code(err).String(),
		})
		return resp, err
	}
}
