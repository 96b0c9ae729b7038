package rpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	ledgerpb "github.com/example/ledger-transfer/api/gen/ledger"
	"github.com/example/ledger-transfer/internal/ledger"
	"github.com/example/ledger-transfer/internal/security"
	"github.com/example/ledger-transfer/pkg/audit"
)

func startServer(t *testing.T, svc TransferService, opts Options) ledgerpb.TransferServiceClient {
	t.Helper()
	return serve(t, NewServer(svc, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), opts)
}

func serve(t *testing.T, srv *Server, opts Options) ledgerpb.TransferServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := NewGRPCServer(srv, opts)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return ledgerpb.NewTransferServiceClient(conn)
}

func as(user string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-user-id", user)
}

func newEngine(t *testing.T) *ledger.Engine {
	t.Helper()
	engine, _ := newServices(t)
	return engine
}

func newServices(t *testing.T) (*ledger.Engine, *ledger.AccountService) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := ledger.OpenSQLite(filepath.Join(t.TempDir(), "rpc.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	currencies, err := ledger.SeedCurrencies(ctx, store, ledger.DefaultCurrencies)
	require.NoError(t, err)

	accounts := []ledger.NewAccount{
		{UserID: "alice", CurrencyID: currencies["USD"].ID, HolderName: "Alice", AccountNumber: "2000000001", InitialBalance: decimal.NewFromInt(1000)},
		{UserID: "bob", CurrencyID: currencies["USD"].ID, HolderName: "Bob", AccountNumber: "2000000002"},
		{UserID: "bob", CurrencyID: currencies["EUR"].ID, HolderName: "Bob", AccountNumber: "2000000003"},
	}
	for _, a := range accounts {
		_, err := store.CreateAccount(ctx, a)
		require.NoError(t, err)
	}

	directory := ledger.NewCachedCurrencyDirectory(store, nil, 0, logger)
	engine := ledger.NewEngine(store, directory, nil, logger,
		ledger.EngineConfig{MinimumAmount: ledger.DefaultMinimumAmount})
	return engine, ledger.NewAccountService(store, directory, logger)
}

func TestTransferOverGRPC(t *testing.T) {
	chain := audit.NewChainLogger(audit.WithRetention(16))
	client := startServer(t, newEngine(t), Options{Auditor: chain})

	resp, err := client.Transfer(as("alice"), &ledgerpb.TransferRequest{
		ReceiverAccountNumber: "2000000002",
		CurrencyCode:          "usd",
		Amount:                "250.50",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Transfer)
	assert.Equal(t, "250.50", resp.Transfer.Amount)
	assert.Equal(t, "Bob", resp.Transfer.ReceiverAccountHolderName)
	assert.Equal(t, "completed", resp.Transfer.Status)
	assert.NotEmpty(t, resp.CorrelationID)

	got, err := client.GetTransfer(as("bob"), &ledgerpb.GetTransferRequest{TransferID: resp.Transfer.ID})
	require.NoError(t, err)
	assert.Equal(t, resp.Transfer.ID, got.Transfer.ID)

	list, err := client.ListTransfers(as("bob"), &ledgerpb.ListTransfersRequest{})
	require.NoError(t, err)
	assert.Len(t, list.Transfers, 1)

	list, err = client.ListTransfers(as("bob"), &ledgerpb.ListTransfersRequest{CurrencyCode: "EUR"})
	require.NoError(t, err)
	assert.Empty(t, list.Transfers)

	entries := chain.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "grpc.request", entries[0].Action)
	assert.Equal(t, -1, audit.VerifyChain(entries))
}

func TestErrorCodes(t *testing.T) {
	client := startServer(t, newEngine(t), Options{})

	tests := []struct {
		name     string
		caller   string
		req      *ledgerpb.TransferRequest
		wantCode codes.Code
		wantKind string
	}{
		{
			name:     "insufficient balance",
			caller:   "alice",
			req:      &ledgerpb.TransferRequest{ReceiverAccountNumber: "2000000002", CurrencyCode: "USD", Amount: "5000"},
			wantCode: codes.FailedPrecondition,
			wantKind: "insufficient_balance",
		},
		{
			name:     "below minimum",
			caller:   "alice",
			req:      &ledgerpb.TransferRequest{ReceiverAccountNumber: "2000000002", CurrencyCode: "USD", Amount: "9.99"},
			wantCode: codes.InvalidArgument,
			wantKind: "below_minimum_amount",
		},
		{
			name:     "sub-cent amount",
			caller:   "alice",
			req:      &ledgerpb.TransferRequest{ReceiverAccountNumber: "2000000002", CurrencyCode: "USD", Amount: "10.005"},
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "currency mismatch",
			caller:   "alice",
			req:      &ledgerpb.TransferRequest{ReceiverAccountNumber: "2000000003", CurrencyCode: "USD", Amount: "100"},
			wantCode: codes.InvalidArgument,
			wantKind: "currency_mismatch",
		},
		{
			name:     "no sender account",
			caller:   "carol",
			req:      &ledgerpb.TransferRequest{ReceiverAccountNumber: "2000000002", CurrencyCode: "USD", Amount: "100"},
			wantCode: codes.InvalidArgument,
			wantKind: "no_matching_sender_account",
		},
		{
			name:     "malformed amount",
			caller:   "alice",
			req:      &ledgerpb.TransferRequest{ReceiverAccountNumber: "2000000002", CurrencyCode: "USD", Amount: "ten"},
			wantCode: codes.InvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Transfer(as(tt.caller), tt.req)
			require.Error(t, err)
			st := status.Convert(err)
			assert.Equal(t, tt.wantCode, st.Code())
			if tt.wantKind != "" {
				assert.Contains(t, st.Message(), tt.wantKind)
			}
		})
	}

	_, err := client.GetTransfer(as("alice"), &ledgerpb.GetTransferRequest{TransferID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestMissingCallerIsUnauthenticated(t *testing.T) {
	client := startServer(t, newEngine(t), Options{})

	_, err := client.ListTransfers(context.Background(), &ledgerpb.ListTransfersRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

type failingService struct{ TransferService }

func (failingService) ListTransfersForUser(ctx context.Context, userID string) ([]ledger.TransferRecord, error) {
	return nil, &ledger.Error{Kind: ledger.KindStorageFault, Message: "failed to list transfers"}
}

func TestStorageFaultIsInternal(t *testing.T) {
	client := startServer(t, failingService{}, Options{})

	_, err := client.ListTransfers(as("alice"), &ledgerpb.ListTransfersRequest{})
	st := status.Convert(err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.NotContains(t, st.Message(), "failed to list")
}

func TestRateLimitInterceptor(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	client := startServer(t, newEngine(t), Options{
		RateLimiter: &security.RedisTokenBucket{Redis: rdb, Prefix: "rl", Capacity: 1, RefillRate: 0.0000001},
	})

	_, err := client.ListTransfers(as("alice"), &ledgerpb.ListTransfersRequest{})
	require.NoError(t, err)

	_, err = client.ListTransfers(as("alice"), &ledgerpb.ListTransfersRequest{})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// other callers have their own bucket
	_, err = client.ListTransfers(as("bob"), &ledgerpb.ListTransfersRequest{})
	assert.NoError(t, err)
}

func TestAccountsOverGRPC(t *testing.T) {
	engine, accounts := newServices(t)
	client := serve(t, NewServer(engine, accounts, slog.New(slog.NewTextHandler(io.Discard, nil))), Options{})

	resp, err := client.OpenAccount(as("carol"), &ledgerpb.OpenAccountRequest{
		CurrencyCode:   "usd",
		AccountType:    "checking",
		HolderName:     "Carol",
		InitialBalance: "75",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Account)
	assert.Len(t, resp.Account.AccountNumber, 10)
	assert.Equal(t, "75.00", resp.Account.Balance)
	assert.Equal(t, "checking", resp.Account.AccountType)

	_, err = client.OpenAccount(as("carol"), &ledgerpb.OpenAccountRequest{CurrencyCode: "USD"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = client.OpenAccount(as("carol"), &ledgerpb.OpenAccountRequest{CurrencyCode: "EUR", AccountType: "brokerage"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Transfer(as("carol"), &ledgerpb.TransferRequest{
		ReceiverAccountNumber: "2000000002", CurrencyCode: "USD", Amount: "25",
	})
	require.NoError(t, err)

	list, err := client.ListAccounts(as("carol"), &ledgerpb.ListAccountsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Accounts, 1)
	assert.Equal(t, "50.00", list.Accounts[0].Balance)

	list, err = client.ListAccounts(as("bob"), &ledgerpb.ListAccountsRequest{})
	require.NoError(t, err)
	assert.Len(t, list.Accounts, 2)
}

func TestAccountMethodsWithoutService(t *testing.T) {
	client := startServer(t, newEngine(t), Options{})

	_, err := client.ListAccounts(as("alice"), &ledgerpb.ListAccountsRequest{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
