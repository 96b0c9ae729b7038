// Package ledger holds the wire messages and service descriptor for the
// ledger.TransferService gRPC API. Messages travel as google.protobuf.Struct
// payloads; the typed structs below are what callers and servers work with.
package ledger

import (
	"google.golang.org/protobuf/types/known/structpb"
)

type TransferRequest struct {
	ReceiverAccountNumber string
	CurrencyCode          string
	// Amount is a decimal string, e.g. "150.25".
	Amount string
}

type Transfer struct {
	ID                        string
	SenderAccountID           string
	ReceiverAccountID         string
	ReceiverAccountNumber     string
	ReceiverAccountHolderName string
	CurrencyCode              string
	Amount                    string
	Status                    string
	// CreatedAt is RFC 3339 in UTC.
	CreatedAt string
}

type TransferResponse struct {
	CorrelationID string
	Transfer      *Transfer
}

type ListTransfersRequest struct {
	// CurrencyCode optionally narrows the listing.
	CurrencyCode string
}

type ListTransfersResponse struct {
	Transfers []*Transfer
}

type GetTransferRequest struct {
	TransferID string
}

func (m *TransferRequest) toStruct() *structpb.Struct {
	return fields(map[string]string{
		"receiver_account_number": m.ReceiverAccountNumber,
		"currency_code":           m.CurrencyCode,
		"amount":                  m.Amount,
	})
}

func (m *TransferRequest) fromStruct(s *structpb.Struct) {
	m.ReceiverAccountNumber = str(s, "receiver_account_number")
	m.CurrencyCode = str(s, "currency_code")
	m.Amount = str(s, "amount")
}

func (m *Transfer) toStruct() *structpb.Struct {
	return fields(map[string]string{
		"id":                           m.ID,
		"sender_account_id":            m.SenderAccountID,
		"receiver_account_id":          m.ReceiverAccountID,
		"receiver_account_number":      m.ReceiverAccountNumber,
		"receiver_account_holder_name": m.ReceiverAccountHolderName,
		"currency_code":                m.CurrencyCode,
		"amount":                       m.Amount,
		"status":                       m.Status,
		"created_at":                   m.CreatedAt,
	})
}

func (m *Transfer) fromStruct(s *structpb.Struct) {
	m.ID = str(s, "id")
	m.SenderAccountID = str(s, "sender_account_id")
	m.ReceiverAccountID = str(s, "receiver_account_id")
	m.ReceiverAccountNumber = str(s, "receiver_account_number")
	m.ReceiverAccountHolderName = str(s, "receiver_account_holder_name")
	m.CurrencyCode = str(s, "currency_code")
	m.Amount = str(s, "amount")
	m.Status = str(s, "status")
	m.CreatedAt = str(s, "created_at")
}

func (m *TransferResponse) toStruct() *structpb.Struct {
	s := fields(map[string]string{"correlation_id": m.CorrelationID})
	if m.Transfer != nil {
		s.Fields["transfer"] = structpb.NewStructValue(m.Transfer.toStruct())
	}
	return s
}

func (m *TransferResponse) fromStruct(s *structpb.Struct) {
	m.CorrelationID = str(s, "correlation_id")
	if t := s.GetFields()["transfer"].GetStructValue(); t != nil {
		m.Transfer = &Transfer{}
		m.Transfer.fromStruct(t)
	}
}

func (m *ListTransfersRequest) toStruct() *structpb.Struct {
	return fields(map[string]string{"currency_code": m.CurrencyCode})
}

func (m *ListTransfersRequest) fromStruct(s *structpb.Struct) {
	m.CurrencyCode = str(s, "currency_code")
}

func (m *ListTransfersResponse) toStruct() *structpb.Struct {
	values := make([]*structpb.Value, 0, len(m.Transfers))
	for _, t := range m.Transfers {
		values = append(values, structpb.NewStructValue(t.toStruct()))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"transfers": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func (m *ListTransfersResponse) fromStruct(s *structpb.Struct) {
	for _, v := range s.GetFields()["transfers"].GetListValue().GetValues() {
		t := &Transfer{}
		t.fromStruct(v.GetStructValue())
		m.Transfers = append(m.Transfers, t)
	}
}

func (m *GetTransferRequest) toStruct() *structpb.Struct {
	return fields(map[string]string{"transfer_id": m.TransferID})
}

func (m *GetTransferRequest) fromStruct(s *structpb.Struct) {
	m.TransferID = str(s, "transfer_id")
}

type OpenAccountRequest struct {
	CurrencyCode string
	// AccountType is savings or checking; empty opens a savings account.
	AccountType string
	HolderName  string
	// InitialBalance is a decimal string; empty opens with zero.
	InitialBalance string
}

type Account struct {
	ID            string
	AccountNumber string
	AccountType   string
	HolderName    string
	CurrencyID    string
	Balance       string
	CreatedAt     string
}

type AccountResponse struct {
	CorrelationID string
	Account       *Account
}

type ListAccountsRequest struct{}

type ListAccountsResponse struct {
	Accounts []*Account
}

func (m *OpenAccountRequest) toStruct() *structpb.Struct {
	return fields(map[string]string{
		"currency_code":   m.CurrencyCode,
		"account_type":    m.AccountType,
		"holder_name":     m.HolderName,
		"initial_balance": m.InitialBalance,
	})
}

func (m *OpenAccountRequest) fromStruct(s *structpb.Struct) {
	m.CurrencyCode = str(s, "currency_code")
	m.AccountType = str(s, "account_type")
	m.HolderName = str(s, "holder_name")
	m.InitialBalance = str(s, "initial_balance")
}

func (m *Account) toStruct() *structpb.Struct {
	return fields(map[string]string{
		"id":                  m.ID,
		"account_number":      m.AccountNumber,
		"account_type":        m.AccountType,
		"account_holder_name": m.HolderName,
		"currency_id":         m.CurrencyID,
		"balance":             m.Balance,
		"created_at":          m.CreatedAt,
	})
}

func (m *Account) fromStruct(s *structpb.Struct) {
	m.ID = str(s, "id")
	m.AccountNumber = str(s, "account_number")
	m.AccountType = str(s, "account_type")
	m.HolderName = str(s, "account_holder_name")
	m.CurrencyID = str(s, "currency_id")
	m.Balance = str(s, "balance")
	m.CreatedAt = str(s, "created_at")
}

func (m *AccountResponse) toStruct() *structpb.Struct {
	s := fields(map[string]string{"correlation_id": m.CorrelationID})
	if m.Account != nil {
		s.Fields["account"] = structpb.NewStructValue(m.Account.toStruct())
	}
	return s
}

func (m *AccountResponse) fromStruct(s *structpb.Struct) {
	m.CorrelationID = str(s, "correlation_id")
	if a := s.GetFields()["account"].GetStructValue(); a != nil {
		m.Account = &Account{}
		m.Account.fromStruct(a)
	}
}

func (m *ListAccountsRequest) toStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}
}

func (m *ListAccountsRequest) fromStruct(*structpb.Struct) {}

func (m *ListAccountsResponse) toStruct() *structpb.Struct {
	values := make([]*structpb.Value, 0, len(m.Accounts))
	for _, a := range m.Accounts {
		values = append(values, structpb.NewStructValue(a.toStruct()))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"accounts": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func (m *ListAccountsResponse) fromStruct(s *structpb.Struct) {
	for _, v := range s.GetFields()["accounts"].GetListValue().GetValues() {
		a := &Account{}
		a.fromStruct(v.GetStructValue())
		m.Accounts = append(m.Accounts, a)
	}
}

func fields(kv map[string]string) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(kv))}
	for k, v := range kv {
		if v != "" {
			s.Fields[k] = structpb.NewStringValue(v)
		}
	}
	return s
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}
