package dto

import (
	"time"

	"coin-mixer/internal/core/domain"

	"github.com/google/uuid"
)

// IssueAddressRequest is the request body for deposit address issuance.
type IssueAddressRequest struct {
	PrivateAddresses []string `json:"private_addresses" binding:"required,min=1,max=32,dive,required,max=128,safe_id"`
}

// IssueAddressResponse is the response body for deposit address issuance.
// PrivateAddresses is omitted when the mixer does not keep them.
type IssueAddressResponse struct {
	DepositAddress   string   `json:"deposit_address"`
	PrivateAddresses []string `json:"private_addresses,omitempty"`
}

// TransferRequest is the request body for a transfer. An empty or "(new)"
// sender mints coins; an empty amount then defaults to the mint amount.
type TransferRequest struct {
	From   string `json:"from_address" binding:"omitempty,max=128,sender"`
	To     string `json:"to_address" binding:"required,max=128,safe_id"`
	Amount string `json:"amount" binding:"omitempty,amount"`
}

// TransactionResponse renders one transaction.
type TransactionResponse struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	CreatedAt   string `json:"created_at"`
}

// AddressResponse is the balance and history of one deposit address.
type AddressResponse struct {
	Address      string                `json:"address"`
	Balance      string                `json:"balance"`
	Transactions []TransactionResponse `json:"transactions"`
}

// TransactionListResponse wraps a list of transactions.
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Count        int                   `json:"count"`
}

// StatsResponse reports the mixer's running totals.
type StatsResponse struct {
	FeesCollected string `json:"fees_collected"`
	MintedTotal   string `json:"minted_total"`
}

// DependencyStatus is the health of one backing service.
type DependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the response body for the health check endpoint.
type HealthResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}

// NewTransactionResponse converts a domain transaction.
func NewTransactionResponse(tx domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		Seq:         tx.Seq,
		FromAddress: tx.From,
		ToAddress:   tx.To,
		Amount:      domain.FormatAmount(tx.Amount),
		Fee:         tx.Fee.String(),
	}
	if tx.ID != uuid.Nil {
		resp.ID = tx.ID.String()
	}
	if !tx.CreatedAt.IsZero() {
		resp.CreatedAt = tx.CreatedAt.Format(time.RFC3339)
	}
	return resp
}

// NewTransactionResponses converts a list, never returning nil.
func NewTransactionResponses(txs []domain.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = NewTransactionResponse(tx)
	}
	return out
}
