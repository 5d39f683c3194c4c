package api

import (
	"time"

	"github.com/Vikram-Singh0/WalTune/pkg/x402"
)

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Payment           *x402.PaymentClaim `json:"payment"`
	ExpectedAmount    string             `json:"expectedAmount,omitempty"`
	ExpectedRecipient string             `json:"expectedRecipient,omitempty"`
}

// SettleRequest is the body of POST /settle.
type SettleRequest struct {
	Payment       *x402.PaymentClaim `json:"payment"`
	SignerAddress string             `json:"signerAddress,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Network   string `json:"network"`
	Timestamp string `json:"timestamp"`
}

// CreditsResponse is the body of GET /credits.
type CreditsResponse struct {
	Address        string    `json:"address"`
	RemainingPlays int       `json:"remainingPlays"`
	TotalPurchased int       `json:"totalPurchased"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PurchaseCreditsRequest is the body of POST /credits/purchase.
//
// Payment optionally carries the claim that paid for the bundle; when present
// it is verified before any credits are added, and its settlement reference
// is used when SettlementRef is empty.
type PurchaseCreditsRequest struct {
	Address       string             `json:"address,omitempty"`
	NumberOfPlays int                `json:"numberOfPlays"`
	AmountPaid    int64              `json:"amountPaid"`
	SettlementRef string             `json:"settlementRef,omitempty"`
	Payment       *x402.PaymentClaim `json:"payment,omitempty"`
}

// ErrorResponse is the generic JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
