// Package x402 implements the backend side of the x402 payment-gating
// protocol: the payment claim and requirement types, the HTTP 402 response
// envelope, and the payment verifier.
package x402

import (
	"encoding/json"
	"errors"
	"math/big"
	"time"
)

const (
	// PaymentHeader is the request header carrying a JSON-encoded PaymentClaim.
	PaymentHeader = "X-PAYMENT"

	// CurrencySUI is the settlement currency identifier.
	CurrencySUI = "SUI"

	// SuiDecimals is the number of decimal places in the settlement currency.
	// 1 SUI = 1_000_000_000 MIST.
	SuiDecimals = 9

	// PlaceholderRecipient is the zero-address placeholder some callers use
	// when the real recipient is not known at requirement-build time.
	PlaceholderRecipient = "0x0000000000000000000000000000000000000000"

	// ResourceTypeAudioStream identifies a song stream in the 402 envelope.
	ResourceTypeAudioStream = "audio_stream"
)

// ClaimMode discriminates the two kinds of payment claims.
type ClaimMode string

const (
	// ModeCredits claims a pre-purchased play credit.
	ModeCredits ClaimMode = "credits"
	// ModeDirect claims an on-chain transfer or a signed authorization.
	ModeDirect ClaimMode = "direct"
)

// PaymentClaim is the caller-supplied assertion that payment has occurred.
// Field names are wire-compatible with the frontend's X-PAYMENT header.
type PaymentClaim struct {
	// Signature is the base64- or hex-encoded Ed25519 signature over Message.
	Signature string `json:"signature,omitempty"`

	// Message is the signed payment message.
	Message string `json:"message,omitempty"`

	// PublicKey is the signer's base64- or hex-encoded Ed25519 public key.
	PublicKey string `json:"publicKey,omitempty"`

	// Amount is the claimed payment amount in MIST.
	Amount string `json:"amount,omitempty"`

	// Recipient is the claimed payment recipient address.
	Recipient string `json:"recipient,omitempty"`

	// Nonce is a caller-chosen unique value bound into the signed message.
	Nonce string `json:"nonce,omitempty"`

	// Timestamp is when the claim was issued, in unix milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`

	// TransactionDigest references an already-submitted on-chain transfer.
	// When set, verification resolves the transaction instead of the signature.
	TransactionDigest string `json:"transactionDigest,omitempty"`

	// PlayCredits marks a credit-based claim.
	PlayCredits bool `json:"playCredits,omitempty"`

	// UserAddress is the payer's wallet address, used for credit lookups.
	UserAddress string `json:"userSuiAddress,omitempty"`
}

// Mode returns the claim's discriminant.
func (c *PaymentClaim) Mode() ClaimMode {
	if c.PlayCredits {
		return ModeCredits
	}
	return ModeDirect
}

// IssuedAt returns the claim's issue time.
func (c *PaymentClaim) IssuedAt() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// ParseClaim decodes a PaymentClaim from an X-PAYMENT header value.
func ParseClaim(header string) (*PaymentClaim, error) {
	if header == "" {
		return nil, ErrClaimMissing
	}
	var claim PaymentClaim
	if err := json.Unmarshal([]byte(header), &claim); err != nil {
		return nil, ErrClaimMalformed
	}
	return &claim, nil
}

// PaymentRequirement is the resource-side statement of what payment is owed.
// It is attached to a request by the resource handler and consumed by the gate.
type PaymentRequirement struct {
	// Amount is the price in decimal SUI (e.g. "0.01").
	Amount string

	// Recipient is the address payment is owed to (the artist wallet).
	Recipient string

	// ResourceID identifies the protected resource (the song).
	ResourceID string
}

// PaymentInstruction tells the caller how to pay. It is embedded in the 402
// response body.
type PaymentInstruction struct {
	// Amount in MIST.
	Amount string `json:"amount"`

	Currency  string `json:"currency"`
	Recipient string `json:"recipient"`

	// Network is e.g. "sui-testnet" or "sui-mainnet".
	Network string `json:"network"`

	// Facilitator is the URL of the verify/settle service, if one is exposed.
	Facilitator string `json:"facilitator,omitempty"`
}

// ResourceInfo identifies the protected resource in the 402 envelope.
type ResourceInfo struct {
	SongID string `json:"songId"`
	Type   string `json:"type"`
}

// PaymentRequiredBody is the JSON body returned with a 402 status.
type PaymentRequiredBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`

	Payment *PaymentInstruction `json:"payment,omitempty"`

	Resource *ResourceInfo `json:"resource,omitempty"`

	// RequiresCredits distinguishes "no credits left" from "no payment at all".
	RequiresCredits bool `json:"requiresCredits,omitempty"`
}

// NewPaymentInstruction builds a PaymentInstruction for a requirement,
// converting the decimal SUI amount to MIST.
func NewPaymentInstruction(req *PaymentRequirement, network, facilitatorURL string) (*PaymentInstruction, error) {
	mist, err := ToBaseUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	return &PaymentInstruction{
		Amount:      mist.String(),
		Currency:    CurrencySUI,
		Recipient:   req.Recipient,
		Network:     network,
		Facilitator: facilitatorURL,
	}, nil
}

// VerificationResult is the verifier's decision for a claim.
type VerificationResult struct {
	Valid bool `json:"valid"`

	// Reason is a human-readable explanation when Valid is false.
	Reason string `json:"error,omitempty"`

	// TransactionHash is the settlement reference: the on-chain digest for
	// resolved transfers, or a derived verification identifier otherwise.
	TransactionHash string `json:"transactionHash,omitempty"`

	Amount    string `json:"amount,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// SettlementResult is returned by the facilitator's settle operation.
type SettlementResult struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ToBaseUnits converts a decimal SUI amount string to MIST.
// Returns ErrInvalidAmount for malformed, negative, or sub-MIST amounts.
func ToBaseUnits(amount string) (*big.Int, error) {
	value := new(big.Rat)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}
	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(SuiDecimals), nil))
	value.Mul(value, scale)

	if !value.IsInt() {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// FromBaseUnits converts a MIST value to a decimal SUI string.
func FromBaseUnits(value *big.Int) string {
	if value == nil {
		return "0"
	}
	rat := new(big.Rat).SetInt(value)
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(SuiDecimals), nil))
	rat.Quo(rat, scale)
	return rat.FloatString(SuiDecimals)
}

// parseBaseUnits parses a claimed MIST amount string.
func parseBaseUnits(amount string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.New("invalid base-unit amount")
	}
	return v, nil
}
