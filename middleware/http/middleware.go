// Package http provides HTTP middleware for x402 payment gating: every
// protected request either carries a valid payment claim or receives a 402
// response describing how to pay.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
	"github.com/Vikram-Singh0/WalTune/pkg/x402"
)

// RequirementExtractor derives the payment requirement for a request.
// Return nil to let the request pass through unguarded.
type RequirementExtractor func(r *http.Request) (*x402.PaymentRequirement, error)

// Config holds middleware configuration.
type Config struct {
	// Credits settles credit-based claims (required).
	Credits *credits.Service

	// Verifier settles direct-payment claims (required).
	Verifier *x402.Verifier

	// GetRequirement derives the payment requirement from the request.
	// If nil, the gate only honors requirements attached to the request
	// context via RequirePayment.
	GetRequirement RequirementExtractor

	// Network is the ledger network advertised in 402 bodies
	// (e.g. "sui-testnet").
	Network string

	// FacilitatorURL is advertised in 402 bodies so clients can verify
	// out-of-band. Optional.
	FacilitatorURL string

	// OnPaymentRequired is called instead of the default 402 writer when set.
	OnPaymentRequired func(w http.ResponseWriter, r *http.Request, body *x402.PaymentRequiredBody)

	// OnError is called when an internal error occurs. If nil, storage and
	// chain failures return 503 and everything else returns 500, always as a
	// structured JSON body distinct from payment failures.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// Logger is used for structured logging (default NoopLogger).
	Logger x402.Logger

	// Metrics tracks gate decisions (default NoopMetrics).
	Metrics x402.Metrics
}

// VerifiedPayment is attached to the request context once the gate grants
// access, so downstream handlers can record the play and return the stream.
type VerifiedPayment struct {
	// Method is how the request was paid for.
	Method x402.ClaimMode

	// Amount in MIST for direct payments.
	Amount string

	Recipient string

	// TransactionHash is the settlement reference for direct payments.
	TransactionHash string

	// RemainingPlays is the balance after deduction for credit payments.
	RemainingPlays int

	// Payer is the wallet the payment came from.
	Payer string
}

type contextKey string

const (
	requirementContextKey contextKey = "x402:requirement"
	paymentContextKey     contextKey = "x402:payment"
)

// RequirePayment attaches a payment requirement to the request context.
// Resource handlers that wrap the gate use this to mark a request as paid
// content before the gate runs.
func RequirePayment(r *http.Request, req *x402.PaymentRequirement) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requirementContextKey, req))
}

// RequirementFromContext returns the requirement attached by RequirePayment.
func RequirementFromContext(ctx context.Context) *x402.PaymentRequirement {
	req, _ := ctx.Value(requirementContextKey).(*x402.PaymentRequirement)
	return req
}

// VerifiedPaymentFromContext returns the granted payment marker, or nil if
// the request was not payment-gated.
func VerifiedPaymentFromContext(ctx context.Context) *VerifiedPayment {
	p, _ := ctx.Value(paymentContextKey).(*VerifiedPayment)
	return p
}

// FixedRequirement returns an extractor that always charges the same amount
// to the same recipient.
func FixedRequirement(amount, recipient, resourceID string) RequirementExtractor {
	return func(r *http.Request) (*x402.PaymentRequirement, error) {
		return &x402.PaymentRequirement{
			Amount:     amount,
			Recipient:  recipient,
			ResourceID: resourceID,
		}, nil
	}
}

// Middleware creates an HTTP middleware that enforces payment before the
// wrapped handler runs.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Logger == nil {
		config.Logger = &x402.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &x402.NoopMetrics{}
	}
	gate := &gate{config: config}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requirement := RequirementFromContext(r.Context())
			if requirement == nil && config.GetRequirement != nil {
				var err error
				requirement, err = config.GetRequirement(r)
				if err != nil {
					gate.serverError(w, r, err)
					return
				}
			}
			if requirement == nil {
				// Not marked as paid content.
				next.ServeHTTP(w, r)
				return
			}

			gate.handle(w, r, requirement, next)
		})
	}
}

// HandlerFunc creates an HTTP middleware that enforces payment
// (http.HandlerFunc version).
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

type gate struct {
	config Config
}

// handle runs one pass of the gate state machine for a marked request.
func (g *gate) handle(w http.ResponseWriter, r *http.Request, requirement *x402.PaymentRequirement, next http.Handler) {
	claim, err := x402.ParseClaim(r.Header.Get(x402.PaymentHeader))
	if err != nil {
		reason := "no_claim"
		if errors.Is(err, x402.ErrClaimMalformed) {
			reason = "malformed_claim"
		}
		g.config.Metrics.RecordPaymentRequired(reason)
		g.paymentRequired(w, r, requirement, &x402.PaymentRequiredBody{
			Error:   "Payment Required",
			Message: "Payment required to access this resource",
		})
		return
	}

	switch claim.Mode() {
	case x402.ModeCredits:
		g.handleCredits(w, r, claim, requirement, next)
	default:
		g.handleDirect(w, r, claim, requirement, next)
	}
}

func (g *gate) handleCredits(w http.ResponseWriter, r *http.Request, claim *x402.PaymentClaim, requirement *x402.PaymentRequirement, next http.Handler) {
	address := claim.UserAddress
	if address == "" {
		g.config.Metrics.RecordPaymentRequired("malformed_claim")
		g.paymentRequired(w, r, requirement, &x402.PaymentRequiredBody{
			Error:   "Payment Required",
			Message: "Credit payment claim is missing the user address",
		})
		return
	}

	hasCredit, err := g.config.Credits.HasCredit(r.Context(), address)
	if err != nil {
		g.serverError(w, r, err)
		return
	}
	if !hasCredit {
		g.config.Metrics.RecordPaymentRequired("no_credits")
		g.paymentRequired(w, r, requirement, &x402.PaymentRequiredBody{
			Error:           "Insufficient Credits",
			Message:         "No play credits remaining, purchase more to continue listening",
			RequiresCredits: true,
		})
		return
	}

	// At most one deduction per request: a lost race is answered with 402,
	// never retried here.
	remaining, err := g.config.Credits.UseCredit(r.Context(), address)
	if errors.Is(err, credits.ErrInsufficientCredit) {
		g.config.Metrics.RecordPaymentRequired("no_credits")
		g.paymentRequired(w, r, requirement, &x402.PaymentRequiredBody{
			Error:           "Insufficient Credits",
			Message:         "No play credits remaining, purchase more to continue listening",
			RequiresCredits: true,
		})
		return
	}
	if err != nil {
		g.serverError(w, r, err)
		return
	}

	g.config.Metrics.RecordGrant(string(x402.ModeCredits))
	g.config.Logger.Info("request granted via play credit",
		x402.Field{Key: "address", Value: address},
		x402.Field{Key: "resource", Value: requirement.ResourceID},
		x402.Field{Key: "remaining", Value: remaining})

	g.grant(w, r, next, &VerifiedPayment{
		Method:         x402.ModeCredits,
		Recipient:      requirement.Recipient,
		RemainingPlays: remaining,
		Payer:          address,
	})
}

func (g *gate) handleDirect(w http.ResponseWriter, r *http.Request, claim *x402.PaymentClaim, requirement *x402.PaymentRequirement, next http.Handler) {
	result, err := g.config.Verifier.Verify(r.Context(), claim, requirement)
	if err != nil {
		g.serverError(w, r, err)
		return
	}
	if !result.Valid {
		g.config.Metrics.RecordPaymentRequired("verification_failed")
		g.config.Logger.Warn("payment verification failed",
			x402.Field{Key: "resource", Value: requirement.ResourceID},
			x402.Field{Key: "reason", Value: result.Reason})
		g.paymentRequired(w, r, requirement, &x402.PaymentRequiredBody{
			Error:   "Payment Verification Failed",
			Message: result.Reason,
		})
		return
	}

	g.config.Metrics.RecordGrant(string(x402.ModeDirect))
	g.config.Logger.Info("request granted via direct payment",
		x402.Field{Key: "resource", Value: requirement.ResourceID},
		x402.Field{Key: "transaction", Value: result.TransactionHash})

	g.grant(w, r, next, &VerifiedPayment{
		Method:          x402.ModeDirect,
		Amount:          result.Amount,
		Recipient:       requirement.Recipient,
		TransactionHash: result.TransactionHash,
		Payer:           claim.UserAddress,
	})
}

func (g *gate) grant(w http.ResponseWriter, r *http.Request, next http.Handler, payment *VerifiedPayment) {
	ctx := context.WithValue(r.Context(), paymentContextKey, payment)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// paymentRequired fills in the payment instruction and resource block and
// writes the 402 response.
func (g *gate) paymentRequired(w http.ResponseWriter, r *http.Request, requirement *x402.PaymentRequirement, body *x402.PaymentRequiredBody) {
	instruction, err := x402.NewPaymentInstruction(requirement, g.config.Network, g.config.FacilitatorURL)
	if err != nil {
		g.serverError(w, r, err)
		return
	}
	body.Payment = instruction
	if requirement.ResourceID != "" {
		body.Resource = &x402.ResourceInfo{
			SongID: requirement.ResourceID,
			Type:   x402.ResourceTypeAudioStream,
		}
	}

	if g.config.OnPaymentRequired != nil {
		g.config.OnPaymentRequired(w, r, body)
		return
	}
	writeJSON(w, http.StatusPaymentRequired, body)
}

// serverError reports infrastructure failures. These must stay distinct from
// 402 responses: "we're broken" is never "you haven't paid".
func (g *gate) serverError(w http.ResponseWriter, r *http.Request, err error) {
	g.config.Logger.Error("payment gate internal error",
		x402.Field{Key: "path", Value: r.URL.Path},
		x402.Field{Key: "error", Value: err.Error()})

	if g.config.OnError != nil {
		g.config.OnError(w, r, err)
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if errors.Is(err, credits.ErrStorageUnavailable) || errors.Is(err, x402.ErrChainUnavailable) {
		status = http.StatusServiceUnavailable
		message = "Payment infrastructure unavailable, try again later"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
