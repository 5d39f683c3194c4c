// Package gin provides Gin middleware for x402 payment gating
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
	"github.com/Vikram-Singh0/WalTune/pkg/x402"
)

// paymentContextKey is the Gin context key the granted payment is stored under.
const paymentContextKey = "x402.payment"

// RequirementExtractor derives the payment requirement from a Gin context.
// Return nil to let the request pass through unguarded.
type RequirementExtractor func(c *gongin.Context) (*x402.PaymentRequirement, error)

// VerifiedPayment describes how a granted request was paid for.
type VerifiedPayment struct {
	Method          x402.ClaimMode
	Amount          string
	Recipient       string
	TransactionHash string
	RemainingPlays  int
	Payer           string
}

// Config holds middleware configuration
type Config struct {
	// Credits settles credit-based claims (required)
	Credits *credits.Service

	// Verifier settles direct-payment claims (required)
	Verifier *x402.Verifier

	// GetRequirement derives the payment requirement from context (required)
	GetRequirement RequirementExtractor

	// Network is the ledger network advertised in 402 bodies
	Network string

	// FacilitatorURL is advertised in 402 bodies (optional)
	FacilitatorURL string

	// OnPaymentRequired is called instead of the default 402 writer when set
	OnPaymentRequired func(c *gongin.Context, body *x402.PaymentRequiredBody)

	// OnError is called when an internal error occurs
	// If nil, storage and chain failures return 503, everything else 500
	OnError func(c *gongin.Context, err error)

	// Logger is used for structured logging (default NoopLogger)
	Logger x402.Logger

	// Metrics tracks gate decisions (default NoopMetrics)
	Metrics x402.Metrics
}

// Middleware creates a Gin middleware that enforces payment before the
// handler runs.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Credits == nil {
		panic("waltune/gin: Config.Credits is required")
	}
	if cfg.Verifier == nil {
		panic("waltune/gin: Config.Verifier is required")
	}
	if cfg.GetRequirement == nil {
		panic("waltune/gin: Config.GetRequirement is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = &x402.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &x402.NoopMetrics{}
	}

	return func(c *gongin.Context) {
		requirement, err := cfg.GetRequirement(c)
		if err != nil {
			abortError(c, cfg, err)
			return
		}
		if requirement == nil {
			c.Next()
			return
		}

		claim, err := x402.ParseClaim(c.GetHeader(x402.PaymentHeader))
		if err != nil {
			reason := "no_claim"
			if errors.Is(err, x402.ErrClaimMalformed) {
				reason = "malformed_claim"
			}
			cfg.Metrics.RecordPaymentRequired(reason)
			abortPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
				Error:   "Payment Required",
				Message: "Payment required to access this resource",
			})
			return
		}

		if claim.Mode() == x402.ModeCredits {
			handleCredits(c, cfg, claim, requirement)
			return
		}
		handleDirect(c, cfg, claim, requirement)
	}
}

func handleCredits(c *gongin.Context, cfg Config, claim *x402.PaymentClaim, requirement *x402.PaymentRequirement) {
	address := claim.UserAddress
	if address == "" {
		cfg.Metrics.RecordPaymentRequired("malformed_claim")
		abortPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
			Error:   "Payment Required",
			Message: "Credit payment claim is missing the user address",
		})
		return
	}

	ctx := c.Request.Context()
	hasCredit, err := cfg.Credits.HasCredit(ctx, address)
	if err != nil {
		abortError(c, cfg, err)
		return
	}
	if !hasCredit {
		cfg.Metrics.RecordPaymentRequired("no_credits")
		abortPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
			Error:           "Insufficient Credits",
			Message:         "No play credits remaining, purchase more to continue listening",
			RequiresCredits: true,
		})
		return
	}

	remaining, err := cfg.Credits.UseCredit(ctx, address)
	if errors.Is(err, credits.ErrInsufficientCredit) {
		cfg.Metrics.RecordPaymentRequired("no_credits")
		abortPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
			Error:           "Insufficient Credits",
			Message:         "No play credits remaining, purchase more to continue listening",
			RequiresCredits: true,
		})
		return
	}
	if err != nil {
		abortError(c, cfg, err)
		return
	}

	cfg.Metrics.RecordGrant(string(x402.ModeCredits))
	c.Set(paymentContextKey, &VerifiedPayment{
		Method:         x402.ModeCredits,
		Recipient:      requirement.Recipient,
		RemainingPlays: remaining,
		Payer:          address,
	})
	c.Next()
}

func handleDirect(c *gongin.Context, cfg Config, claim *x402.PaymentClaim, requirement *x402.PaymentRequirement) {
	result, err := cfg.Verifier.Verify(c.Request.Context(), claim, requirement)
	if err != nil {
		abortError(c, cfg, err)
		return
	}
	if !result.Valid {
		cfg.Metrics.RecordPaymentRequired("verification_failed")
		abortPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
			Error:   "Payment Verification Failed",
			Message: result.Reason,
		})
		return
	}

	cfg.Metrics.RecordGrant(string(x402.ModeDirect))
	c.Set(paymentContextKey, &VerifiedPayment{
		Method:          x402.ModeDirect,
		Amount:          result.Amount,
		Recipient:       requirement.Recipient,
		TransactionHash: result.TransactionHash,
		Payer:           claim.UserAddress,
	})
	c.Next()
}

// PaymentFromContext returns the granted payment marker set by the
// middleware, or nil if the request was not payment-gated.
func PaymentFromContext(c *gongin.Context) *VerifiedPayment {
	if val, exists := c.Get(paymentContextKey); exists {
		if p, ok := val.(*VerifiedPayment); ok {
			return p
		}
	}
	return nil
}

func abortPaymentRequired(c *gongin.Context, cfg Config, requirement *x402.PaymentRequirement, body *x402.PaymentRequiredBody) {
	instruction, err := x402.NewPaymentInstruction(requirement, cfg.Network, cfg.FacilitatorURL)
	if err != nil {
		abortError(c, cfg, err)
		return
	}
	body.Payment = instruction
	if requirement.ResourceID != "" {
		body.Resource = &x402.ResourceInfo{
			SongID: requirement.ResourceID,
			Type:   x402.ResourceTypeAudioStream,
		}
	}

	if cfg.OnPaymentRequired != nil {
		cfg.OnPaymentRequired(c, body)
	} else {
		c.JSON(http.StatusPaymentRequired, body)
	}
	c.Abort()
}

func abortError(c *gongin.Context, cfg Config, err error) {
	cfg.Logger.Error("payment gate internal error",
		x402.Field{Key: "path", Value: c.Request.URL.Path},
		x402.Field{Key: "error", Value: err.Error()})

	if cfg.OnError != nil {
		cfg.OnError(c, err)
	} else if errors.Is(err, credits.ErrStorageUnavailable) || errors.Is(err, x402.ErrChainUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "Payment infrastructure unavailable, try again later"})
	} else {
		c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
	}
	c.Abort()
}

// Convenience extractors

// FixedRequirement returns a RequirementExtractor that always charges the
// same amount to the same recipient.
func FixedRequirement(amount, recipient, resourceID string) RequirementExtractor {
	return func(*gongin.Context) (*x402.PaymentRequirement, error) {
		return &x402.PaymentRequirement{
			Amount:     amount,
			Recipient:  recipient,
			ResourceID: resourceID,
		}, nil
	}
}

// PerSong returns a RequirementExtractor that charges a flat price per song,
// taking the song ID from a route parameter.
func PerSong(amount, recipient, paramName string) RequirementExtractor {
	return func(c *gongin.Context) (*x402.PaymentRequirement, error) {
		return &x402.PaymentRequirement{
			Amount:     amount,
			Recipient:  recipient,
			ResourceID: c.Param(paramName),
		}, nil
	}
}
