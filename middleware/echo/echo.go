// Package echo provides Echo middleware for x402 payment gating
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
	"github.com/Vikram-Singh0/WalTune/pkg/x402"
)

// paymentContextKey is the Echo context key the granted payment is stored under.
const paymentContextKey = "x402.payment"

// RequirementExtractor derives the payment requirement from an Echo context.
// Return nil to let the request pass through unguarded.
type RequirementExtractor func(c echo.Context) (*x402.PaymentRequirement, error)

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
	OnPaymentRequired func(c echo.Context, body *x402.PaymentRequiredBody) error

	// OnError is called when an internal error occurs
	// If nil, storage and chain failures return 503, everything else 500
	OnError func(c echo.Context, err error) error

	// Logger is used for structured logging (default NoopLogger)
	Logger x402.Logger

	// Metrics tracks gate decisions (default NoopMetrics)
	Metrics x402.Metrics
}

// Middleware creates an Echo middleware that enforces payment before the
// handler runs.
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Credits == nil {
		panic("waltune/echo: Config.Credits is required")
	}
	if cfg.Verifier == nil {
		panic("waltune/echo: Config.Verifier is required")
	}
	if cfg.GetRequirement == nil {
		panic("waltune/echo: Config.GetRequirement is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = &x402.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &x402.NoopMetrics{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requirement, err := cfg.GetRequirement(c)
			if err != nil {
				return respondError(c, cfg, err)
			}
			if requirement == nil {
				return next(c)
			}

			claim, err := x402.ParseClaim(c.Request().Header.Get(x402.PaymentHeader))
			if err != nil {
				reason := "no_claim"
				if errors.Is(err, x402.ErrClaimMalformed) {
					reason = "malformed_claim"
				}
				cfg.Metrics.RecordPaymentRequired(reason)
				return respondPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
					Error:   "Payment Required",
					Message: "Payment required to access this resource",
				})
			}

			if claim.Mode() == x402.ModeCredits {
				return handleCredits(c, cfg, claim, requirement, next)
			}
			return handleDirect(c, cfg, claim, requirement, next)
		}
	}
}

func handleCredits(c echo.Context, cfg Config, claim *x402.PaymentClaim, requirement *x402.PaymentRequirement, next echo.HandlerFunc) error {
	address := claim.UserAddress
	if address == "" {
		cfg.Metrics.RecordPaymentRequired("malformed_claim")
		return respondPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
			Error:   "Payment Required",
			Message: "Credit payment claim is missing the user address",
		})
	}

	ctx := c.Request().Context()
	hasCredit, err := cfg.Credits.HasCredit(ctx, address)
	if err != nil {
		return respondError(c, cfg, err)
	}
	if !hasCredit {
		cfg.Metrics.RecordPaymentRequired("no_credits")
		return respondPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
			Error:           "Insufficient Credits",
			Message:         "No play credits remaining, purchase more to continue listening",
			RequiresCredits: true,
		})
	}

	remaining, err := cfg.Credits.UseCredit(ctx, address)
	if errors.Is(err, credits.ErrInsufficientCredit) {
		cfg.Metrics.RecordPaymentRequired("no_credits")
		return respondPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
			Error:           "Insufficient Credits",
			Message:         "No play credits remaining, purchase more to continue listening",
			RequiresCredits: true,
		})
	}
	if err != nil {
		return respondError(c, cfg, err)
	}

	cfg.Metrics.RecordGrant(string(x402.ModeCredits))
	c.Set(paymentContextKey, &VerifiedPayment{
		Method:         x402.ModeCredits,
		Recipient:      requirement.Recipient,
		RemainingPlays: remaining,
		Payer:          address,
	})
	return next(c)
}

func handleDirect(c echo.Context, cfg Config, claim *x402.PaymentClaim, requirement *x402.PaymentRequirement, next echo.HandlerFunc) error {
	result, err := cfg.Verifier.Verify(c.Request().Context(), claim, requirement)
	if err != nil {
		return respondError(c, cfg, err)
	}
	if !result.Valid {
		cfg.Metrics.RecordPaymentRequired("verification_failed")
		return respondPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
			Error:   "Payment Verification Failed",
			Message: result.Reason,
		})
	}

	cfg.Metrics.RecordGrant(string(x402.ModeDirect))
	c.Set(paymentContextKey, &VerifiedPayment{
		Method:          x402.ModeDirect,
		Amount:          result.Amount,
		Recipient:       requirement.Recipient,
		TransactionHash: result.TransactionHash,
		Payer:           claim.UserAddress,
	})
	return next(c)
}

// PaymentFromContext returns the granted payment marker set by the
// middleware, or nil if the request was not payment-gated.
func PaymentFromContext(c echo.Context) *VerifiedPayment {
	if p, ok := c.Get(paymentContextKey).(*VerifiedPayment); ok {
		return p
	}
	return nil
}

func respondPaymentRequired(c echo.Context, cfg Config, requirement *x402.PaymentRequirement, body *x402.PaymentRequiredBody) error {
	instruction, err := x402.NewPaymentInstruction(requirement, cfg.Network, cfg.FacilitatorURL)
	if err != nil {
		return respondError(c, cfg, err)
	}
	body.Payment = instruction
	if requirement.ResourceID != "" {
		body.Resource = &x402.ResourceInfo{
			SongID: requirement.ResourceID,
			Type:   x402.ResourceTypeAudioStream,
		}
	}

	if cfg.OnPaymentRequired != nil {
		return cfg.OnPaymentRequired(c, body)
	}
	return c.JSON(http.StatusPaymentRequired, body)
}

func respondError(c echo.Context, cfg Config, err error) error {
	cfg.Logger.Error("payment gate internal error",
		x402.Field{Key: "path", Value: c.Request().URL.Path},
		x402.Field{Key: "error", Value: err.Error()})

	if cfg.OnError != nil {
		return cfg.OnError(c, err)
	}
	if errors.Is(err, credits.ErrStorageUnavailable) || errors.Is(err, x402.ErrChainUnavailable) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Payment infrastructure unavailable, try again later"})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// Convenience extractors

// FixedRequirement returns a RequirementExtractor that always charges the
// same amount to the same recipient.
func FixedRequirement(amount, recipient, resourceID string) RequirementExtractor {
	return func(echo.Context) (*x402.PaymentRequirement, error) {
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
	return func(c echo.Context) (*x402.PaymentRequirement, error) {
		return &x402.PaymentRequirement{
			Amount:     amount,
			Recipient:  recipient,
			ResourceID: c.Param(paramName),
		}, nil
	}
}
