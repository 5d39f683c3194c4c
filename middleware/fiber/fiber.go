// Package fiber provides Fiber middleware for x402 payment gating
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
	"github.com/Vikram-Singh0/WalTune/pkg/x402"
)

// paymentContextKey is the Fiber locals key the granted payment is stored under.
const paymentContextKey = "x402.payment"

// RequirementExtractor derives the payment requirement from a Fiber context.
// Return nil to let the request pass through unguarded.
type RequirementExtractor func(c *fiber.Ctx) (*x402.PaymentRequirement, error)

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
	OnPaymentRequired func(c *fiber.Ctx, body *x402.PaymentRequiredBody) error

	// OnError is called when an internal error occurs
	// If nil, storage and chain failures return 503, everything else 500
	OnError func(c *fiber.Ctx, err error) error

	// Logger is used for structured logging (default NoopLogger)
	Logger x402.Logger

	// Metrics tracks gate decisions (default NoopMetrics)
	Metrics x402.Metrics
}

// Middleware creates a Fiber middleware that enforces payment before the
// handler runs.
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Credits == nil {
		panic("waltune/fiber: Config.Credits is required")
	}
	if cfg.Verifier == nil {
		panic("waltune/fiber: Config.Verifier is required")
	}
	if cfg.GetRequirement == nil {
		panic("waltune/fiber: Config.GetRequirement is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = &x402.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &x402.NoopMetrics{}
	}

	return func(c *fiber.Ctx) error {
		requirement, err := cfg.GetRequirement(c)
		if err != nil {
			return respondError(c, cfg, err)
		}
		if requirement == nil {
			return c.Next()
		}

		claim, err := x402.ParseClaim(c.Get(x402.PaymentHeader))
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
			return handleCredits(c, cfg, claim, requirement)
		}
		return handleDirect(c, cfg, claim, requirement)
	}
}

func handleCredits(c *fiber.Ctx, cfg Config, claim *x402.PaymentClaim, requirement *x402.PaymentRequirement) error {
	address := claim.UserAddress
	if address == "" {
		cfg.Metrics.RecordPaymentRequired("malformed_claim")
		return respondPaymentRequired(c, cfg, requirement, &x402.PaymentRequiredBody{
			Error:   "Payment Required",
			Message: "Credit payment claim is missing the user address",
		})
	}

	ctx := c.UserContext()
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
	c.Locals(paymentContextKey, &VerifiedPayment{
		Method:         x402.ModeCredits,
		Recipient:      requirement.Recipient,
		RemainingPlays: remaining,
		Payer:          address,
	})
	return c.Next()
}

func handleDirect(c *fiber.Ctx, cfg Config, claim *x402.PaymentClaim, requirement *x402.PaymentRequirement) error {
	result, err := cfg.Verifier.Verify(c.UserContext(), claim, requirement)
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
	c.Locals(paymentContextKey, &VerifiedPayment{
		Method:          x402.ModeDirect,
		Amount:          result.Amount,
		Recipient:       requirement.Recipient,
		TransactionHash: result.TransactionHash,
		Payer:           claim.UserAddress,
	})
	return c.Next()
}

// PaymentFromContext returns the granted payment marker set by the
// middleware, or nil if the request was not payment-gated.
func PaymentFromContext(c *fiber.Ctx) *VerifiedPayment {
	if p, ok := c.Locals(paymentContextKey).(*VerifiedPayment); ok {
		return p
	}
	return nil
}

func respondPaymentRequired(c *fiber.Ctx, cfg Config, requirement *x402.PaymentRequirement, body *x402.PaymentRequiredBody) error {
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
	return c.Status(fiber.StatusPaymentRequired).JSON(body)
}

func respondError(c *fiber.Ctx, cfg Config, err error) error {
	cfg.Logger.Error("payment gate internal error",
		x402.Field{Key: "path", Value: c.Path()},
		x402.Field{Key: "error", Value: err.Error()})

	if cfg.OnError != nil {
		return cfg.OnError(c, err)
	}
	if errors.Is(err, credits.ErrStorageUnavailable) || errors.Is(err, x402.ErrChainUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Payment infrastructure unavailable, try again later"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// Convenience extractors

// FixedRequirement returns a RequirementExtractor that always charges the
// same amount to the same recipient.
func FixedRequirement(amount, recipient, resourceID string) RequirementExtractor {
	return func(*fiber.Ctx) (*x402.PaymentRequirement, error) {
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
	return func(c *fiber.Ctx) (*x402.PaymentRequirement, error) {
		return &x402.PaymentRequirement{
			Amount:     amount,
			Recipient:  recipient,
			ResourceID: c.Params(paramName),
		}, nil
	}
}
