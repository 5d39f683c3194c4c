package fiber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
	"github.com/Vikram-Singh0/WalTune/pkg/x402"
	"github.com/Vikram-Singh0/WalTune/storage/memory"
)

func setupTest(t *testing.T) (*fiber.App, *credits.Service) {
	t.Helper()

	service, err := credits.NewService(memory.New(), credits.Config{})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	verifier, err := x402.NewVerifier(x402.VerifierConfig{MockMode: true})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	app := fiber.New()
	app.Get("/api/songs/:id/stream", Middleware(Config{
		Credits:        service,
		Verifier:       verifier,
		Network:        "sui-testnet",
		GetRequirement: PerSong("0.01", "0xartist", "id"),
	}), func(c *fiber.Ctx) error {
		payment := PaymentFromContext(c)
		return c.JSON(fiber.Map{
			"songId":  c.Params("id"),
			"paidVia": payment.Method,
		})
	})
	return app, service
}

func TestMiddleware_NoClaim(t *testing.T) {
	app, _ := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/songs/42/stream", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
}

func TestMiddleware_CreditsPath(t *testing.T) {
	app, service := setupTest(t)

	if _, err := service.Purchase(context.Background(), "0xlistener", 1, 10_000_000, "ref1"); err != nil {
		t.Fatalf("seed purchase failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/songs/42/stream", nil)
	req.Header.Set(x402.PaymentHeader, `{"playCredits":true,"userSuiAddress":"0xlistener"}`)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
