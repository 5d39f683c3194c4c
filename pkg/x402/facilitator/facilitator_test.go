package facilitator

import (
	"context"
	"testing"
	"time"

	"github.com/Vikram-Singh0/WalTune/pkg/x402"
)

func newTestFacilitator(t *testing.T) *Facilitator {
	t.Helper()

	verifier, err := x402.NewVerifier(x402.VerifierConfig{MockMode: true})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	return New(verifier, nil)
}

func mockClaim() *x402.PaymentClaim {
	return &x402.PaymentClaim{
		Signature: "mock-sig",
		Message:   "mock-message",
		Amount:    "10000000",
		Recipient: "0xartist",
		Nonce:     "n1",
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestFacilitator_Verify(t *testing.T) {
	f := newTestFacilitator(t)

	result, err := f.Verify(context.Background(), mockClaim(), "0.01", "0xartist")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid, got reason: %s", result.Reason)
	}
}

func TestFacilitator_Verify_NoExpectations(t *testing.T) {
	// Without expectations, verification runs against the claim's own amount
	// so structural and signature checks still apply.
	f := newTestFacilitator(t)

	result, err := f.Verify(context.Background(), mockClaim(), "", "")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid, got reason: %s", result.Reason)
	}

	claim := mockClaim()
	claim.Signature = ""
	result, err = f.Verify(context.Background(), claim, "", "")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Error("claim without signature must not verify")
	}
}

func TestFacilitator_Settle(t *testing.T) {
	f := newTestFacilitator(t)

	result, err := f.Settle(context.Background(), mockClaim(), "0xsigner")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if result.TransactionHash == "" {
		t.Error("settlement must carry a reference")
	}
}

func TestFacilitator_Settle_VerificationFailed(t *testing.T) {
	f := newTestFacilitator(t)

	claim := mockClaim()
	claim.Message = ""
	result, err := f.Settle(context.Background(), claim, "0xsigner")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if result.Success {
		t.Error("unverifiable claim must not settle")
	}
	if result.Error == "" {
		t.Error("failed settlement must carry a reason")
	}
}
