// Package facilitator exposes verify and settle as independently callable
// operations, so payment decisions can be made out-of-process from the gate.
package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/Vikram-Singh0/WalTune/pkg/x402"
)

// Facilitator wraps a verifier with a settle operation. It holds no signing
// authority: Settle re-verifies the claim and constructs a transfer intent,
// leaving execution to the caller's own signer.
type Facilitator struct {
	verifier *x402.Verifier
	logger   x402.Logger
}

// TransferIntent describes the on-chain transfer a settled claim authorizes.
type TransferIntent struct {
	// Amount in MIST.
	Amount    string
	Recipient string
	Nonce     string
}

// New creates a facilitator around an existing verifier.
func New(verifier *x402.Verifier, logger x402.Logger) *Facilitator {
	if logger == nil {
		logger = &x402.NoopLogger{}
	}
	return &Facilitator{verifier: verifier, logger: logger}
}

// Verify checks a claim against an optional expected amount and recipient.
// Empty expectations skip the corresponding check, mirroring the standalone
// /verify surface where the caller may not know the resource context.
func (f *Facilitator) Verify(ctx context.Context, claim *x402.PaymentClaim, expectedAmount, expectedRecipient string) (*x402.VerificationResult, error) {
	req := &x402.PaymentRequirement{
		Amount:    expectedAmount,
		Recipient: expectedRecipient,
	}
	if expectedAmount == "" {
		// No expectation given: verify against the claim's own amount so the
		// signature, staleness, and settlement checks still run.
		if v, ok := new(big.Int).SetString(claim.Amount, 10); ok {
			req.Amount = x402.FromBaseUnits(v)
		}
	}
	return f.verifier.Verify(ctx, claim, req)
}

// Settle re-verifies the claim and, on success, constructs (but does not
// sign or broadcast) the transfer it authorizes.
func (f *Facilitator) Settle(ctx context.Context, claim *x402.PaymentClaim, signerAddress string) (*x402.SettlementResult, error) {
	result, err := f.Verify(ctx, claim, "", "")
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return &x402.SettlementResult{
			Success: false,
			Error:   result.Reason,
		}, nil
	}

	intent := &TransferIntent{
		Amount:    claim.Amount,
		Recipient: claim.Recipient,
		Nonce:     claim.Nonce,
	}
	f.logger.Info("transfer intent constructed",
		x402.Field{Key: "recipient", Value: intent.Recipient},
		x402.Field{Key: "amount", Value: intent.Amount},
		x402.Field{Key: "signer", Value: signerAddress})

	return &x402.SettlementResult{
		Success:         true,
		TransactionHash: fmt.Sprintf("settled_%d_%s", time.Now().UnixMilli(), claim.Nonce),
	}, nil
}
