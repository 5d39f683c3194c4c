package x402

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// DefaultStalenessWindow is the maximum age of a signed claim before it is
	// rejected as a potential replay.
	DefaultStalenessWindow = 5 * time.Minute

	// DefaultTrustWindow is the grace period during which a transaction the
	// ledger has not yet indexed is provisionally accepted.
	DefaultTrustWindow = 5 * time.Minute

	// DefaultLookupAttempts is the number of chain lookups tried before
	// falling back to the trust window.
	DefaultLookupAttempts = 3

	// DefaultLookupBaseDelay is the initial backoff between chain lookups.
	// The delay doubles per attempt, so a full retry cycle blocks the calling
	// request for roughly the sum of the intermediate delays plus RPC time.
	DefaultLookupBaseDelay = time.Second
)

// VerifierConfig holds verifier configuration. The demo-mode switches are
// explicit constructor parameters; the verifier never reads the environment.
type VerifierConfig struct {
	// Chain resolves settlement references. Required unless MockMode is set.
	Chain ChainClient

	// StalenessWindow bounds the age of signed claims (default 5 minutes).
	StalenessWindow time.Duration

	// TrustWindow bounds provisional acceptance of unindexed transactions
	// (default 5 minutes).
	TrustWindow time.Duration

	// LookupAttempts is the number of chain lookups before giving up
	// (default 3).
	LookupAttempts int

	// LookupBaseDelay is the initial backoff between lookups (default 1s).
	LookupBaseDelay time.Duration

	// AllowPlaceholderRecipient accepts any claimed recipient when the
	// requirement carries the zero-address placeholder. Off by default;
	// intended for demo deployments where the artist wallet is unknown.
	AllowPlaceholderRecipient bool

	// MockMode replaces chain lookups and cryptographic checks with
	// structural validation plus exact amount/recipient matching. For
	// offline testing only.
	MockMode bool

	// Logger is used for structured logging (default NoopLogger).
	Logger Logger

	// Metrics tracks verifier operations (default NoopMetrics).
	Metrics Metrics
}

// Verifier decides whether a PaymentClaim represents a valid, sufficient
// payment for a PaymentRequirement. It never mutates state: its only external
// effect is the read against the settlement ledger.
type Verifier struct {
	config VerifierConfig
}

// NewVerifier creates a verifier with defaults applied.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	if config.Chain == nil && !config.MockMode {
		return nil, errors.New("chain client is required")
	}
	if config.StalenessWindow == 0 {
		config.StalenessWindow = DefaultStalenessWindow
	}
	if config.TrustWindow == 0 {
		config.TrustWindow = DefaultTrustWindow
	}
	if config.LookupAttempts == 0 {
		config.LookupAttempts = DefaultLookupAttempts
	}
	if config.LookupBaseDelay == 0 {
		config.LookupBaseDelay = DefaultLookupBaseDelay
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &Verifier{config: config}, nil
}

// Verify checks a direct payment claim against a requirement.
//
// A non-nil error means the decision could not be made at all (the settlement
// ledger was unreachable); callers must translate that into a server error.
// All "you have not paid" outcomes come back as a result with Valid=false.
func (v *Verifier) Verify(ctx context.Context, claim *PaymentClaim, req *PaymentRequirement) (*VerificationResult, error) {
	start := time.Now()
	result, err := v.verify(ctx, claim, req)
	v.config.Metrics.RecordVerifyDuration(time.Since(start))

	switch {
	case err != nil:
		v.config.Metrics.RecordVerification(string(ModeDirect), "error")
	case result.Valid:
		v.config.Metrics.RecordVerification(string(ModeDirect), "valid")
	default:
		v.config.Metrics.RecordVerification(string(ModeDirect), "invalid")
	}
	return result, err
}

func (v *Verifier) verify(ctx context.Context, claim *PaymentClaim, req *PaymentRequirement) (*VerificationResult, error) {
	if claim == nil {
		return invalid("missing payment claim"), nil
	}

	if v.config.MockMode {
		expected, err := v.expectedBaseUnits(req)
		if err != nil {
			return invalid(err.Error()), nil
		}
		return v.verifyMock(claim, expected, req), nil
	}

	// An on-chain settlement reference is authoritative on amount and
	// recipient; only its existence and execution status are checked here.
	if claim.TransactionDigest != "" {
		return v.verifyOnChain(ctx, claim)
	}

	expected, err := v.expectedBaseUnits(req)
	if err != nil {
		return invalid(err.Error()), nil
	}
	return v.verifySigned(claim, expected, req), nil
}

func (v *Verifier) expectedBaseUnits(req *PaymentRequirement) (*big.Int, error) {
	if req == nil {
		return nil, errors.New("missing payment requirement")
	}
	expected, err := ToBaseUnits(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid required amount %q", req.Amount)
	}
	return expected, nil
}

// verifyOnChain resolves a settlement reference against the ledger, retrying
// with exponential backoff because a just-submitted transaction may not be
// indexed yet. If the ledger keeps answering "not found" the claim is still
// accepted inside the trust window.
func (v *Verifier) verifyOnChain(ctx context.Context, claim *PaymentClaim) (*VerificationResult, error) {
	var status *TransactionStatus
	var lastErr error

	backoff := retry.WithMaxRetries(uint64(v.config.LookupAttempts-1), retry.NewExponential(v.config.LookupBaseDelay))
	retryErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		st, err := v.config.Chain.LookupTransaction(ctx, claim.TransactionDigest)
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrTransactionNotFound) {
				v.config.Metrics.RecordChainLookup("not_found")
			} else {
				v.config.Metrics.RecordChainLookup("error")
			}
			return retry.RetryableError(err)
		}
		v.config.Metrics.RecordChainLookup("found")
		status = st
		return nil
	})

	if retryErr != nil {
		if !errors.Is(lastErr, ErrTransactionNotFound) {
			v.config.Logger.Error("settlement ledger unreachable",
				Field{Key: "digest", Value: claim.TransactionDigest})
			return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, lastErr)
		}

		age := time.Since(claim.IssuedAt())
		if age < v.config.TrustWindow {
			// Not indexed yet but freshly submitted. Provisional acceptance
			// keeps demo latency bounded; the audit trail still carries the
			// digest for later reconciliation.
			v.config.Logger.Warn("transaction not indexed yet, accepting within trust window",
				Field{Key: "digest", Value: claim.TransactionDigest},
				Field{Key: "age", Value: age.String()})
			return &VerificationResult{
				Valid:           true,
				TransactionHash: claim.TransactionDigest,
				Amount:          claim.Amount,
				Recipient:       claim.Recipient,
			}, nil
		}
		return invalid(fmt.Sprintf("could not find the referenced transaction [TransactionDigest(%s)]", claim.TransactionDigest)), nil
	}

	if status.Status != ExecutionSuccess {
		return invalid("payment transaction failed on-chain"), nil
	}

	return &VerificationResult{
		Valid:           true,
		TransactionHash: claim.TransactionDigest,
		Amount:          claim.Amount,
		Recipient:       claim.Recipient,
	}, nil
}

// verifySigned validates a pre-signed authorization claim: signature, claim
// age, amount within tolerance, and recipient.
func (v *Verifier) verifySigned(claim *PaymentClaim, expected *big.Int, req *PaymentRequirement) *VerificationResult {
	if reason := v.checkSignature(claim); reason != "" {
		return invalid(reason)
	}

	age := time.Since(claim.IssuedAt())
	if age < 0 {
		age = -age
	}
	if age > v.config.StalenessWindow {
		return invalid("payment payload expired")
	}

	provided, err := parseBaseUnits(claim.Amount)
	if err != nil {
		return invalid(fmt.Sprintf("invalid claimed amount %q", claim.Amount))
	}

	// 1% tolerance absorbs client-side rounding of the decimal price; it is
	// not a security boundary.
	diff := new(big.Int).Sub(expected, provided)
	diff.Abs(diff)
	tolerance := new(big.Int).Div(expected, big.NewInt(100))
	if diff.Cmp(tolerance) > 0 {
		return invalid(fmt.Sprintf("amount mismatch: expected %s, got %s", expected, claim.Amount))
	}

	if reason := v.checkRecipient(claim, req); reason != "" {
		return invalid(reason)
	}

	return &VerificationResult{
		Valid:           true,
		TransactionHash: fmt.Sprintf("verified_%d_%s", time.Now().UnixMilli(), claim.Nonce),
		Amount:          claim.Amount,
		Recipient:       claim.Recipient,
	}
}

func (v *Verifier) checkRecipient(claim *PaymentClaim, req *PaymentRequirement) string {
	if req.Recipient == "" {
		return ""
	}
	// A requirement built before the artist wallet is known carries the
	// zero-address placeholder. Only demo deployments may treat it as
	// matching anything; otherwise it is compared like any other address.
	if req.Recipient == PlaceholderRecipient && v.config.AllowPlaceholderRecipient {
		v.config.Logger.Warn("placeholder recipient in requirement, accepting claimed recipient",
			Field{Key: "recipient", Value: claim.Recipient})
		return ""
	}
	if claim.Recipient != req.Recipient {
		return fmt.Sprintf("recipient mismatch: expected %s, got %s", req.Recipient, claim.Recipient)
	}
	return ""
}

// checkSignature performs full Ed25519 verification of the claim signature
// over the signed message. Returns an empty string when the signature is
// valid, or a reason otherwise.
func (v *Verifier) checkSignature(claim *PaymentClaim) string {
	if claim.Signature == "" || claim.PublicKey == "" || claim.Message == "" {
		return "missing signature, publicKey, or message"
	}

	sig, err := decodeKeyMaterial(claim.Signature)
	if err != nil {
		return "invalid signature format"
	}
	// Serialized signatures may carry a one-byte scheme flag in front of the
	// 64-byte Ed25519 signature.
	switch len(sig) {
	case ed25519.SignatureSize:
	case ed25519.SignatureSize + 1:
		sig = sig[1:]
	default:
		return fmt.Sprintf("invalid signature length: %d", len(sig))
	}

	pub, err := decodeKeyMaterial(claim.PublicKey)
	if err != nil {
		return "invalid public key format"
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Sprintf("invalid public key length: %d", len(pub))
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(claim.Message), sig) {
		return "invalid signature"
	}
	return ""
}

// verifyMock keeps the offline demo path: structural checks plus exact
// matching, no chain access and no cryptography.
func (v *Verifier) verifyMock(claim *PaymentClaim, expected *big.Int, req *PaymentRequirement) *VerificationResult {
	if claim.Signature == "" || claim.Message == "" {
		return invalid("invalid payment payload")
	}
	if claim.Amount != expected.String() {
		return invalid(fmt.Sprintf("amount mismatch: expected %s, got %s", expected, claim.Amount))
	}
	if req.Recipient != "" && claim.Recipient != req.Recipient {
		return invalid(fmt.Sprintf("recipient mismatch: expected %s, got %s", req.Recipient, claim.Recipient))
	}
	return &VerificationResult{
		Valid:           true,
		TransactionHash: fmt.Sprintf("mock_tx_%d_%s", time.Now().UnixMilli(), claim.Nonce),
		Amount:          claim.Amount,
		Recipient:       claim.Recipient,
	}
}

func invalid(reason string) *VerificationResult {
	return &VerificationResult{Valid: false, Reason: reason}
}

// decodeKeyMaterial decodes base64 (standard or URL-safe) or hex, with or
// without a 0x prefix.
func decodeKeyMaterial(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	h := strings.TrimPrefix(s, "0x")
	if b, err := hex.DecodeString(h); err == nil {
		return b, nil
	}
	return nil, errors.New("unrecognized encoding")
}
