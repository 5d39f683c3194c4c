// Package api provides the HTTP surface of the standalone facilitator
// service: verify and settle endpoints plus the play-credit ledger routes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
	"github.com/Vikram-Singh0/WalTune/pkg/x402"
)

const (
	serviceName   = "x402-facilitator"
	maxBodyBytes  = 1 << 20
	maxAddressLen = 255
)

// Handler provides the facilitator HTTP endpoints
type Handler struct {
	config Config
}

// Verify handles POST /verify: checks a payment claim against optional
// expectations and returns the verification result.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if req.Payment == nil {
		h.badRequest(w, "payment claim is required")
		return
	}

	result, err := h.config.Facilitator.Verify(r.Context(), req.Payment, req.ExpectedAmount, req.ExpectedRecipient)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Settle handles POST /settle: re-verifies the claim and returns the
// settlement result. A claim that fails verification still returns 200 with
// Success=false, matching Verify's shape.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if req.Payment == nil {
		h.badRequest(w, "payment claim is required")
		return
	}

	result, err := h.config.Facilitator.Settle(r.Context(), req.Payment, req.SignerAddress)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   serviceName,
		Network:   h.config.Network,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// GetCredits handles GET /credits: returns the caller's credit account,
// creating an empty one on first touch.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	address := h.userAddress(r, "")
	if address == "" {
		h.badRequest(w, "address is required")
		return
	}
	if len(address) > maxAddressLen {
		h.badRequest(w, "invalid address format")
		return
	}

	account, err := h.config.Credits.GetOrCreate(r.Context(), address)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(account))
}

// PurchaseCredits handles POST /credits/purchase. When the request carries a
// payment claim, the claim is verified first; a claim that does not verify
// yields 402 and no credits are added.
func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	var req PurchaseCreditsRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}

	address := h.userAddress(r, req.Address)
	if address == "" {
		h.badRequest(w, "address is required")
		return
	}

	settlementRef := req.SettlementRef
	if req.Payment != nil {
		result, err := h.config.Facilitator.Verify(r.Context(), req.Payment, "", "")
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		if !result.Valid {
			writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
				Error: fmt.Sprintf("payment verification failed: %s", result.Reason),
			})
			return
		}
		if settlementRef == "" {
			settlementRef = result.TransactionHash
		}
	}

	account, err := h.config.Credits.Purchase(r.Context(), address, req.NumberOfPlays, req.AmountPaid, settlementRef)
	if errors.Is(err, credits.ErrInvalidAmount) {
		h.badRequest(w, err.Error())
		return
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(account))
}

// ListPurchases handles GET /credits/purchases: the caller's purchase
// history, newest first.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	address := h.userAddress(r, "")
	if address == "" {
		h.badRequest(w, "address is required")
		return
	}

	purchases, err := h.config.Credits.ListPurchases(r.Context(), address)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

// userAddress resolves the caller's wallet address: configured extractor
// first, then the explicit fallback, then the address query parameter.
func (h *Handler) userAddress(r *http.Request, fallback string) string {
	if h.config.GetUserID != nil {
		if address := h.config.GetUserID(r); address != "" {
			return address
		}
	}
	if fallback != "" {
		return fallback
	}
	return r.URL.Query().Get("address")
}

func (h *Handler) badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message})
}

// handleError reports infrastructure failures as 503 and everything else as
// 500, never conflating them with payment failures.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	h.config.Logger.Error("facilitator request failed",
		x402.Field{Key: "path", Value: r.URL.Path},
		x402.Field{Key: "error", Value: err.Error()})

	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	if errors.Is(err, credits.ErrStorageUnavailable) || errors.Is(err, x402.ErrChainUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "service unavailable, try again later"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

func accountResponse(account *credits.Account) CreditsResponse {
	return CreditsResponse{
		Address:        account.Address,
		RemainingPlays: account.RemainingPlays,
		TotalPurchased: account.TotalPurchased,
		CreatedAt:      account.CreatedAt,
		UpdatedAt:      account.UpdatedAt,
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
