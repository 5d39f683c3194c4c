package api

import (
	"fmt"
	"net/http"

	"github.com/Vikram-Singh0/WalTune/pkg/credits"
	"github.com/Vikram-Singh0/WalTune/pkg/x402"
	"github.com/Vikram-Singh0/WalTune/pkg/x402/facilitator"
)

// Config holds configuration for the facilitator API handler
type Config struct {
	// Facilitator performs claim verification and settlement (required)
	Facilitator *facilitator.Facilitator

	// Credits is the play-credit ledger (required for the credit endpoints)
	Credits *credits.Service

	// Network is the ledger network reported by /health and used in errors
	// (e.g. "sui-testnet")
	Network string

	// GetUserID extracts the caller's wallet address from the request.
	// If nil, the credit endpoints fall back to the address carried in the
	// request body or query string.
	GetUserID func(*http.Request) string

	// OnError handles internal errors
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is used for structured logging (default NoopLogger)
	Logger x402.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Facilitator == nil {
		return fmt.Errorf("facilitator is required")
	}
	if c.Credits == nil {
		return fmt.Errorf("credits is required")
	}
	return nil
}

// NewHandler creates a new facilitator API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &x402.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts the address from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromQuery returns a GetUserID function that extracts the address from a
// query parameter
func FromQuery(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}
