// Package config loads the facilitator's configuration from the environment
// once at startup. Business logic never reads the environment directly.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the immutable process configuration.
type Config struct {
	// HTTP
	ListenAddr  string
	MetricsAddr string

	// Payment
	Network            string
	RPCEndpoint        string
	DefaultRecipient   string
	FacilitatorURL     string
	MockMode           bool
	AllowPlaceholder   bool
	SignerAddress      string
	SongPriceSUI       string
	CreditBundlePlays  int
	CreditBundleAmount int64

	// Storage: "memory" or "postgres"
	StoreProvider string
	DBUser        string
	DBPass        string
	DBHost        string
	DBPort        string
	DBName        string
	SSLMode       string

	// Logging: zerolog level name (debug, info, warn, error)
	LogLevel string
}

// New loads and validates configuration from environment variables.
// A .env file in the working directory is honored when present.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:         getEnv("WALTUNE_LISTEN_ADDR", ":8402"),
		MetricsAddr:        os.Getenv("WALTUNE_METRICS_ADDR"),
		Network:            getEnv("WALTUNE_NETWORK", "sui-testnet"),
		RPCEndpoint:        getEnv("WALTUNE_SUI_RPC_URL", "https://fullnode.testnet.sui.io:443"),
		DefaultRecipient:   os.Getenv("WALTUNE_PAYMENT_RECIPIENT"),
		FacilitatorURL:     os.Getenv("WALTUNE_FACILITATOR_URL"),
		MockMode:           getEnvBool("WALTUNE_MOCK_MODE", false),
		AllowPlaceholder:   getEnvBool("WALTUNE_ALLOW_PLACEHOLDER_RECIPIENT", false),
		SignerAddress:      os.Getenv("WALTUNE_SIGNER_ADDRESS"),
		SongPriceSUI:       getEnv("WALTUNE_SONG_PRICE_SUI", "0.01"),
		CreditBundlePlays:  getEnvInt("WALTUNE_CREDIT_BUNDLE_PLAYS", 10),
		CreditBundleAmount: int64(getEnvInt("WALTUNE_CREDIT_BUNDLE_MIST", 100_000_000)),
		StoreProvider:      getEnv("WALTUNE_STORE_PROVIDER", "memory"),
		DBUser:             os.Getenv("WALTUNE_POSTGRES_USER"),
		DBPass:             os.Getenv("WALTUNE_POSTGRES_PASSWORD"),
		DBHost:             os.Getenv("WALTUNE_POSTGRES_HOST"),
		DBPort:             getEnv("WALTUNE_POSTGRES_PORT", "5432"),
		DBName:             os.Getenv("WALTUNE_POSTGRES_DB"),
		SSLMode:            getEnv("WALTUNE_POSTGRES_SSLMODE", "disable"),
		LogLevel:           getEnv("WALTUNE_LOG_LEVEL", "info"),
	}

	if cfg.StoreProvider != "memory" && cfg.StoreProvider != "postgres" {
		return nil, fmt.Errorf("invalid store provider %q, must be 'memory' or 'postgres'", cfg.StoreProvider)
	}
	if cfg.StoreProvider == "postgres" {
		if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" {
			return nil, fmt.Errorf("missing required env for postgres: WALTUNE_POSTGRES_USER/HOST/DB")
		}
	}
	if !cfg.MockMode && cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("missing required env: WALTUNE_SUI_RPC_URL (or set WALTUNE_MOCK_MODE=true)")
	}

	return cfg, nil
}

// DSN returns the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return boolVal
}
