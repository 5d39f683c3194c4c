package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":8402", cfg.ListenAddr)
	assert.Equal(t, "sui-testnet", cfg.Network)
	assert.Equal(t, "memory", cfg.StoreProvider)
	assert.Equal(t, "0.01", cfg.SongPriceSUI)
	assert.Equal(t, 10, cfg.CreditBundlePlays)
	assert.False(t, cfg.MockMode)
}

func TestNew_Overrides(t *testing.T) {
	t.Setenv("WALTUNE_LISTEN_ADDR", ":9000")
	t.Setenv("WALTUNE_NETWORK", "sui-mainnet")
	t.Setenv("WALTUNE_MOCK_MODE", "true")
	t.Setenv("WALTUNE_CREDIT_BUNDLE_PLAYS", "25")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "sui-mainnet", cfg.Network)
	assert.True(t, cfg.MockMode)
	assert.Equal(t, 25, cfg.CreditBundlePlays)
}

func TestNew_InvalidStoreProvider(t *testing.T) {
	t.Setenv("WALTUNE_STORE_PROVIDER", "cassandra")

	_, err := New()
	require.Error(t, err)
}

func TestNew_PostgresRequiresCredentials(t *testing.T) {
	t.Setenv("WALTUNE_STORE_PROVIDER", "postgres")

	_, err := New()
	require.Error(t, err)

	t.Setenv("WALTUNE_POSTGRES_USER", "waltune")
	t.Setenv("WALTUNE_POSTGRES_HOST", "localhost")
	t.Setenv("WALTUNE_POSTGRES_DB", "waltune")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "postgres://waltune:@localhost:5432/waltune?sslmode=disable", cfg.DSN())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("WALTUNE_TEST_INT", "not-a-number")
	assert.Equal(t, 7, getEnvInt("WALTUNE_TEST_INT", 7))

	t.Setenv("WALTUNE_TEST_BOOL", "yes-ish")
	assert.False(t, getEnvBool("WALTUNE_TEST_BOOL", false))
}
