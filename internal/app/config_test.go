package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchgate/gateway/internal/hdkeyring"
	"github.com/finchgate/gateway/internal/models"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/gateway")
	t.Setenv("MNEMONIC_MASTER_SECRET", "test-secret")
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MNEMONIC_MASTER_SECRET", "test-secret")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresMnemonicMasterSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gateway")
	t.Setenv("MNEMONIC_MASTER_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.SkipMissedBlocks)
	assert.Equal(t, "default", cfg.VoucherIssuerKID)
	assert.Equal(t, ":8090", cfg.HealthAddr)
	assert.Equal(t, hdkeyring.MainNet, cfg.BTC.Network)
	assert.Equal(t, hdkeyring.MainNet, cfg.ETH.Network)
	assert.Equal(t, "1", cfg.ETH.ChainID.String())
}

func TestLoadParsesTestnetAndRopstenChainID(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BTC_NETWORK", "testnet")
	t.Setenv("ETH_NETWORK", "ropsten")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, hdkeyring.TestNet, cfg.BTC.Network)
	assert.Equal(t, hdkeyring.TestNet, cfg.ETH.Network)
	assert.Equal(t, "3", cfg.ETH.ChainID.String())
	assert.Equal(t, models.NetworkBTCTest, cfg.BTCNetworkTag())
	assert.Equal(t, models.NetworkETHTest, cfg.ETHNetworkTag())
}

func TestLoadExplicitChainIDOverridesDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ETH_CHAIN_ID", "1337")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "1337", cfg.ETH.ChainID.String())
}

func TestLoadRejectsMalformedChainID(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ETH_CHAIN_ID", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadParsesSkipMissedBlocks(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SKIP_MISSED_BLOCKS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.SkipMissedBlocks)
}
