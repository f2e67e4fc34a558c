// Package app holds the process-wide configuration the launcher reads
// once at startup. A long-running server process takes its
// configuration from the environment, following twelve-factor practice
// for this kind of service.
package app

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/finchgate/gateway/internal/hdkeyring"
	"github.com/finchgate/gateway/internal/models"
)

// ChainConfig is the per-chain RPC + network configuration.
type ChainConfig struct {
	RPCURL  string
	RPCUser string // BTC only
	RPCPass string // BTC only
	Network hdkeyring.NetworkTag
	ChainID *big.Int // ETH only: 1 (Main) or 3 (Ropsten) unless ETH_CHAIN_ID sets another value
}

// Config is the full process configuration.
type Config struct {
	PostgresURL string

	BTC ChainConfig
	ETH ChainConfig

	// SkipMissedBlocks pins the confirmed-block pollers' starting height
	// to the live tip instead of catching up from BlockchainStatus.
	SkipMissedBlocks bool

	// MnemonicMasterSecret seeds internal/crypto.MnemonicCipher. Never
	// logged, never persisted anywhere but process memory.
	MnemonicMasterSecret []byte

	// VoucherIssuerKID is an opaque key identifier carried in issued
	// voucher JWTs' header, for key-rotation bookkeeping by callers.
	VoucherIssuerKID string

	HealthAddr string
}

// BTCNetworkTag / ETHNetworkTag select the BlockchainStatus row this
// process's chains track.
func (c *Config) BTCNetworkTag() models.NetworkTag {
	if c.BTC.Network == hdkeyring.TestNet {
		return models.NetworkBTCTest
	}
	return models.NetworkBTCMain
}

func (c *Config) ETHNetworkTag() models.NetworkTag {
	if c.ETH.Network == hdkeyring.TestNet {
		return models.NetworkETHTest
	}
	return models.NetworkETHMain
}

// Load builds a Config from the process environment, applying
// sane-defaults-plus-validation to each os.Getenv source.
func Load() (*Config, error) {
	cfg := &Config{
		PostgresURL:      getenv("DATABASE_URL", ""),
		SkipMissedBlocks: getenvBool("SKIP_MISSED_BLOCKS", false),
		VoucherIssuerKID: getenv("VOUCHER_ISSUER_KID", "default"),
		HealthAddr:       getenv("HEALTH_ADDR", ":8090"),
	}
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("app: DATABASE_URL is required")
	}

	secretHex := getenv("MNEMONIC_MASTER_SECRET", "")
	if secretHex == "" {
		return nil, fmt.Errorf("app: MNEMONIC_MASTER_SECRET is required")
	}
	cfg.MnemonicMasterSecret = []byte(secretHex)

	btcNetwork := networkFromEnv("BTC_NETWORK", hdkeyring.MainNet)
	cfg.BTC = ChainConfig{
		RPCURL:  getenv("BTC_RPC_URL", ""),
		RPCUser: getenv("BTC_RPC_USER", ""),
		RPCPass: getenv("BTC_RPC_PASS", ""),
		Network: btcNetwork,
	}

	ethNetwork := networkFromEnv("ETH_NETWORK", hdkeyring.MainNet)
	chainID := big.NewInt(1)
	if ethNetwork == hdkeyring.TestNet {
		chainID = big.NewInt(3) // Ropsten
	}
	if raw := getenv("ETH_CHAIN_ID", ""); raw != "" {
		parsed, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("app: invalid ETH_CHAIN_ID %q", raw)
		}
		chainID = parsed
	}
	cfg.ETH = ChainConfig{
		RPCURL:  getenv("ETH_RPC_URL", ""),
		Network: ethNetwork,
		ChainID: chainID,
	}

	return cfg, nil
}

func networkFromEnv(key string, fallback hdkeyring.NetworkTag) hdkeyring.NetworkTag {
	switch strings.ToLower(getenv(key, "")) {
	case "testnet", "test", "ropsten":
		return hdkeyring.TestNet
	case "mainnet", "main":
		return hdkeyring.MainNet
	default:
		return fallback
	}
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
