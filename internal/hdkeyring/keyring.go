// Package hdkeyring derives wallets from a BIP-39 mnemonic: mnemonic ->
// seed -> BIP-32 extended-key tree -> per-index wallet producing a
// secp256k1 key pair and chain-specific addresses.
//
// Built on btcsuite/btcd/btcutil/hdkeychain for CKD and tyler-smith/
// go-bip39 for mnemonic handling. The derivation path varies per
// payment rather than staying fixed (see PathForPayment).
package hdkeyring

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"

	"github.com/finchgate/gateway/internal/chainerr"
)

// NetworkTag selects the chaincfg parameter set and BTC address version
// byte a Keyring derives against.
type NetworkTag int

const (
	MainNet NetworkTag = iota
	TestNet
)

func (n NetworkTag) params() *chaincfg.Params {
	if n == TestNet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// Keyring holds a master extended key derived from a mnemonic phrase and
// optional passphrase, plus the network it derives addresses for.
type Keyring struct {
	master  *hdkeychain.ExtendedKey
	network NetworkTag
}

// NewFromMnemonic validates the phrase's checksum and word count, derives
// the 64-byte BIP-39 seed (PBKDF2-HMAC-SHA512, 2048 rounds, salt
// "mnemonic"||passphrase), and builds the master extended key
// (HMAC-SHA512("Bitcoin seed", seed)).
func NewFromMnemonic(phrase, passphrase string, network NetworkTag) (*Keyring, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return nil, chainerr.Cryptof(chainerr.CodeInvalidMnemonic, "mnemonic failed checksum/wordlist validation", nil)
	}
	seed, err := bip39.NewSeedWithErrorChecking(phrase, passphrase)
	if err != nil {
		return nil, chainerr.Cryptof(chainerr.CodeInvalidMnemonic, "seed derivation failed", err)
	}
	master, err := hdkeychain.NewMaster(seed, network.params())
	if err != nil {
		return nil, chainerr.Cryptof(chainerr.CodeInvalidMnemonic, "master key derivation failed", err)
	}
	return &Keyring{master: master, network: network}, nil
}

// DerivePath walks a "m/44'/60'/0'/0"-style path from the master key,
// returning the extended key at the end of it. A trailing "'" marks a
// node as hardened (index + 2^31); soft nodes use the plain index.
func (k *Keyring) DerivePath(path string) (*hdkeychain.ExtendedKey, error) {
	return derivePathFrom(k.master, path)
}

func derivePathFrom(key *hdkeychain.ExtendedKey, path string) (*hdkeychain.ExtendedKey, error) {
	path = strings.TrimPrefix(path, "m/")
	path = strings.TrimPrefix(path, "m")
	current := key
	if path == "" {
		return current, nil
	}
	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}
		hardened := strings.HasSuffix(component, "'")
		component = strings.TrimSuffix(component, "'")
		index, err := strconv.ParseUint(component, 10, 32)
		if err != nil {
			return nil, chainerr.Fatalf(chainerr.CodeInvalidPath, "invalid path component %q", err, component)
		}
		childIndex := uint32(index)
		if hardened {
			childIndex = hdkeychain.HardenedKeyStart + uint32(index)
		}
		child, err := deriveWithRetry(current, childIndex)
		if err != nil {
			return nil, chainerr.Fatalf(chainerr.CodeInvalidPath, "derive child at index %d failed", err, index)
		}
		current = child
	}
	return current, nil
}

// deriveWithRetry re-attempts CKD at index+1 on the rare point-at-
// infinity / invalid-child-key condition, per BIP-32's own recommended
// mitigation.
func deriveWithRetry(key *hdkeychain.ExtendedKey, index uint32) (*hdkeychain.ExtendedKey, error) {
	for attempt := uint32(0); attempt < 4; attempt++ {
		child, err := key.Derive(index + attempt)
		if err == nil {
			return child, nil
		}
		if err != hdkeychain.ErrInvalidChild {
			return nil, err
		}
	}
	return nil, fmt.Errorf("exhausted retries deriving child at base index %d", index)
}

// WalletAt derives the wallet at the given path + soft index, per spec
// §4.1 ("wallet_at(index)"). The path is expected to already point at a
// hardened account/change node; index is the final soft-derived leaf.
func (k *Keyring) WalletAt(basePath string, index uint32) (*Wallet, error) {
	base, err := k.DerivePath(basePath)
	if err != nil {
		return nil, err
	}
	leaf, err := deriveWithRetry(base, index)
	if err != nil {
		return nil, chainerr.Fatalf(chainerr.CodeInvalidPath, "derive leaf index %d failed", err, index)
	}
	return newWallet(leaf, k.network)
}

// WalletAtPath derives the wallet at a fully-formed path, used by the
// Payouter where the per-payment path (store HD path + timestamp
// segments, see PathForPayment) already names a complete leaf.
func (k *Keyring) WalletAtPath(path string) (*Wallet, error) {
	leaf, err := k.DerivePath(path)
	if err != nil {
		return nil, err
	}
	return newWallet(leaf, k.network)
}
