package hdkeyring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewFromMnemonicRejectsInvalidPhrase(t *testing.T) {
	_, err := NewFromMnemonic("not a real mnemonic phrase at all", "", TestNet)
	require.Error(t, err)
}

func TestNewFromMnemonicAcceptsValidPhrase(t *testing.T) {
	kr, err := NewFromMnemonic(mnemonic, "", TestNet)
	require.NoError(t, err)
	require.NotNil(t, kr)
}

func TestWalletAtPathIsDeterministic(t *testing.T) {
	kr, err := NewFromMnemonic(mnemonic, "", TestNet)
	require.NoError(t, err)

	w1, err := kr.WalletAtPath("m/44'/0'/0'/0/0")
	require.NoError(t, err)
	w2, err := kr.WalletAtPath("m/44'/0'/0'/0/0")
	require.NoError(t, err)

	assert.Equal(t, w1.ETHAddress(), w2.ETHAddress())
}

func TestWalletAtPathDiffersByPath(t *testing.T) {
	kr, err := NewFromMnemonic(mnemonic, "", TestNet)
	require.NoError(t, err)

	w1, err := kr.WalletAtPath("m/44'/0'/0'/0/0")
	require.NoError(t, err)
	w2, err := kr.WalletAtPath("m/44'/0'/0'/0/1")
	require.NoError(t, err)

	assert.NotEqual(t, w1.ETHAddress(), w2.ETHAddress())
}

func TestWalletAtMatchesWalletAtPath(t *testing.T) {
	kr, err := NewFromMnemonic(mnemonic, "", TestNet)
	require.NoError(t, err)

	viaAt, err := kr.WalletAt("m/44'/0'/0'/0", 3)
	require.NoError(t, err)
	viaPath, err := kr.WalletAtPath("m/44'/0'/0'/0/3")
	require.NoError(t, err)

	assert.Equal(t, viaAt.ETHAddress(), viaPath.ETHAddress())
}

func TestDerivePathRejectsMalformedComponent(t *testing.T) {
	kr, err := NewFromMnemonic(mnemonic, "", TestNet)
	require.NoError(t, err)

	_, err = kr.DerivePath("m/44'/not-a-number'/0'")
	require.Error(t, err)
}

func TestPathForPaymentIsStableAndUnique(t *testing.T) {
	base := "m/44'/0'/7'/0"
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 123, time.UTC)
	t2 := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)

	p1 := PathForPayment(base, t1)
	p1Again := PathForPayment(base, t1)
	p2 := PathForPayment(base, t2)

	assert.Equal(t, p1, p1Again)
	assert.NotEqual(t, p1, p2)
}

func TestBTCAndETHAddressesDifferForSameWallet(t *testing.T) {
	kr, err := NewFromMnemonic(mnemonic, "", TestNet)
	require.NoError(t, err)
	w, err := kr.WalletAtPath("m/44'/0'/0'/0/0")
	require.NoError(t, err)

	btcAddr, err := w.BTCAddress()
	require.NoError(t, err)
	assert.NotEmpty(t, btcAddr)
	assert.NotEmpty(t, w.ETHAddress())
	assert.NotEqual(t, btcAddr, w.ETHAddress())
}
