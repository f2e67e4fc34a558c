package bitcoin

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/finchgate/gateway/internal/hdkeyring"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testWallet(t *testing.T) *hdkeyring.Wallet {
	t.Helper()
	kr, err := hdkeyring.NewFromMnemonic(testMnemonic, "", hdkeyring.TestNet)
	require.NoError(t, err)
	w, err := kr.WalletAtPath("m/44'/1'/0'/0/0")
	require.NoError(t, err)
	return w
}

func p2pkhScript(t *testing.T, w *hdkeyring.Wallet) []byte {
	t.Helper()
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(w.BTCPubKeyHash()).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)
	return script
}

func TestBuildAndSignProducesValidTransaction(t *testing.T) {
	w := testWallet(t)
	toAddr, err := w.BTCAddress()
	require.NoError(t, err)

	hexTx, txid, err := BuildAndSign(w, SpendParams{
		PrevTxID:         "aa8148cb09b0b10798a5b1f9c56fb62f08c38ca86a8a6fad2d9e07b6c3c3f2f9",
		PrevVout:         0,
		PrevScriptPubKey: p2pkhScript(t, w),
		ValueSat:         100000,
		FeeSatPerByte:    10,
		ToAddress:        toAddr,
		Network:          hdkeyring.TestNet,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hexTx)
	require.NotEmpty(t, txid)
	require.True(t, strings.HasPrefix(hexTx, "01000000"), "version should be little-endian 1")
}

func TestBuildAndSignRejectsFeeExceedingValue(t *testing.T) {
	w := testWallet(t)
	toAddr, err := w.BTCAddress()
	require.NoError(t, err)

	_, _, err = BuildAndSign(w, SpendParams{
		PrevTxID:         "aa8148cb09b0b10798a5b1f9c56fb62f08c38ca86a8a6fad2d9e07b6c3c3f2f9",
		PrevVout:         0,
		PrevScriptPubKey: p2pkhScript(t, w),
		ValueSat:         1000,
		FeeSatPerByte:    1000, // 1000 * 192 far exceeds the 1000-sat input
		ToAddress:        toAddr,
		Network:          hdkeyring.TestNet,
	})
	require.Error(t, err)
}

func TestSenderAddressRecoversP2PKH(t *testing.T) {
	w := testWallet(t)
	want, err := w.BTCAddress()
	require.NoError(t, err)

	got, err := SenderAddress(p2pkhScript(t, w), hdkeyring.TestNet)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
