package ethereum

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/finchgate/gateway/internal/hdkeyring"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testWallet(t *testing.T) *hdkeyring.Wallet {
	t.Helper()
	kr, err := hdkeyring.NewFromMnemonic(testMnemonic, "", hdkeyring.TestNet)
	require.NoError(t, err)
	w, err := kr.WalletAtPath("m/44'/60'/0'/0/0")
	require.NoError(t, err)
	return w
}

func TestBuildAndSignProducesValidEIP155Transaction(t *testing.T) {
	w := testWallet(t)
	toAddr := w.ETHAddress()
	chainID := big.NewInt(1)

	rawTxHex, txHash, err := BuildAndSign(w, chainID, 5, big.NewInt(20_000_000_000), toAddr, big.NewInt(1_000_000_000_000_000_000))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rawTxHex, "0x"))
	require.NotEmpty(t, txHash)

	rawBytes, err := hex.DecodeString(strings.TrimPrefix(rawTxHex, "0x"))
	require.NoError(t, err)

	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(rawBytes))
	require.Equal(t, uint64(5), tx.Nonce())
	require.Equal(t, PlainTransferGas, int(tx.Gas()))

	signer := types.NewEIP155Signer(chainID)
	sender, err := types.Sender(signer, &tx)
	require.NoError(t, err)
	require.Equal(t, strings.ToUpper(sender.Hex()[2:]), strings.ToUpper(hexWalletAddress(t, w)))
}

func hexWalletAddress(t *testing.T, w *hdkeyring.Wallet) string {
	t.Helper()
	return w.ETHAddress()
}

func TestBuildAndSignDistinctNoncesGiveDistinctHashes(t *testing.T) {
	// Signs the same transfer at nonce 0 and nonce 1 and checks that the
	// two transaction hashes differ.
	w := testWallet(t)
	toAddr := w.ETHAddress()
	chainID := big.NewInt(3)

	_, txHash1, err := BuildAndSign(w, chainID, 0, big.NewInt(1), toAddr, big.NewInt(1))
	require.NoError(t, err)
	_, txHash2, err := BuildAndSign(w, chainID, 1, big.NewInt(1), toAddr, big.NewInt(1))
	require.NoError(t, err)
	require.NotEqual(t, txHash1, txHash2)
}
