package ethereum

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/finchgate/gateway/internal/chainerr"
	"github.com/finchgate/gateway/internal/hdkeyring"
)

// PlainTransferGas is the fixed gas reservation for a plain ETH transfer
// with no contract call.
const PlainTransferGas = 21000

// BuildAndSign constructs and signs a legacy EIP-155 transaction sending
// value to toAddress, reusing go-ethereum's own EIP-155 signer rather
// than re-deriving the v/r/s adjustment by hand.
func BuildAndSign(wallet *hdkeyring.Wallet, chainID *big.Int, nonce uint64, gasPrice *big.Int, toAddress string, value *big.Int) (rawTxHex string, txHash string, err error) {
	ecdsaKey, err := crypto.ToECDSA(wallet.PrivateKey().Serialize())
	if err != nil {
		return "", "", chainerr.Cryptof(chainerr.CodeSigningFailed, "convert derived key to ECDSA", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      PlainTransferGas,
		To:       addressPtr(toAddress),
		Value:    value,
		Data:     nil,
	})

	signer := types.NewEIP155Signer(chainID)
	signedTx, err := types.SignTx(tx, signer, ecdsaKey)
	if err != nil {
		return "", "", chainerr.Cryptof(chainerr.CodeSigningFailed, "sign eip-155 transaction", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return "", "", chainerr.Fatalf(chainerr.CodeSigningFailed, "marshal signed transaction", err)
	}
	return "0x" + common.Bytes2Hex(raw), signedTx.Hash().Hex(), nil
}

func addressPtr(addr string) *common.Address {
	a := common.HexToAddress(addr)
	return &a
}
