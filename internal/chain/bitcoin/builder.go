package bitcoin

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/finchgate/gateway/internal/chainerr"
	"github.com/finchgate/gateway/internal/hdkeyring"
)

// assumedTxSize is the fixed serialized-size assumption the fee model
// uses, valid only for this core's single-input single-output P2PKH
// scope.
const assumedTxSize = 192

// SpendParams describes the single UTXO this core ever spends from: the
// exact output a payment was funded by.
type SpendParams struct {
	PrevTxID         string
	PrevVout         uint32
	PrevScriptPubKey []byte
	ValueSat         int64
	FeeSatPerByte    int64
	ToAddress        string
	Network          hdkeyring.NetworkTag
}

// BuildAndSign constructs a single-input, single-output legacy P2PKH
// transaction, signs it with SIGHASH_ALL, and returns the
// broadcast-ready hex plus its txid.
func BuildAndSign(wallet *hdkeyring.Wallet, p SpendParams) (hexTx string, txid string, err error) {
	fee := p.FeeSatPerByte * assumedTxSize
	outputValue := p.ValueSat - fee
	if outputValue <= 0 {
		return "", "", chainerr.Fatalf(chainerr.CodeInvalidFeeRate, "output value %d non-positive after fee %d", nil, outputValue, fee)
	}

	params := networkParams(p.Network)
	toAddr, err := btcutil.DecodeAddress(p.ToAddress, params)
	if err != nil {
		return "", "", chainerr.Fatalf(chainerr.CodeInvalidPath, "decode destination address %q", err, p.ToAddress)
	}
	pkScript, err := txscript.PayToAddrScript(toAddr)
	if err != nil {
		return "", "", chainerr.Fatalf(chainerr.CodeInvalidPath, "build destination script", err)
	}

	prevHash, err := chainhash.NewHashFromStr(p.PrevTxID)
	if err != nil {
		return "", "", chainerr.Fatalf(chainerr.CodeInvalidPath, "parse previous txid %q", err, p.PrevTxID)
	}

	tx := wire.NewMsgTx(1)
	tx.LockTime = 0
	txIn := wire.NewTxIn(wire.NewOutPoint(prevHash, p.PrevVout), nil, nil)
	txIn.Sequence = 0xFFFFFFFF
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(outputValue, pkScript))

	sigHash, err := txscript.CalcSignatureHash(p.PrevScriptPubKey, txscript.SigHashAll, tx, 0)
	if err != nil {
		return "", "", chainerr.Cryptof(chainerr.CodeSigningFailed, "compute sighash", err)
	}

	sig := ecdsa.Sign(wallet.PrivateKey(), sigHash)
	sigBytes := append(sig.Serialize(), byte(txscript.SigHashAll))

	sigScript, err := txscript.NewScriptBuilder().
		AddData(sigBytes).
		AddData(wallet.CompressedPublicKey()).
		Script()
	if err != nil {
		return "", "", chainerr.Cryptof(chainerr.CodeSigningFailed, "build scriptSig", err)
	}
	tx.TxIn[0].SignatureScript = sigScript

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", "", chainerr.Fatalf(chainerr.CodeSigningFailed, "serialize transaction", err)
	}
	return hex.EncodeToString(buf.Bytes()), tx.TxHash().String(), nil
}

func networkParams(n hdkeyring.NetworkTag) *chaincfg.Params {
	if n == hdkeyring.TestNet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// SenderAddress recovers the original payer's address from the
// scriptPubKey of the funding transaction's first input's previous
// output, for the BTC refund branch.
func SenderAddress(prevScriptPubKey []byte, network hdkeyring.NetworkTag) (string, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(prevScriptPubKey, networkParams(network))
	if err != nil {
		return "", chainerr.Fatalf(chainerr.CodeInvalidPath, "extract sender address from scriptPubKey", err)
	}
	if len(addrs) == 0 {
		return "", chainerr.Fatalf(chainerr.CodeInvalidPath, "scriptPubKey has no extractable address", nil)
	}
	return addrs[0].EncodeAddress(), nil
}
