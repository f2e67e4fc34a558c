package hdkeyring

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/finchgate/gateway/internal/chainerr"
)

// Wallet is a single derived secp256k1 key pair plus the two
// chain-specific addresses it can receive at.
type Wallet struct {
	privKey *btcec.PrivateKey
	network NetworkTag
}

func newWallet(key *hdkeychain.ExtendedKey, network NetworkTag) (*Wallet, error) {
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, chainerr.Cryptof(chainerr.CodeInvalidMnemonic, "extract private key from derived node", err)
	}
	return &Wallet{privKey: priv, network: network}, nil
}

// PrivateKey returns the wallet's own secp256k1 private key (not a copy).
func (w *Wallet) PrivateKey() *btcec.PrivateKey { return w.privKey }

// CompressedPublicKey returns the 33-byte SEC1-compressed public key.
func (w *Wallet) CompressedPublicKey() []byte {
	return w.privKey.PubKey().SerializeCompressed()
}

// BTCAddress returns the Base58Check P2PKH address: version || HASH160
// (RIPEMD160(SHA256(pubkey))), with a 4-byte double-SHA256 checksum.
// btcutil's AddressPubKeyHash performs exactly this
// encoding; hand-rolling it would duplicate a primitive the stack
// already provides correctly.
func (w *Wallet) BTCAddress() (string, error) {
	pkHash := btcutil.Hash160(w.CompressedPublicKey())
	addr, err := btcutil.NewAddressPubKeyHash(pkHash, w.network.params())
	if err != nil {
		return "", chainerr.Fatalf(chainerr.CodeInvalidPath, "encode P2PKH address", err)
	}
	return addr.EncodeAddress(), nil
}

// BTCPubKeyHash returns the 20-byte HASH160 of the compressed public
// key, the value embedded in the P2PKH scriptPubKey.
func (w *Wallet) BTCPubKeyHash() []byte {
	return btcutil.Hash160(w.CompressedPublicKey())
}

// ETHAddress returns the lower 20 bytes of Keccak-256(uncompressed_pub
// key[1:]) as 40 upper-hex characters, no "0x" prefix and no EIP-55
// checksum casing.
func (w *Wallet) ETHAddress() string {
	uncompressed := w.privKey.PubKey().SerializeUncompressed()
	hash := crypto.Keccak256(uncompressed[1:])
	return strings.ToUpper(hex.EncodeToString(hash[12:]))
}
