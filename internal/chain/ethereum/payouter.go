package ethereum

import (
	"context"
	"math/big"

	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/chainerr"
	"github.com/finchgate/gateway/internal/crypto"
	"github.com/finchgate/gateway/internal/hdkeyring"
	"github.com/finchgate/gateway/internal/metrics"
	"github.com/finchgate/gateway/internal/models"
	"github.com/finchgate/gateway/internal/store"
)

// Payouter executes a single Ethereum Payout: derive the spending key,
// build and sign the outbound transaction, broadcast it, and persist the
// result.
type Payouter struct {
	rpc     *RPCClient
	store   store.Store
	cipher  *crypto.MnemonicCipher
	network hdkeyring.NetworkTag
	log     *zap.Logger
	metrics *metrics.Registry
}

func NewPayouter(rpc *RPCClient, st store.Store, cipher *crypto.MnemonicCipher, network hdkeyring.NetworkTag, log *zap.Logger, reg *metrics.Registry) *Payouter {
	return &Payouter{rpc: rpc, store: st, cipher: cipher, network: network, log: log, metrics: reg}
}

func (p *Payouter) Process(ctx context.Context, payout *models.Payout) error {
	storeRow, err := p.store.GetStoreWithDeleted(ctx, payout.StoreID)
	if err != nil {
		return err
	}
	payment, err := p.store.GetPayment(ctx, payout.PaymentID)
	if err != nil {
		return err
	}
	if payment.FundingTxHash == nil {
		return chainerr.Fatalf(chainerr.CodeStoreUnavailable, "payout %s: payment has no funding tx recorded", nil, payout.ID)
	}
	fundingTx, err := p.store.GetETHTransaction(ctx, *payment.FundingTxHash)
	if err != nil {
		return err
	}

	wallet, err := p.deriveWallet(storeRow, payment)
	if err != nil {
		return err
	}

	gasPrice, err := p.rpc.GasPrice(ctx)
	if err != nil {
		return err
	}

	fundingValue, ok := new(big.Int).SetString(fundingTx.ValueWei, 10)
	if !ok {
		return chainerr.Fatalf(chainerr.CodeStoreUnavailable, "payout %s: malformed funding value %q", nil, payout.ID, fundingTx.ValueWei)
	}
	gasCost := new(big.Int).Mul(gasPrice, big.NewInt(PlainTransferGas))
	outputValue := new(big.Int).Sub(fundingValue, gasCost)
	if outputValue.Sign() <= 0 {
		return chainerr.Fatalf(chainerr.CodeInvalidFeeRate, "payout %s: output value non-positive after gas", nil, payout.ID)
	}

	switch payout.Action {
	case models.ActionPayout:
		return p.processPayout(ctx, payout, storeRow, wallet, gasPrice, outputValue)
	case models.ActionRefund:
		return p.processRefund(ctx, payout, wallet, fundingTx, gasPrice, outputValue)
	default:
		return chainerr.Fatalf(chainerr.CodeUnsupportedChain, "payout %s: unknown action %q", nil, payout.ID, payout.Action)
	}
}

func (p *Payouter) deriveWallet(storeRow *models.Store, payment *models.Payment) (*hdkeyring.Wallet, error) {
	phrase, err := p.cipher.Decrypt(storeRow.Mnemonic)
	if err != nil {
		return nil, chainerr.Cryptof(chainerr.CodeInvalidMnemonic, "decrypt store mnemonic", err)
	}
	defer crypto.ClearBytes([]byte(phrase))

	keyring, err := hdkeyring.NewFromMnemonic(phrase, "", p.network)
	if err != nil {
		return nil, err
	}
	path := hdkeyring.PathForPayment(storeRow.HDPath, payment.CreatedAt)
	return keyring.WalletAtPath(path)
}

func (p *Payouter) processPayout(ctx context.Context, payout *models.Payout, storeRow *models.Store, wallet *hdkeyring.Wallet, gasPrice, outputValue *big.Int) error {
	payoutAddr, ok := storeRow.PayoutAddress(models.ETH)
	if !ok {
		p.log.Info("eth payout has no payout address, flipping to refund", zap.String("payout_id", payout.ID.String()))
		return p.store.FlipPayoutToRefund(ctx, payout.ID)
	}
	return p.signBroadcastAndComplete(ctx, payout, wallet, gasPrice, payoutAddr, outputValue, false)
}

func (p *Payouter) processRefund(ctx context.Context, payout *models.Payout, wallet *hdkeyring.Wallet, fundingTx *models.ETHTransaction, gasPrice, outputValue *big.Int) error {
	return p.signBroadcastAndComplete(ctx, payout, wallet, gasPrice, fundingTx.From, outputValue, true)
}

func (p *Payouter) signBroadcastAndComplete(ctx context.Context, payout *models.Payout, wallet *hdkeyring.Wallet, gasPrice *big.Int, toAddress string, value *big.Int, refund bool) error {
	fromAddress := "0x" + wallet.ETHAddress()
	nonce, err := p.rpc.GetTransactionCount(ctx, fromAddress)
	if err != nil {
		return err
	}

	rawTxHex, txHash, err := BuildAndSign(wallet, p.rpc.ChainID(), nonce, gasPrice, toAddress, value)
	if err != nil {
		return err
	}

	broadcastHash, err := p.rpc.SendRawTransaction(ctx, rawTxHex)
	if err != nil {
		return err
	}
	if broadcastHash == "" {
		broadcastHash = txHash
	}
	if refund {
		p.metrics.PayoutsBroadcast.WithLabelValues("eth", "refund").Inc()
		return p.store.CompleteRefund(ctx, payout.ID, broadcastHash)
	}
	p.metrics.PayoutsBroadcast.WithLabelValues("eth", "payout").Inc()
	return p.store.CompletePayout(ctx, payout.ID, payout.PaymentID, broadcastHash)
}
