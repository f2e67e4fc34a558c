package bitcoin

import (
	"context"

	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/chainerr"
	"github.com/finchgate/gateway/internal/crypto"
	"github.com/finchgate/gateway/internal/hdkeyring"
	"github.com/finchgate/gateway/internal/metrics"
	"github.com/finchgate/gateway/internal/models"
	"github.com/finchgate/gateway/internal/store"
)

// Payouter executes a single Bitcoin Payout: derive the spending key,
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

// Process executes one Payout row: resolve the store and funding
// transaction, derive the spending wallet, build and broadcast the
// outbound transaction (or flip to refund), and persist the result.
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
	fundingTx, err := p.store.GetBTCTransaction(ctx, *payment.FundingTxHash)
	if err != nil {
		return err
	}

	wallet, err := p.deriveWallet(storeRow, payment)
	if err != nil {
		return err
	}

	feeSatPerByte, err := p.rpc.EstimateSmartFeeSatPerByte(ctx)
	if err != nil {
		return err
	}

	fundingVout, ok := findVoutByAddress(fundingTx, payment.ReceivingAddress)
	if !ok {
		return chainerr.Fatalf(chainerr.CodeStoreUnavailable, "payout %s: funding tx %s has no output to %s", nil, payout.ID, fundingTx.TxID, payment.ReceivingAddress)
	}

	switch payout.Action {
	case models.ActionPayout:
		return p.processPayout(ctx, payout, storeRow, wallet, fundingTx, fundingVout, feeSatPerByte)
	case models.ActionRefund:
		return p.processRefund(ctx, payout, wallet, fundingTx, fundingVout, feeSatPerByte)
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

func (p *Payouter) processPayout(ctx context.Context, payout *models.Payout, storeRow *models.Store, wallet *hdkeyring.Wallet, fundingTx *models.BTCTransaction, fundingVout models.BTCVout, feeSatPerByte int64) error {
	payoutAddr, ok := storeRow.PayoutAddress(models.BTC)
	if !ok {
		p.log.Info("btc payout has no payout address, flipping to refund", zap.String("payout_id", payout.ID.String()))
		return p.store.FlipPayoutToRefund(ctx, payout.ID)
	}

	hexTx, txid, err := BuildAndSign(wallet, SpendParams{
		PrevTxID:         fundingTx.TxID,
		PrevVout:         fundingVout.N,
		PrevScriptPubKey: fundingVout.ScriptPubKey,
		ValueSat:         fundingVout.ValueSat,
		FeeSatPerByte:    feeSatPerByte,
		ToAddress:        payoutAddr,
		Network:          p.network,
	})
	if err != nil {
		return err
	}

	broadcastHash, err := p.rpc.SendRawTransaction(ctx, hexTx)
	if err != nil {
		return err
	}
	if broadcastHash == "" {
		broadcastHash = txid
	}
	p.metrics.PayoutsBroadcast.WithLabelValues("btc", "payout").Inc()
	return p.store.CompletePayout(ctx, payout.ID, payout.PaymentID, broadcastHash)
}

func (p *Payouter) processRefund(ctx context.Context, payout *models.Payout, wallet *hdkeyring.Wallet, fundingTx *models.BTCTransaction, fundingVout models.BTCVout, feeSatPerByte int64) error {
	if len(fundingTx.Vin) == 0 {
		return chainerr.Fatalf(chainerr.CodeStoreUnavailable, "refund %s: funding tx %s has no inputs to recover sender from", nil, payout.ID, fundingTx.TxID)
	}
	spentOutpoint := fundingTx.Vin[0]
	prevTx, err := p.rpc.GetRawTransaction(ctx, spentOutpoint.PrevTxID)
	if err != nil {
		return err
	}
	var prevScriptPubKey []byte
	for _, out := range toModelTransaction(*prevTx).Vout {
		if out.N == spentOutpoint.PrevVout {
			prevScriptPubKey = out.ScriptPubKey
		}
	}
	if prevScriptPubKey == nil {
		return chainerr.Fatalf(chainerr.CodeStoreUnavailable, "refund %s: previous tx %s has no output %d", nil, payout.ID, spentOutpoint.PrevTxID, spentOutpoint.PrevVout)
	}
	senderAddr, err := SenderAddress(prevScriptPubKey, p.network)
	if err != nil {
		return err
	}

	hexTx, txid, err := BuildAndSign(wallet, SpendParams{
		PrevTxID:         fundingTx.TxID,
		PrevVout:         fundingVout.N,
		PrevScriptPubKey: fundingVout.ScriptPubKey,
		ValueSat:         fundingVout.ValueSat,
		FeeSatPerByte:    feeSatPerByte,
		ToAddress:        senderAddr,
		Network:          p.network,
	})
	if err != nil {
		return err
	}

	broadcastHash, err := p.rpc.SendRawTransaction(ctx, hexTx)
	if err != nil {
		return err
	}
	if broadcastHash == "" {
		broadcastHash = txid
	}
	p.metrics.PayoutsBroadcast.WithLabelValues("btc", "refund").Inc()
	return p.store.CompleteRefund(ctx, payout.ID, broadcastHash)
}

func findVoutByAddress(tx *models.BTCTransaction, address string) (models.BTCVout, bool) {
	for _, vout := range tx.Vout {
		for _, addr := range vout.Addresses {
			if addr == address {
				return vout, true
			}
		}
	}
	return models.BTCVout{}, false
}
