package bitcoin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/metrics"
	"github.com/finchgate/gateway/internal/models"
	"github.com/finchgate/gateway/internal/money"
	"github.com/finchgate/gateway/internal/store"
)

type fakeStore struct {
	byAddress       map[string]*models.Payment
	appliedBlock    *store.BTCBlockApplication
	transitions     []transitionCall
	ensuredHeights  []uint64
	flippedPayoutID uuid.UUID

	blockchainStatus     *models.BlockchainStatus
	confirmPaymentsTip   uint64
	confirmPaymentsCalls int
	readyPayouts         []*models.Payout
	getStoreErr          error
}

type transitionCall struct {
	paymentID  uuid.UUID
	status     models.PaymentStatus
	amountPaid money.Amount
	txHash     string
}

func newFakeStore() *fakeStore {
	return &fakeStore{byAddress: map[string]*models.Payment{}}
}

func (f *fakeStore) GetBlockchainStatus(ctx context.Context, network models.NetworkTag) (*models.BlockchainStatus, error) {
	return f.blockchainStatus, nil
}
func (f *fakeStore) EnsureBlockchainStatus(ctx context.Context, network models.NetworkTag, height uint64) error {
	f.ensuredHeights = append(f.ensuredHeights, height)
	return nil
}
func (f *fakeStore) PaymentsByAddress(ctx context.Context, currency models.Currency, addresses []string) (map[string]*models.Payment, error) {
	out := map[string]*models.Payment{}
	for _, addr := range addresses {
		if p, ok := f.byAddress[addr]; ok {
			out[addr] = p
		}
	}
	return out, nil
}
func (f *fakeStore) ApplyBTCBlock(ctx context.Context, app store.BTCBlockApplication) error {
	f.appliedBlock = &app
	return nil
}
func (f *fakeStore) ApplyETHBlock(ctx context.Context, app store.ETHBlockApplication) error {
	return nil
}
func (f *fakeStore) ApplyPendingTransition(ctx context.Context, paymentID uuid.UUID, newStatus models.PaymentStatus, amountPaid money.Amount, txHash string) error {
	f.transitions = append(f.transitions, transitionCall{paymentID, newStatus, amountPaid, txHash})
	return nil
}
func (f *fakeStore) ConfirmPayments(ctx context.Context, currency models.Currency, tip uint64) error {
	f.confirmPaymentsCalls++
	f.confirmPaymentsTip = tip
	return nil
}
func (f *fakeStore) ReadyPayouts(ctx context.Context, currency models.Currency, tip uint64) ([]*models.Payout, error) {
	return f.readyPayouts, nil
}
func (f *fakeStore) GetStoreWithDeleted(ctx context.Context, storeID uuid.UUID) (*models.Store, error) {
	if f.getStoreErr != nil {
		return nil, f.getStoreErr
	}
	return nil, nil
}
func (f *fakeStore) GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return nil, nil
}
func (f *fakeStore) GetBTCTransaction(ctx context.Context, txHash string) (*models.BTCTransaction, error) {
	return nil, nil
}
func (f *fakeStore) GetETHTransaction(ctx context.Context, txHash string) (*models.ETHTransaction, error) {
	return nil, nil
}
func (f *fakeStore) GetPrevOutScriptPubKey(ctx context.Context, txid string, vout uint32) ([]byte, error) {
	return nil, nil
}
func (f *fakeStore) FlipPayoutToRefund(ctx context.Context, payoutID uuid.UUID) error {
	f.flippedPayoutID = payoutID
	return nil
}
func (f *fakeStore) CompletePayout(ctx context.Context, payoutID, paymentID uuid.UUID, txHash string) error {
	return nil
}
func (f *fakeStore) CompleteRefund(ctx context.Context, payoutID uuid.UUID, txHash string) error {
	return nil
}

var _ store.Store = (*fakeStore)(nil)

func testClock(t time.Time) store.Clock {
	return func() time.Time { return t }
}

func voutWithAddress(addr string, valueBTC float64) RawTxVout {
	v := RawTxVout{N: 0, Value: valueBTC}
	v.ScriptPubKey.Addresses = []string{addr}
	v.ScriptPubKey.Hex = "76a914deadbeef0000000000000000000000000000000088ac"
	return v
}

func TestProcessBlockMatchesAndAppliesPending(t *testing.T) {
	fs := newFakeStore()
	paymentID := uuid.New()
	fs.byAddress["1Addr"] = &models.Payment{
		ID:               paymentID,
		Status:           models.PaymentPending,
		Charge:           money.FromSatoshis(100000),
		ConfirmationsReq: 6,
	}

	p := NewProcessor(fs, models.NetworkBTCMain, testClock(time.Now()), zap.NewNop(), metrics.NewRegistry())

	block := &RawBlock{
		Height: 500,
		Tx: []RawTransaction{
			{TxID: "tx1", Vout: []RawTxVout{voutWithAddress("1Addr", 0.001)}},
		},
	}

	err := p.ProcessBlock(context.Background(), block)
	require.NoError(t, err)
	require.NotNil(t, fs.appliedBlock)
	require.Len(t, fs.appliedBlock.Matches, 1)
	assert.Equal(t, paymentID, fs.appliedBlock.Matches[0].Payment.ID)
	assert.Equal(t, "tx1", fs.appliedBlock.Matches[0].TxHash)
	assert.Equal(t, 6, fs.appliedBlock.Confirmations[paymentID])
}

// TestProcessBlockMatchesAlreadyInsufficientPayment covers the case where a
// transaction's pending-phase sighting already moved the payment to
// InsufficientAmount before the same transaction confirmed: the confirmed
// block must still match the payment by address so a Payout (to be
// inserted with a Refund action) is produced, instead of being silently
// skipped because the payment is no longer Pending.
func TestProcessBlockMatchesAlreadyInsufficientPayment(t *testing.T) {
	fs := newFakeStore()
	paymentID := uuid.New()
	fs.byAddress["1Addr"] = &models.Payment{
		ID:               paymentID,
		Status:           models.PaymentInsufficientAmount,
		Charge:           money.FromSatoshis(100000),
		ConfirmationsReq: 6,
	}

	p := NewProcessor(fs, models.NetworkBTCMain, testClock(time.Now()), zap.NewNop(), metrics.NewRegistry())

	block := &RawBlock{
		Height: 500,
		Tx: []RawTransaction{
			{TxID: "tx1", Vout: []RawTxVout{voutWithAddress("1Addr", 0.0005)}},
		},
	}

	err := p.ProcessBlock(context.Background(), block)
	require.NoError(t, err)
	require.NotNil(t, fs.appliedBlock)
	require.Len(t, fs.appliedBlock.Matches, 1)
	assert.Equal(t, models.PaymentInsufficientAmount, fs.appliedBlock.Matches[0].Payment.Status)
}

func TestProcessBlockWithNoMatchesStillAdvancesHeight(t *testing.T) {
	fs := newFakeStore()
	p := NewProcessor(fs, models.NetworkBTCMain, testClock(time.Now()), zap.NewNop(), metrics.NewRegistry())

	block := &RawBlock{Height: 700, Tx: []RawTransaction{
		{TxID: "tx1", Vout: []RawTxVout{voutWithAddress("1Unmatched", 0.001)}},
	}}

	err := p.ProcessBlock(context.Background(), block)
	require.NoError(t, err)
	assert.Nil(t, fs.appliedBlock)
	require.Contains(t, fs.ensuredHeights, uint64(700))
}

func TestProcessMempoolTransactionsInsufficientAmount(t *testing.T) {
	fs := newFakeStore()
	paymentID := uuid.New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fs.byAddress["1Addr"] = &models.Payment{
		ID:        paymentID,
		Status:    models.PaymentPending,
		Charge:    money.FromSatoshis(100000),
		ExpiresAt: now.Add(time.Hour),
	}

	p := NewProcessor(fs, models.NetworkBTCMain, testClock(now), zap.NewNop(), metrics.NewRegistry())

	txs := []*RawTransaction{{TxID: "tx2", Vout: []RawTxVout{voutWithAddress("1Addr", 0.0005)}}}
	err := p.ProcessMempoolTransactions(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, fs.transitions, 1)
	assert.Equal(t, models.PaymentInsufficientAmount, fs.transitions[0].status)
	assert.Equal(t, "tx2", fs.transitions[0].txHash)
}

// TestProcessMempoolTransactionsSkipsAlreadyTransitionedPayment covers a
// payment that already left Pending (e.g. a previous mempool sighting
// expired it): a later unrelated mempool sighting of the same address
// must not re-run the pending-phase transition against it.
func TestProcessMempoolTransactionsSkipsAlreadyTransitionedPayment(t *testing.T) {
	fs := newFakeStore()
	paymentID := uuid.New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fs.byAddress["1Addr"] = &models.Payment{
		ID:        paymentID,
		Status:    models.PaymentExpired,
		Charge:    money.FromSatoshis(100000),
		ExpiresAt: now.Add(-time.Hour),
	}

	p := NewProcessor(fs, models.NetworkBTCMain, testClock(now), zap.NewNop(), metrics.NewRegistry())

	txs := []*RawTransaction{{TxID: "tx2", Vout: []RawTxVout{voutWithAddress("1Addr", 0.0005)}}}
	err := p.ProcessMempoolTransactions(context.Background(), txs)
	require.NoError(t, err)
	assert.Empty(t, fs.transitions)
}
