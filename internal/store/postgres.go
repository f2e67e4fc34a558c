package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/finchgate/gateway/internal/models"
	"github.com/finchgate/gateway/internal/money"
)

// Postgres implements Store over a logical schema of payments, payouts,
// btc_transactions, eth_transactions,
// btc_blockchain_statuses, eth_blockchain_statuses, and the non-secret
// columns of stores. database/sql's own connection pool is the "small
// thread pool" a blocking-I/O concurrency model needs for DB work; no
// separate worker pool is layered on top of it.
type Postgres struct {
	db *sql.DB
}

// Open connects to Postgres using the lib/pq driver and verifies
// connectivity.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func statusTable(network models.NetworkTag) string {
	switch network {
	case models.NetworkBTCMain, models.NetworkBTCTest:
		return "btc_blockchain_statuses"
	default:
		return "eth_blockchain_statuses"
	}
}

func (p *Postgres) GetBlockchainStatus(ctx context.Context, network models.NetworkTag) (*models.BlockchainStatus, error) {
	table := statusTable(network)
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT network, block_height FROM %s WHERE network = $1`, table), string(network))
	var s models.BlockchainStatus
	var net string
	if err := row.Scan(&net, &s.BlockHeight); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get blockchain status: %w", err)
	}
	s.Network = models.NetworkTag(net)
	return &s, nil
}

func (p *Postgres) EnsureBlockchainStatus(ctx context.Context, network models.NetworkTag, height uint64) error {
	table := statusTable(network)
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (network, block_height) VALUES ($1, $2) ON CONFLICT (network) DO NOTHING`, table),
		string(network), height)
	if err != nil {
		return fmt.Errorf("store: ensure blockchain status: %w", err)
	}
	return nil
}

func (p *Postgres) PaymentsByAddress(ctx context.Context, currency models.Currency, addresses []string) (map[string]*models.Payment, error) {
	if len(addresses) == 0 {
		return map[string]*models.Payment{}, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, store_id, creator_id, status, currency, base_price, charge, receiving_address,
		       derivation_index, confirmations_required, created_at, expires_at, paid_at,
		       amount_paid, funding_tx_hash, block_height_required
		FROM payments
		WHERE currency = $1 AND receiving_address = ANY($2)`,
		string(currency), pqStringArray(addresses))
	if err != nil {
		return nil, fmt.Errorf("store: payments by address: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*models.Payment, len(addresses))
	for rows.Next() {
		pay, err := scanPayment(rows, currency)
		if err != nil {
			return nil, err
		}
		result[pay.ReceivingAddress] = pay
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(rows rowScanner, currency models.Currency) (*models.Payment, error) {
	var p models.Payment
	var scale money.Scale
	switch currency {
	case models.BTC:
		scale = money.ScaleBTC
	default:
		scale = money.ScaleETH
	}
	var chargeStr string
	var amountPaidStr sql.NullString
	var status, curr string
	if err := rows.Scan(
		&p.ID, &p.StoreID, &p.CreatorID, &status, &curr, &p.BasePrice, &chargeStr, &p.ReceivingAddress,
		&p.DerivationIndex, &p.ConfirmationsReq, &p.CreatedAt, &p.ExpiresAt, &p.PaidAt,
		&amountPaidStr, &p.FundingTxHash, &p.BlockHeightRequired,
	); err != nil {
		return nil, fmt.Errorf("store: scan payment: %w", err)
	}
	p.Status = models.PaymentStatus(status)
	p.Currency = models.Currency(curr)
	charge, err := money.FromDecimalString(chargeStr, scale)
	if err != nil {
		return nil, err
	}
	p.Charge = charge
	if amountPaidStr.Valid {
		amt, err := money.FromDecimalString(amountPaidStr.String, scale)
		if err != nil {
			return nil, err
		}
		p.AmountPaid = &amt
	}
	return &p, nil
}

func (p *Postgres) GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, store_id, creator_id, status, currency, base_price, charge, receiving_address,
		       derivation_index, confirmations_required, created_at, expires_at, paid_at,
		       amount_paid, funding_tx_hash, block_height_required
		FROM payments WHERE id = $1`, paymentID)
	// currency isn't known before the scan; peek via a two-step read.
	var curr string
	peek := p.db.QueryRowContext(ctx, `SELECT currency FROM payments WHERE id = $1`, paymentID)
	if err := peek.Scan(&curr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: payment %s not found", paymentID)
		}
		return nil, fmt.Errorf("store: get payment: %w", err)
	}
	return scanPayment(row, models.Currency(curr))
}

// payoutActionFor chooses Payout vs Refund for a payment reaching
// confirmation, based on the status it was already in when the
// confirming transaction's address was matched. A payment can leave
// Pending (InsufficientAmount, Expired) before its funding transaction
// confirms; that transaction's later confirmation still needs a payout
// row, just one that sends the funds back.
func payoutActionFor(status models.PaymentStatus) models.PayoutAction {
	switch status {
	case models.PaymentInsufficientAmount, models.PaymentExpired:
		return models.ActionRefund
	default:
		return models.ActionPayout
	}
}

// ApplyBTCBlock inserts payout+transaction rows for each matched payment
// and advances BlockchainStatus, all in one transaction. Payout insertion
// is keyed ON CONFLICT (payment_id) DO NOTHING so re-processing the same
// block after a crash never creates a second payout.
func (p *Postgres) ApplyBTCBlock(ctx context.Context, app BTCBlockApplication) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range app.Matches {
		blockHeightRequired := app.BlockHeight + uint64(app.Confirmations[m.Payment.ID]) - 1

		if rawTx, ok := app.Transactions[m.Payment.ReceivingAddress]; ok {
			if err := insertBTCTransaction(ctx, tx, rawTx); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE payments SET amount_paid = $1, funding_tx_hash = $2, block_height_required = $3
			WHERE id = $4`,
			m.AmountPaid.String(), m.TxHash, blockHeightRequired, m.Payment.ID); err != nil {
			return fmt.Errorf("store: update payment funding: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payouts (id, store_id, payment_id, currency, action, status, block_height_required, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (payment_id) DO NOTHING`,
			uuid.New(), m.Payment.StoreID, m.Payment.ID, string(models.BTC),
			string(payoutActionFor(m.Payment.Status)), string(models.PayoutPending), blockHeightRequired); err != nil {
			return fmt.Errorf("store: insert payout: %w", err)
		}
	}

	if err := upsertHeight(ctx, tx, app.Network, app.BlockHeight); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ApplyETHBlock(ctx context.Context, app ETHBlockApplication) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range app.Matches {
		blockHeightRequired := app.BlockHeight + uint64(app.Confirmations[m.Payment.ID]) - 1

		if rawTx, ok := app.Transactions[m.Payment.ReceivingAddress]; ok {
			if err := insertETHTransaction(ctx, tx, rawTx); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE payments SET amount_paid = $1, funding_tx_hash = $2, block_height_required = $3
			WHERE id = $4`,
			m.AmountPaid.String(), m.TxHash, blockHeightRequired, m.Payment.ID); err != nil {
			return fmt.Errorf("store: update payment funding: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payouts (id, store_id, payment_id, currency, action, status, block_height_required, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (payment_id) DO NOTHING`,
			uuid.New(), m.Payment.StoreID, m.Payment.ID, string(models.ETH),
			string(payoutActionFor(m.Payment.Status)), string(models.PayoutPending), blockHeightRequired); err != nil {
			return fmt.Errorf("store: insert payout: %w", err)
		}
	}

	if err := upsertHeight(ctx, tx, app.Network, app.BlockHeight); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertHeight(ctx context.Context, tx *sql.Tx, network models.NetworkTag, height uint64) error {
	table := statusTable(network)
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (network, block_height) VALUES ($1, $2)
		ON CONFLICT (network) DO UPDATE SET block_height = EXCLUDED.block_height
		WHERE %s.block_height < EXCLUDED.block_height`, table, table),
		string(network), height)
	if err != nil {
		return fmt.Errorf("store: upsert blockchain status: %w", err)
	}
	return nil
}

func insertBTCTransaction(ctx context.Context, tx *sql.Tx, t models.BTCTransaction) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: marshal btc transaction: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO btc_transactions (txid, hex, block_hash, confirmations, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (txid) DO UPDATE SET confirmations = EXCLUDED.confirmations, payload = EXCLUDED.payload`,
		t.TxID, t.Hex, t.BlockHash, t.Confirmations, payload)
	if err != nil {
		return fmt.Errorf("store: insert btc transaction: %w", err)
	}
	return nil
}

func insertETHTransaction(ctx context.Context, tx *sql.Tx, t models.ETHTransaction) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: marshal eth transaction: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO eth_transactions (hash, block_hash, block_number, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hash) DO UPDATE SET payload = EXCLUDED.payload`,
		t.Hash, t.BlockHash, t.BlockNumber, payload)
	if err != nil {
		return fmt.Errorf("store: insert eth transaction: %w", err)
	}
	return nil
}

func (p *Postgres) ApplyPendingTransition(ctx context.Context, paymentID uuid.UUID, newStatus models.PaymentStatus, amountPaid money.Amount, txHash string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, amount_paid = $2, funding_tx_hash = $3
		WHERE id = $4 AND status = $5`,
		string(newStatus), amountPaid.String(), txHash, paymentID, string(models.PaymentPending))
	if err != nil {
		return fmt.Errorf("store: apply pending transition: %w", err)
	}
	return nil
}

func (p *Postgres) ConfirmPayments(ctx context.Context, currency models.Currency, tip uint64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE payments SET status = $1
		WHERE currency = $2 AND status = $3 AND block_height_required <= $4`,
		string(models.PaymentConfirmed), string(currency), string(models.PaymentPaid), tip)
	if err != nil {
		return fmt.Errorf("store: confirm payments: %w", err)
	}
	return nil
}

func (p *Postgres) ReadyPayouts(ctx context.Context, currency models.Currency, tip uint64) ([]*models.Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, store_id, payment_id, currency, action, status, block_height_required, transaction_hash, created_at
		FROM payouts
		WHERE currency = $1 AND status = $2 AND block_height_required <= $3`,
		string(currency), string(models.PayoutPending), tip)
	if err != nil {
		return nil, fmt.Errorf("store: ready payouts: %w", err)
	}
	defer rows.Close()

	var out []*models.Payout
	for rows.Next() {
		var po models.Payout
		var action, status, curr string
		if err := rows.Scan(&po.ID, &po.StoreID, &po.PaymentID, &curr, &action, &status,
			&po.BlockHeightRequired, &po.TransactionHash, &po.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan payout: %w", err)
		}
		po.Currency = models.Currency(curr)
		po.Action = models.PayoutAction(action)
		po.Status = models.PayoutStatus(status)
		out = append(out, &po)
	}
	return out, rows.Err()
}

func (p *Postgres) GetStoreWithDeleted(ctx context.Context, storeID uuid.UUID) (*models.Store, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, mnemonic_salt, mnemonic_nonce, mnemonic_ciphertext, hd_path, deleted_at,
		       btc_payout_addresses, btc_confirmations_required, eth_payout_addresses, eth_confirmations_required,
		       voucher_public_key_pem, voucher_private_key_pem
		FROM stores WHERE id = $1`, storeID)

	var s models.Store
	var btcAddrs, ethAddrs pqStringArrayScanner
	if err := row.Scan(
		&s.ID, &s.OwnerID, &s.Mnemonic.Salt, &s.Mnemonic.Nonce, &s.Mnemonic.Ciphertext, &s.HDPath, &s.DeletedAt,
		&btcAddrs, &s.BTCConfirmationsReq, &ethAddrs, &s.ETHConfirmationsReq,
		&s.VoucherPublicKeyPEM, &s.VoucherPrivateKeyPEM,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: store %s not found", storeID)
		}
		return nil, fmt.Errorf("store: get store: %w", err)
	}
	s.BTCPayoutAddresses = btcAddrs.values
	s.ETHPayoutAddresses = ethAddrs.values
	return &s, nil
}

func (p *Postgres) GetBTCTransaction(ctx context.Context, txHash string) (*models.BTCTransaction, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM btc_transactions WHERE txid = $1`, txHash).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: btc transaction %s not found", txHash)
		}
		return nil, fmt.Errorf("store: get btc transaction: %w", err)
	}
	var t models.BTCTransaction
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("store: decode btc transaction: %w", err)
	}
	return &t, nil
}

func (p *Postgres) GetETHTransaction(ctx context.Context, txHash string) (*models.ETHTransaction, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM eth_transactions WHERE hash = $1`, txHash).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: eth transaction %s not found", txHash)
		}
		return nil, fmt.Errorf("store: get eth transaction: %w", err)
	}
	var t models.ETHTransaction
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("store: decode eth transaction: %w", err)
	}
	return &t, nil
}

func (p *Postgres) GetPrevOutScriptPubKey(ctx context.Context, txid string, vout uint32) ([]byte, error) {
	t, err := p.GetBTCTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	for _, out := range t.Vout {
		if out.N == vout {
			return out.ScriptPubKey, nil
		}
	}
	return nil, fmt.Errorf("store: vout %d not found on tx %s", vout, txid)
}

func (p *Postgres) FlipPayoutToRefund(ctx context.Context, payoutID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `UPDATE payouts SET action = $1 WHERE id = $2`, string(models.ActionRefund), payoutID)
	if err != nil {
		return fmt.Errorf("store: flip payout to refund: %w", err)
	}
	return nil
}

func (p *Postgres) CompletePayout(ctx context.Context, payoutID, paymentID uuid.UUID, txHash string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE payouts SET status = $1, transaction_hash = $2 WHERE id = $3`,
		string(models.PayoutPaidOut), txHash, payoutID); err != nil {
		return fmt.Errorf("store: update payout: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE payments SET status = $1 WHERE id = $2`,
		string(models.PaymentCompleted), paymentID); err != nil {
		return fmt.Errorf("store: update payment: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) CompleteRefund(ctx context.Context, payoutID uuid.UUID, txHash string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE payouts SET status = $1, transaction_hash = $2 WHERE id = $3`,
		string(models.PayoutRefunded), txHash, payoutID)
	if err != nil {
		return fmt.Errorf("store: complete refund: %w", err)
	}
	return nil
}

// pqStringArray renders a Go string slice as a Postgres text[] literal
// for use with ANY($n) without pulling in a heavier array helper type.
func pqStringArray(values []string) string {
	out := "{"
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += `"` + escapeArrayElement(v) + `"`
	}
	return out + "}"
}

func escapeArrayElement(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '"' || v[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, v[i])
	}
	return string(out)
}

// pqStringArrayScanner scans a Postgres text[] column into a []string.
type pqStringArrayScanner struct {
	values []string
}

func (s *pqStringArrayScanner) Scan(src interface{}) error {
	if src == nil {
		s.values = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		str, ok := src.(string)
		if !ok {
			return fmt.Errorf("store: unsupported array scan source %T", src)
		}
		raw = []byte(str)
	}
	s.values = parsePGTextArray(string(raw))
	return nil
}

func parsePGTextArray(s string) []string {
	s = trimBraces(s)
	if s == "" {
		return nil
	}
	var out []string
	var cur []byte
	inQuotes := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && (i == 0 || s[i-1] != '\\'):
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			out = append(out, string(cur))
			cur = nil
		default:
			cur = append(cur, c)
		}
	}
	out = append(out, string(cur))
	return out
}

func trimBraces(s string) string {
	if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' {
		return s[1 : len(s)-1]
	}
	return s
}
