// Package bitcoin implements the Bitcoin ingestion, payment matching, and
// payout stack: a JSON-RPC 1.0 client against bitcoind, block/mempool
// pollers, a payment processor, and a legacy P2PKH transaction
// builder/signer/payouter.
package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finchgate/gateway/internal/chainerr"
	"github.com/finchgate/gateway/internal/chainrpc"
)

// RawTxVout mirrors bitcoind's decoded transaction output shape.
type RawTxVout struct {
	N            uint32  `json:"n"`
	Value        float64 `json:"value"` // BTC, converted to satoshis by callers
	ScriptPubKey struct {
		Hex       string   `json:"hex"`
		Type      string   `json:"type"`
		Addresses []string `json:"addresses"`
	} `json:"scriptPubKey"`
}

// RawTxVin mirrors bitcoind's decoded transaction input shape.
type RawTxVin struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// RawTransaction is the decoded shape returned by getrawtransaction with
// verbose=true.
type RawTransaction struct {
	TxID          string      `json:"txid"`
	Hex           string      `json:"hex"`
	BlockHash     string      `json:"blockhash"`
	Confirmations int         `json:"confirmations"`
	Vin           []RawTxVin  `json:"vin"`
	Vout          []RawTxVout `json:"vout"`
}

// RawBlock is the decoded shape returned by getblock with verbosity=2
// (full transaction objects embedded, so no per-txid getrawtransaction
// pass is made for block transactions).
type RawBlock struct {
	Hash         string           `json:"hash"`
	Height       uint64           `json:"height"`
	Tx           []RawTransaction `json:"tx"`
}

// RPCClient is the narrow bitcoind surface the poller/processor/payouter
// consume.
type RPCClient struct {
	c *chainrpc.Client
}

func NewRPCClient(endpoint, rpcUser, rpcPass string) *RPCClient {
	return &RPCClient{c: chainrpc.New(endpoint, rpcUser, rpcPass, 20*time.Second)}
}

func (r *RPCClient) GetBlockCount(ctx context.Context) (uint64, error) {
	raw, err := r.c.Call(ctx, "getblockcount", []interface{}{})
	if err != nil {
		return 0, err
	}
	var height uint64
	if err := json.Unmarshal(raw, &height); err != nil {
		return 0, chainerr.Transientf(chainerr.CodeRPCError, "decode getblockcount", err)
	}
	return height, nil
}

func (r *RPCClient) GetBlockHash(ctx context.Context, height uint64) (string, error) {
	raw, err := r.c.Call(ctx, "getblockhash", []interface{}{height})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", chainerr.Transientf(chainerr.CodeRPCError, "decode getblockhash", err)
	}
	return hash, nil
}

// GetBlock fetches the block at verbosity 2 (full decoded transactions),
// so the Processor never needs a second getrawtransaction round-trip for
// block-sourced payments.
func (r *RPCClient) GetBlock(ctx context.Context, hash string) (*RawBlock, error) {
	raw, err := r.c.Call(ctx, "getblock", []interface{}{hash, 2})
	if err != nil {
		return nil, err
	}
	var block RawBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "decode getblock", err)
	}
	return &block, nil
}

func (r *RPCClient) GetRawTransaction(ctx context.Context, txid string) (*RawTransaction, error) {
	raw, err := r.c.Call(ctx, "getrawtransaction", []interface{}{txid, true})
	if err != nil {
		return nil, err
	}
	var tx RawTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "decode getrawtransaction", err)
	}
	return &tx, nil
}

// GetRawMempool returns the current set of mempool txids.
func (r *RPCClient) GetRawMempool(ctx context.Context) ([]string, error) {
	raw, err := r.c.Call(ctx, "getrawmempool", []interface{}{false})
	if err != nil {
		return nil, err
	}
	var txids []string
	if err := json.Unmarshal(raw, &txids); err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "decode getrawmempool", err)
	}
	return txids, nil
}

func (r *RPCClient) SendRawTransaction(ctx context.Context, hexTx string) (string, error) {
	raw, err := r.c.Call(ctx, "sendrawtransaction", []interface{}{hexTx})
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return "", chainerr.Transientf(chainerr.CodeRPCError, "decode sendrawtransaction", err)
	}
	return txHash, nil
}

type estimateSmartFeeResult struct {
	FeeRate float64  `json:"feerate"`
	Errors  []string `json:"errors,omitempty"`
}

// EstimateSmartFeeSatPerByte queries the 1-block-target smart fee
// estimator and converts BTC/kB to satoshis/byte.
func (r *RPCClient) EstimateSmartFeeSatPerByte(ctx context.Context) (int64, error) {
	raw, err := r.c.Call(ctx, "estimatesmartfee", []interface{}{1})
	if err != nil {
		return 0, err
	}
	var result estimateSmartFeeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, chainerr.Transientf(chainerr.CodeRPCError, "decode estimatesmartfee", err)
	}
	if len(result.Errors) > 0 {
		return 0, chainerr.Transientf(chainerr.CodeRPCError, "estimatesmartfee: %v", nil, result.Errors)
	}
	satPerByte := int64(result.FeeRate * 1e8 / 1000)
	if satPerByte <= 0 {
		return 0, chainerr.Fatalf(chainerr.CodeInvalidFeeRate, "estimatesmartfee returned non-positive fee rate %f", fmt.Errorf("feerate=%f", result.FeeRate), result.FeeRate)
	}
	return satPerByte, nil
}
