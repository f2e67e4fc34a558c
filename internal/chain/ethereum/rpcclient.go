// Package ethereum implements the Ethereum ingestion, payment matching,
// and payout stack: a JSON-RPC 2.0 client, block/pending-block pollers,
// a payment processor, and an EIP-155 legacy transaction
// builder/signer/payouter.
package ethereum

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/finchgate/gateway/internal/chainerr"
	"github.com/finchgate/gateway/internal/chainrpc"
)

// RawTransaction mirrors eth_getBlockByNumber's embedded transaction
// shape when fullTransactions=true.
type RawTransaction struct {
	Hash     string `json:"hash"`
	Nonce    string `json:"nonce"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Input    string `json:"input"`
}

// RawBlock is the decoded shape returned by eth_getBlockByNumber.
type RawBlock struct {
	Hash        string           `json:"hash"`
	Number      string           `json:"number"`
	Transactions []RawTransaction `json:"transactions"`
}

// RPCClient is the narrow Ethereum node surface the poller/processor/
// payouter consume.
type RPCClient struct {
	c       *chainrpc.Client
	chainID *big.Int
}

func NewRPCClient(endpoint string, chainID *big.Int) *RPCClient {
	return &RPCClient{c: chainrpc.New(endpoint, "", "", 20*time.Second), chainID: chainID}
}

func (r *RPCClient) ChainID() *big.Int { return new(big.Int).Set(r.chainID) }

func (r *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := r.c.Call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return 0, chainerr.Transientf(chainerr.CodeRPCError, "decode eth_blockNumber", err)
	}
	height, err := hexutil.DecodeUint64(hexStr)
	if err != nil {
		return 0, chainerr.Transientf(chainerr.CodeRPCError, "parse eth_blockNumber hex", err)
	}
	return height, nil
}

// GetBlockByNumber fetches the block at height with fullTransactions=true.
func (r *RPCClient) GetBlockByNumber(ctx context.Context, height uint64) (*RawBlock, error) {
	raw, err := r.c.Call(ctx, "eth_getBlockByNumber", []interface{}{hexutil.EncodeUint64(height), true})
	if err != nil {
		return nil, err
	}
	var block RawBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "decode eth_getBlockByNumber", err)
	}
	return &block, nil
}

// GetPendingBlock fetches the "pending" pseudo-block, which contains
// full pending transactions not yet in a mined block.
func (r *RPCClient) GetPendingBlock(ctx context.Context) (*RawBlock, error) {
	raw, err := r.c.Call(ctx, "eth_getBlockByNumber", []interface{}{"pending", true})
	if err != nil {
		return nil, err
	}
	var block RawBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "decode pending block", err)
	}
	return &block, nil
}

func (r *RPCClient) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	raw, err := r.c.Call(ctx, "eth_getTransactionCount", []interface{}{address, "pending"})
	if err != nil {
		return 0, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return 0, chainerr.Transientf(chainerr.CodeRPCError, "decode eth_getTransactionCount", err)
	}
	nonce, err := hexutil.DecodeUint64(hexStr)
	if err != nil {
		return 0, chainerr.Transientf(chainerr.CodeRPCError, "parse nonce hex", err)
	}
	return nonce, nil
}

func (r *RPCClient) GasPrice(ctx context.Context) (*big.Int, error) {
	raw, err := r.c.Call(ctx, "eth_gasPrice", []interface{}{})
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "decode eth_gasPrice", err)
	}
	price, err := hexutil.DecodeBig(hexStr)
	if err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "parse gas price hex", err)
	}
	if price.Sign() <= 0 {
		return nil, chainerr.Fatalf(chainerr.CodeInvalidFeeRate, "eth_gasPrice returned non-positive value", nil)
	}
	return price, nil
}

func (r *RPCClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	raw, err := r.c.Call(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "decode eth_getBalance", err)
	}
	balance, err := hexutil.DecodeBig(hexStr)
	if err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "parse balance hex", err)
	}
	return balance, nil
}

func (r *RPCClient) SendRawTransaction(ctx context.Context, rawTxHex string) (string, error) {
	raw, err := r.c.Call(ctx, "eth_sendRawTransaction", []interface{}{rawTxHex})
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return "", chainerr.Transientf(chainerr.CodeRPCError, "decode eth_sendRawTransaction", err)
	}
	return txHash, nil
}
