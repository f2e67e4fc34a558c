package bitcoin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/chainerr"
	"github.com/finchgate/gateway/internal/chainrpc"
	"github.com/finchgate/gateway/internal/metrics"
	"github.com/finchgate/gateway/internal/models"
	"github.com/finchgate/gateway/internal/store"
)

const (
	pollInterval  = 3 * time.Second
	maxRetryCount = 10
)

// ConfirmedBlockPoller drives the Processor with a gap-free, strictly
// increasing sequence of confirmed Bitcoin blocks.
type ConfirmedBlockPoller struct {
	rpc        *RPCClient
	processor  *Processor
	store      store.Store
	network    models.NetworkTag
	skipMissed bool
	log        *zap.Logger
	metrics    *metrics.Registry
}

// NewConfirmedBlockPoller wires a poller against the given RPC client,
// Processor, and persistence layer.
func NewConfirmedBlockPoller(rpc *RPCClient, processor *Processor, st store.Store, network models.NetworkTag, skipMissed bool, log *zap.Logger, reg *metrics.Registry) *ConfirmedBlockPoller {
	return &ConfirmedBlockPoller{
		rpc: rpc, processor: processor, store: st, network: network, skipMissed: skipMissed, log: log, metrics: reg,
	}
}

// Run bootstraps from the last processed height (or the live tip, under
// SKIP_MISSED_BLOCKS) and then polls forever at steady state. It returns
// only on a fatal error (retry_count exhausted) or ctx cancellation; the
// supervisor is responsible for restarting it.
func (p *ConfirmedBlockPoller) Run(ctx context.Context) error {
	tip, err := p.rpc.GetBlockCount(ctx)
	if err != nil {
		return err
	}

	status, err := p.store.GetBlockchainStatus(ctx, p.network)
	if err != nil {
		return err
	}
	if status == nil {
		if err := p.store.EnsureBlockchainStatus(ctx, p.network, tip); err != nil {
			return err
		}
		status = &models.BlockchainStatus{Network: p.network, BlockHeight: tip}
	}

	var next uint64
	if p.skipMissed {
		next = tip + 1
	} else {
		next = status.BlockHeight + 1
	}

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tip, err := p.rpc.GetBlockCount(ctx)
		if err != nil {
			retryCount, err = p.handleTransient(err, retryCount)
			if err != nil {
				return err
			}
			continue
		}

		if next > tip {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		if err := p.fetchAndProcess(ctx, next); err != nil {
			retryCount, err = p.handleTransient(err, retryCount)
			if err != nil {
				return err
			}
			continue
		}
		retryCount = 0
		p.metrics.RetryCount.WithLabelValues("btc", "confirmed_block").Set(0)
		next++
	}
}

func (p *ConfirmedBlockPoller) fetchAndProcess(ctx context.Context, height uint64) error {
	hash, err := p.rpc.GetBlockHash(ctx, height)
	if err != nil {
		return err
	}
	block, err := p.rpc.GetBlock(ctx, hash)
	if err != nil {
		return err
	}
	block.Height = height
	return p.processor.ProcessBlock(ctx, block)
}

// handleTransient implements the retry_count contract: an
// empty-response condition retries without incrementing; any other
// transient error increments; ten consecutive increments is fatal.
func (p *ConfirmedBlockPoller) handleTransient(err error, retryCount int) (int, error) {
	if chainrpc.IsEmptyResponse(err) {
		time.Sleep(pollInterval)
		return retryCount, nil
	}
	if !chainerr.IsTransient(err) {
		return retryCount, err
	}
	retryCount++
	p.metrics.RetryCount.WithLabelValues("btc", "confirmed_block").Set(float64(retryCount))
	p.log.Warn("btc confirmed-block poll failed", zap.Error(err), zap.Int("retry_count", retryCount))
	if retryCount >= maxRetryCount {
		return retryCount, chainerr.Fatalf(chainerr.CodeRetryLimitExceeded, "confirmed-block poller exhausted retries", err)
	}
	time.Sleep(pollInterval)
	return retryCount, nil
}

// PendingPoller fetches the raw mempool every tick and dispatches
// transactions not previously seen to the Processor.
type PendingPoller struct {
	rpc       *RPCClient
	processor *Processor
	seen      map[string]int // txid -> tick last seen
	tick      int
	log       *zap.Logger
	metrics   *metrics.Registry
}

func NewPendingPoller(rpc *RPCClient, processor *Processor, log *zap.Logger, reg *metrics.Registry) *PendingPoller {
	return &PendingPoller{rpc: rpc, processor: processor, seen: make(map[string]int), log: log, metrics: reg}
}

func (p *PendingPoller) Run(ctx context.Context) error {
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}

		p.tick++
		if err := p.pollOnce(ctx); err != nil {
			if chainrpc.IsEmptyResponse(err) {
				continue
			}
			if !chainerr.IsTransient(err) {
				return err
			}
			retryCount++
			p.metrics.RetryCount.WithLabelValues("btc", "pending").Set(float64(retryCount))
			p.log.Warn("btc mempool poll failed", zap.Error(err), zap.Int("retry_count", retryCount))
			if retryCount >= maxRetryCount {
				return chainerr.Fatalf(chainerr.CodeRetryLimitExceeded, "pending poller exhausted retries", err)
			}
			continue
		}
		retryCount = 0
		p.metrics.RetryCount.WithLabelValues("btc", "pending").Set(0)
		p.forgetStale()
		p.metrics.PendingSetSize.WithLabelValues("btc").Set(float64(len(p.seen)))
	}
}

func (p *PendingPoller) pollOnce(ctx context.Context) error {
	txids, err := p.rpc.GetRawMempool(ctx)
	if err != nil {
		return err
	}

	var fresh []*RawTransaction
	for _, txid := range txids {
		if _, ok := p.seen[txid]; ok {
			p.seen[txid] = p.tick
			continue
		}
		tx, err := p.rpc.GetRawTransaction(ctx, txid)
		if err != nil {
			if chainrpc.IsEmptyResponse(err) {
				continue // evicted from mempool between list and fetch
			}
			return err
		}
		p.seen[txid] = p.tick
		fresh = append(fresh, tx)
	}

	return p.processor.ProcessMempoolTransactions(ctx, fresh)
}

// forgetStale bounds the previously-seen set so a long-running process
// cannot grow it without bound: entries untouched for 50 ticks are
// dropped.
func (p *PendingPoller) forgetStale() {
	const maxAge = 50
	for txid, lastSeen := range p.seen {
		if p.tick-lastSeen > maxAge {
			delete(p.seen, txid)
		}
	}
}
