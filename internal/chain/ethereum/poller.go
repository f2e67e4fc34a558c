package ethereum

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
// increasing sequence of confirmed Ethereum blocks.
type ConfirmedBlockPoller struct {
	rpc        *RPCClient
	processor  *Processor
	store      store.Store
	network    models.NetworkTag
	skipMissed bool
	log        *zap.Logger
	metrics    *metrics.Registry
}

func NewConfirmedBlockPoller(rpc *RPCClient, processor *Processor, st store.Store, network models.NetworkTag, skipMissed bool, log *zap.Logger, reg *metrics.Registry) *ConfirmedBlockPoller {
	return &ConfirmedBlockPoller{rpc: rpc, processor: processor, store: st, network: network, skipMissed: skipMissed, log: log, metrics: reg}
}

func (p *ConfirmedBlockPoller) Run(ctx context.Context) error {
	tip, err := p.rpc.BlockNumber(ctx)
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

		tip, err := p.rpc.BlockNumber(ctx)
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

		block, err := p.rpc.GetBlockByNumber(ctx, next)
		if err == nil {
			err = p.processor.ProcessBlock(ctx, block, next)
		}
		if err != nil {
			retryCount, err = p.handleTransient(err, retryCount)
			if err != nil {
				return err
			}
			continue
		}
		retryCount = 0
		p.metrics.RetryCount.WithLabelValues("eth", "confirmed_block").Set(0)
		next++
	}
}

func (p *ConfirmedBlockPoller) handleTransient(err error, retryCount int) (int, error) {
	if chainrpc.IsEmptyResponse(err) {
		time.Sleep(pollInterval)
		return retryCount, nil
	}
	if !chainerr.IsTransient(err) {
		return retryCount, err
	}
	retryCount++
	p.metrics.RetryCount.WithLabelValues("eth", "confirmed_block").Set(float64(retryCount))
	p.log.Warn("eth confirmed-block poll failed", zap.Error(err), zap.Int("retry_count", retryCount))
	if retryCount >= maxRetryCount {
		return retryCount, chainerr.Fatalf(chainerr.CodeRetryLimitExceeded, "confirmed-block poller exhausted retries", err)
	}
	time.Sleep(pollInterval)
	return retryCount, nil
}

// PendingPoller fetches the "pending" pseudo-block every tick and
// dispatches the diff of transaction hashes versus the previous tick's
// set. The previously-seen set is bounded to 50 ticks so a
// long-running process cannot grow it forever.
type PendingPoller struct {
	rpc       *RPCClient
	processor *Processor
	seen      map[string]int
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
			p.metrics.RetryCount.WithLabelValues("eth", "pending").Set(float64(retryCount))
			p.log.Warn("eth pending poll failed", zap.Error(err), zap.Int("retry_count", retryCount))
			if retryCount >= maxRetryCount {
				return chainerr.Fatalf(chainerr.CodeRetryLimitExceeded, "pending poller exhausted retries", err)
			}
			continue
		}
		retryCount = 0
		p.metrics.RetryCount.WithLabelValues("eth", "pending").Set(0)
		p.forgetStale()
		p.metrics.PendingSetSize.WithLabelValues("eth").Set(float64(len(p.seen)))
	}
}

func (p *PendingPoller) pollOnce(ctx context.Context) error {
	block, err := p.rpc.GetPendingBlock(ctx)
	if err != nil {
		return err
	}

	var fresh []RawTransaction
	for _, tx := range block.Transactions {
		if _, ok := p.seen[tx.Hash]; ok {
			p.seen[tx.Hash] = p.tick
			continue
		}
		p.seen[tx.Hash] = p.tick
		fresh = append(fresh, tx)
	}
	if len(fresh) == 0 {
		return nil
	}
	return p.processor.ProcessPendingTransactions(ctx, &RawBlock{Transactions: fresh})
}

func (p *PendingPoller) forgetStale() {
	const maxAge = 50
	for hash, lastSeen := range p.seen {
		if p.tick-lastSeen > maxAge {
			delete(p.seen, hash)
		}
	}
}
