// Command gateway is the payment-lifecycle engine's launcher: per
// configured chain it wires an RPC client, a payment-matching Processor,
// a confirmed-block poller, a pending-transaction poller, and a payout
// monitor (each run under internal/supervisor) plus the payouter the
// monitor calls, and serves /healthz, /readyz, and /metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/finchgate/gateway/internal/app"
	"github.com/finchgate/gateway/internal/chain/bitcoin"
	"github.com/finchgate/gateway/internal/chain/ethereum"
	"github.com/finchgate/gateway/internal/crypto"
	"github.com/finchgate/gateway/internal/metrics"
	"github.com/finchgate/gateway/internal/store"
	"github.com/finchgate/gateway/internal/supervisor"
)

func main() {
	currencies := flag.String("currencies", "btc,eth", "chains to run (btc, eth), comma-separated or followed by further chains as arguments")
	skipMissed := flag.Bool("skip-missed-blocks", false, "start confirmed-block pollers at the live tip instead of catching up")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "gateway: build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := app.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	if *skipMissed {
		cfg.SkipMissedBlocks = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pg, err := store.Open(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("open postgres", zap.Error(err))
	}
	defer pg.Close()

	reg := metrics.NewRegistry()
	promReg := prometheus.NewRegistry()
	reg.MustRegister(promReg)

	cipher := crypto.NewMnemonicCipher(cfg.MnemonicMasterSecret)

	wanted := map[string]bool{}
	for _, c := range append(strings.Split(*currencies, ","), flag.Args()...) {
		c = strings.TrimSpace(strings.ToLower(c))
		if c != "" {
			wanted[c] = true
		}
	}

	if wanted["btc"] {
		runBitcoin(ctx, cfg, pg, cipher, log.Named("btc"), reg)
	}
	if wanted["eth"] {
		runEthereum(ctx, cfg, pg, cipher, log.Named("eth"), reg)
	}

	serveHealth(ctx, cfg.HealthAddr, promReg, log)

	<-ctx.Done()
	log.Info("shutting down")
}

func runBitcoin(ctx context.Context, cfg *app.Config, st store.Store, cipher *crypto.MnemonicCipher, log *zap.Logger, reg *metrics.Registry) {
	rpc := bitcoin.NewRPCClient(cfg.BTC.RPCURL, cfg.BTC.RPCUser, cfg.BTC.RPCPass)
	network := cfg.BTCNetworkTag()
	processor := bitcoin.NewProcessor(st, network, time.Now, log.Named("processor"), reg)
	confirmed := bitcoin.NewConfirmedBlockPoller(rpc, processor, st, network, cfg.SkipMissedBlocks, log.Named("confirmed-poller"), reg)
	pending := bitcoin.NewPendingPoller(rpc, processor, log.Named("pending-poller"), reg)
	payouter := bitcoin.NewPayouter(rpc, st, cipher, cfg.BTC.Network, log.Named("payouter"), reg)
	monitor := bitcoin.NewMonitor(st, payouter, network, log.Named("monitor"))

	go supervisor.Supervise(ctx, "btc-confirmed-poller", confirmed.Run, log)
	go supervisor.Supervise(ctx, "btc-pending-poller", pending.Run, log)
	go supervisor.Supervise(ctx, "btc-payout-monitor", monitor.Run, log)
}

func runEthereum(ctx context.Context, cfg *app.Config, st store.Store, cipher *crypto.MnemonicCipher, log *zap.Logger, reg *metrics.Registry) {
	rpc := ethereum.NewRPCClient(cfg.ETH.RPCURL, cfg.ETH.ChainID)
	network := cfg.ETHNetworkTag()
	processor := ethereum.NewProcessor(st, network, time.Now, log.Named("processor"), reg)
	confirmed := ethereum.NewConfirmedBlockPoller(rpc, processor, st, network, cfg.SkipMissedBlocks, log.Named("confirmed-poller"), reg)
	pending := ethereum.NewPendingPoller(rpc, processor, log.Named("pending-poller"), reg)
	payouter := ethereum.NewPayouter(rpc, st, cipher, cfg.ETH.Network, log.Named("payouter"), reg)
	monitor := ethereum.NewMonitor(st, payouter, network, log.Named("monitor"))

	go supervisor.Supervise(ctx, "eth-confirmed-poller", confirmed.Run, log)
	go supervisor.Supervise(ctx, "eth-pending-poller", pending.Run, log)
	go supervisor.Supervise(ctx, "eth-payout-monitor", monitor.Run, log)
}

func serveHealth(ctx context.Context, addr string, promReg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler(promReg))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server stopped", zap.Error(err))
		}
	}()
}
