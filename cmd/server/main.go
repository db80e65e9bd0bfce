package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"crossbridge/EVMRPC"
	"crossbridge/UTXORPC"
	"crossbridge/chainrpc"
	"crossbridge/config"
	"crossbridge/events"
	"crossbridge/gas"
	"crossbridge/logger"
	"crossbridge/memstore"
	"crossbridge/messenger"
	"crossbridge/metrics"
	"crossbridge/orchestrator"
	"crossbridge/redis"
	"crossbridge/registry"
	"crossbridge/relayers"
	"crossbridge/sqlstore"
	"crossbridge/swap"
	"crossbridge/telemetry"
	"crossbridge/types"
	"crossbridge/validator"
	"crossbridge/workers"
	"crossbridge/workers/handlers"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type store interface {
	orchestrator.Store
	messenger.Store
	swap.Store
	relayers.Store
	validator.ProofStore
}

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config file, empty to use the environment only")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	logs, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		log.Fatalf("error creating logger: %v", err)
	}
	defer logs.Sync()

	if err := run(cfg, logs); err != nil {
		logs.Errorw("bridge service exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Configuration, logs *zap.SugaredLogger) error {
	logs.Infow("Starting cross-chain bridge", "chains", len(cfg.Chains), "storage", cfg.Server.Storage)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		logs.Warnw("tracing disabled", "error", err)
	}
	defer shutdownTracer(context.Background())

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry)

	reg, err := registry.FromConfigs(cfg.Chains)
	if err != nil {
		return fmt.Errorf("chain registry: %w", err)
	}

	key, err := relayerKey(cfg.Relayer.PrivateKey, logs)
	if err != nil {
		return err
	}

	pool := chainrpc.NewPool()
	var evmClients []*EVMRPC.Client
	for _, chain := range reg.List() {
		switch chain.Kind {
		case types.ChainKindEVM:
			c, err := EVMRPC.NewClient(chain, logs, EVMRPC.WithMetrics(m))
			if err != nil {
				return fmt.Errorf("chain %d client: %w", chain.ChainID, err)
			}
			defer c.Close()
			evmClients = append(evmClients, c)
			pool.Add(c)
		case types.ChainKindUTXO:
			c, err := UTXORPC.NewClient(chain, logs, UTXORPC.WithMetrics(m))
			if err != nil {
				return fmt.Errorf("chain %d client: %w", chain.ChainID, err)
			}
			pool.Add(c)
		}
	}
	transactor := EVMRPC.NewTransactor(key, cfg.Relayer.GasLimit, logs, evmClients...)

	st, closeStore, err := openStore(ctx, cfg, logs)
	if err != nil {
		return err
	}
	defer closeStore()

	var publisher events.Publisher = events.NewLogPublisher(logs)
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer kp.Close()
		publisher = kp
	}

	history := gas.NewHistory(cfg.Gas.HistorySize)
	gasOpts := []gas.Option{
		gas.WithResultTTL(time.Duration(cfg.Gas.ResultTTL) * time.Second),
		gas.WithMetrics(m),
	}
	pollerOpts := []gas.PollerOption{gas.WithPollerMetrics(m)}
	for _, chain := range reg.List() {
		if chain.GasStationURL != "" {
			pollerOpts = append(pollerOpts, gas.WithFeed(chain.ChainID, gas.NewStationFeed(chain.GasStationURL)))
		}
	}
	sweeps := []workers.Sweep{}
	if cfg.Gas.ArchiveDriver != "" {
		archive, err := sqlstore.Open(cfg.Gas.ArchiveDriver, cfg.Gas.ArchiveDSN)
		if err != nil {
			return fmt.Errorf("gas archive: %w", err)
		}
		defer archive.Close()
		gasOpts = append(gasOpts, gas.WithArchive(archive))
		pollerOpts = append(pollerOpts, gas.WithAppender(archive))
		sweeps = append(sweeps, workers.ArchiveSweep(archive, time.Duration(cfg.Gas.ArchiveRetainHr)*time.Hour, time.Now))
	}
	optimizer := gas.NewOptimizer(reg, history, logs, gasOpts...)
	poller := gas.NewPoller(pool, history, time.Duration(cfg.Gas.PollInterval)*time.Second, logs, pollerOpts...)

	proofs := validator.New(reg, pool, logs,
		validator.WithCacheTTL(time.Duration(cfg.Validator.CacheTTL)*time.Second),
		validator.WithConcurrency(cfg.Validator.BatchConcurrency),
		validator.WithMetrics(m),
		validator.WithProofStore(st),
	)
	relays := relayers.New(reg, st, logs)
	msgr := messenger.New(reg, st, proofs, logs,
		messenger.WithRelay(transactor),
		messenger.WithPricer(optimizer),
		messenger.WithRelayers(relays),
		messenger.WithPublisher(publisher),
		messenger.WithMetrics(m),
	)
	swaps := swap.New(reg, st, logs,
		swap.WithHTLC(transactor),
		swap.WithPublisher(publisher),
		swap.WithMetrics(m),
	)
	orch := orchestrator.New(reg, st, msgr, optimizer, key, logs,
		orchestrator.WithPublisher(publisher),
		orchestrator.WithMetrics(m),
	)
	sweeps = append(sweeps, workers.MessageSweep(msgr), workers.SwapSweep(swaps), workers.ResultSweep(proofs))

	api := handlers.New(handlers.Services{
		Chains:    reg,
		Transfers: orch,
		Proofs:    proofs,
		Gas:       optimizer,
		Swaps:     swaps,
		Messages:  msgr,
		Relayers:  relays,
	}, handlers.NewAuthenticator(cfg.Server.JWTSecret), logs)
	router := workers.Router(api, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}), m, logs)

	confirmer := workers.NewMessageConfirmer(msgr, orch, time.Duration(cfg.Sweep.ConfirmInterval)*time.Second, logs)
	sweeper := workers.NewExpirySweeper(time.Duration(cfg.Sweep.Interval)*time.Second, logs, sweeps...)

	// worker threads:
	// * sample gas prices of every chain
	// * confirm in-transit messages and settle their transfers
	// * expire stale messages and swaps, purge verification results, prune the gas archive
	// * REST API server (stops the others on exit)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workers.Worker_gasPoller(gctx, poller, logs) })
	g.Go(func() error { return ignoreCancel(workers.Worker_confirmMessages(gctx, confirmer)) })
	g.Go(func() error { return ignoreCancel(workers.Worker_expirySweep(gctx, sweeper)) })
	g.Go(func() error {
		return workers.Worker_HTTP(gctx, stop, workers.HTTPConfig{
			Listen:   cfg.Server.Listen,
			UseSSL:   cfg.Server.UseSSL,
			CertFile: cfg.Server.CertFile,
			KeyFile:  cfg.Server.KeyFile,
		}, router, logs)
	})
	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Configuration, logs *zap.SugaredLogger) (store, func(), error) {
	switch strings.ToLower(cfg.Server.Storage) {
	case "memory":
		logs.Warnw("using in-memory storage, state is lost on restart")
		return memstore.New(), func() {}, nil
	case "redis":
		rs := redis.New(cfg.Server.RedisHost, cfg.Server.RedisPort, logs)
		// without persistence do not continue
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return rs, func() { rs.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage %q", cfg.Server.Storage)
}

func relayerKey(hexKey string, logs *zap.SugaredLogger) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		logs.Warnw("no relayer key configured, generated an ephemeral one")
		return crypto.GenerateKey()
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("relayer private key: %w", err)
	}
	return key, nil
}
