// Command oraclenode is the process composition root: it loads config,
// builds every collaborator in dependency order, starts the peer-protocol,
// external-API, and metrics listeners, and — on a primary node — the
// listener scheduler, then blocks until SIGINT/SIGTERM.
//
// Construction is sequential with log.Fatalf on any init error, defer-based
// cleanup for every closeable resource, and a signal.Notify/<-sigCh shutdown
// gate.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/megayours/megaforwarder/pkg/apiserver"
	"github.com/megayours/megaforwarder/pkg/audit"
	"github.com/megayours/megaforwarder/pkg/cache"
	"github.com/megayours/megaforwarder/pkg/config"
	"github.com/megayours/megaforwarder/pkg/eventbus"
	"github.com/megayours/megaforwarder/pkg/logging"
	"github.com/megayours/megaforwarder/pkg/metrics"
	"github.com/megayours/megaforwarder/pkg/oracleerr"
	"github.com/megayours/megaforwarder/pkg/peer"
	"github.com/megayours/megaforwarder/pkg/plugin"
	"github.com/megayours/megaforwarder/pkg/ratelimit"
	"github.com/megayours/megaforwarder/pkg/scheduler"
	"github.com/megayours/megaforwarder/pkg/source"
	"github.com/megayours/megaforwarder/pkg/task"
)

func main() {
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("Oracle Node - Startup")
	fmt.Println(strings.Repeat("=", 70))

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.NodeID = cfg.ID
	if cfg.Log.Level != "" {
		logCfg.Level = cfg.Log.Level
	}
	logCfg.FilePath = cfg.Log.FilePath
	logCfg.MaxSizeMB = cfg.Log.MaxSizeMB
	logCfg.MaxBackups = cfg.Log.MaxBackups
	logCfg.MaxAgeDays = cfg.Log.MaxAgeDays
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := buildRegistry()
	if err != nil {
		log.Fatalf("plugin registry init failed: %v", err)
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	cacheStore, err := cache.Factory(cache.Backend(cfg.Cache.Backend), cache.Options{BboltPath: cfg.Cache.BboltPath})
	if err != nil {
		log.Fatalf("cache init failed: %v", err)
	}
	defer cacheStore.Close()

	rateCoordinator, err := ratelimit.Factory(ratelimit.Backend(cfg.RateLimiter.Backend), buildRateLimiterOptions(cfg.RateLimiter))
	if err != nil {
		log.Fatalf("rate limiter init failed: %v", err)
	}
	limiter := ratelimit.NewLimiter(rateCoordinator, time.Second, reg)

	peers := make([]peer.Peer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, peer.Peer{ID: p.ID, PublicKey: p.PublicKey, Address: p.Address})
	}

	peerClient := peer.NewHTTPClient(&http.Client{Timeout: time.Duration(cfg.PeerTimeoutMs) * time.Millisecond})

	// cfg.PeerTimeoutMs is already fully resolved by config.Load (0 there
	// means the operator explicitly configured zero peer tolerance, not
	// "unset") — pass it through as a pointer so NewCoordinator preserves
	// that distinction instead of re-defaulting an explicit zero.
	peerTimeout := time.Duration(cfg.PeerTimeoutMs) * time.Millisecond
	coordinator := task.NewCoordinator(registry, peerClient, task.Config{
		NodeID:                cfg.ID,
		PublicKey:             cfg.PublicKey,
		Peers:                 peers,
		PeerTimeout:           &peerTimeout,
		MinSignaturesRequired: cfg.MinSignaturesRequired,
	}, logger, recorder)

	auditSink, err := audit.Factory(cfg.Audit.PostgresDSN, logger, recorder)
	if err != nil {
		log.Fatalf("audit sink init failed: %v", err)
	}
	defer auditSink.Close()
	coordinator.SetAuditSink(auditSink)

	webhookHandler := func(ctx context.Context, event eventbus.Event) error {
		pluginID := cfg.Webhooks.Helius.PluginID
		if pluginID == "" {
			return oracleerr.New(oracleerr.KindUnsupportedContractType, "no pluginId configured for helius webhook dispatch")
		}
		_, err := coordinator.Run(ctx, pluginID, event)
		return err
	}
	bus, err := eventbus.Factory(cfg.EventBus.Kafka, webhookHandler, logger, recorder)
	if err != nil {
		log.Fatalf("event bus init failed: %v", err)
	}
	defer bus.Close()

	apiServer, err := apiserver.NewServer(apiserver.Dependencies{
		Config: apiserver.Config{
			ListenAddr: fmt.Sprintf(":%d", cfg.APIPort),
			Webhook:    cfg.Webhooks.Helius,
		},
		Coordinator: coordinator,
		Cache:       cacheStore,
		Bus:         bus,
		Sources:     sourceNames(cfg),
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("api server init failed: %v", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		log.Fatalf("api server start failed: %v", err)
	}
	defer apiServer.Stop()

	metricsServer := apiserver.NewMetricsServer(fmt.Sprintf(":%d", cfg.MetricsPort), reg)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	defer metricsServer.Shutdown(context.Background())

	peerServer := peer.NewServer(registry, peer.ServerConfig{
		PrivateKey:       cfg.PrivateKey,
		PrimaryPublicKey: cfg.PrimaryPublicKey,
	}, logger)
	peerMux := http.NewServeMux()
	peerServer.Routes(peerMux)
	peerHTTPServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           peerMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := peerHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("peer server error", zap.Error(err))
		}
	}()
	defer peerHTTPServer.Shutdown(context.Background())

	if cfg.Primary {
		sched := scheduler.New(logger)
		listeners, err := buildListeners(cfg, cacheStore, coordinator, recorder, limiter, logger)
		if err != nil {
			log.Fatalf("listener construction failed: %v", err)
		}
		for _, l := range listeners {
			sched.Register(l)
		}
		sched.Start(ctx)
		logger.Info("listener scheduler started", zap.Int("listenerCount", len(listeners)))
	}

	logger.Info("oracle node started",
		zap.String("id", cfg.ID),
		zap.Bool("primary", cfg.Primary),
		zap.Int("port", cfg.Port),
		zap.Int("apiPort", cfg.APIPort),
		zap.Int("metricsPort", cfg.MetricsPort))
	fmt.Println("Startup complete. Press Ctrl+C to initiate shutdown.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutdown requested, stopping components...")
	cancel()
	fmt.Println("Shutdown complete.")
}

// buildRegistry constructs the process-wide plugin registry. Concrete
// plugin bodies (EVM/Solana forwarders, balance updater, account linker,
// megadata manager, asset registration) are out of scope here — only their
// abstract plugin.Handler contract is — so the registry starts empty. A
// deployment wires its own handlers in by calling plugin.NewRegistry with
// its concrete implementations instead of this function.
func buildRegistry() (*plugin.Registry, error) {
	return plugin.NewRegistry()
}

func buildRateLimiterOptions(cfg config.RateLimiterConfig) ratelimit.Options {
	if cfg.Backend != string(ratelimit.BackendRedis) {
		return ratelimit.Options{}
	}
	return ratelimit.Options{
		Redis: &ratelimit.RedisOptions{
			Addr:      cfg.Redis.Addr,
			DB:        cfg.Redis.DB,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			KeyPrefix: cfg.Redis.KeyPrefix,
		},
	}
}

func sourceNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.RPC))
	for name := range cfg.RPC {
		names = append(names, name)
	}
	return names
}

// buildListeners constructs one source.Adapter per configured RPC source,
// dialing the one illustrative concrete Source this repo ships (EVM over
// go-ethereum). The listener id doubles as the plugin id it dispatches to;
// a source whose id names no registered handler still runs — its dispatch
// logs the registry's not-found error and reports success, so the adapter
// records those events as handled and moves its cursor past them on the
// scheduler's normal cadence, never crashing the process.
func buildListeners(cfg *config.Config, store cache.Store, coordinator *task.Coordinator, recorder *metrics.Recorder, limiter *ratelimit.Limiter, logger *zap.Logger) ([]scheduler.Listener, error) {
	listeners := make([]scheduler.Listener, 0, len(cfg.RPC))
	for name, providers := range cfg.RPC {
		if len(providers) == 0 {
			continue
		}
		url, err := source.ResolveRPCURL(providers[0])
		if err != nil {
			return nil, fmt.Errorf("listener %s: %w", name, err)
		}

		addresses := contractAddresses(cfg.Plugins[name])
		src, err := source.NewEVMSource(url, addresses, limiter, name, providers[0].RateLimitPerSecond)
		if err != nil {
			return nil, fmt.Errorf("listener %s: %w", name, err)
		}

		tuning := cfg.Listeners[name]
		dispatch := func(pluginID string) source.Dispatch {
			return func(ctx context.Context, events []source.Event) error {
				_, err := coordinator.Run(ctx, pluginID, events)
				// No concrete plugin is registered for this listener's id
				// (concrete plugin bodies are out of scope here). Log and
				// let the scheduler reschedule normally rather than
				// escalate — listener-driven tasks have no user to surface
				// an error to.
				if err != nil && oracleerr.IsKind(err, oracleerr.KindNotFound) {
					logger.Warn("listener dispatch mapping missing, no plugin registered for this listener id",
						zap.String("listenerId", pluginID), zap.Error(err))
					return nil
				}
				return err
			}
		}(name)

		adapter := source.New(name, src, store, dispatch, source.Config{
			BlockHeightIncrement: uint64(tuning.BlockHeightIncrement),
			ThrottleOnSuccessMs:  tuning.ThrottleOnSuccessMs,
			BatchSize:            tuning.BatchSize,
			CacheTTL:             time.Duration(tuning.CacheTTLMs) * time.Millisecond,
		}, logger)
		listeners = append(listeners, adapter)
		recorder.SetListenerRunning(name, false)
	}
	return listeners, nil
}

// contractAddresses reads a "contractAddresses" string-slice entry from a
// plugin's free-form settings block.
func contractAddresses(settings map[string]any) []common.Address {
	raw, ok := settings["contractAddresses"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	addresses := make([]common.Address, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			addresses = append(addresses, common.HexToAddress(s))
		}
	}
	return addresses
}
