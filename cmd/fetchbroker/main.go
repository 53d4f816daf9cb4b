// Command fetchbroker runs the content-fetching RPC service: it warms the
// proxy map with one synchronous validation round, then launches the
// Refresh Scheduler and the RPC server until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"fetchbroker/internal/browserpool"
	"fetchbroker/internal/config"
	"fetchbroker/internal/dispatcher"
	"fetchbroker/internal/rpcserver"
	"fetchbroker/internal/scheduler"
	"fetchbroker/internal/sourcelists"
	"fetchbroker/internal/validator"
	"fetchbroker/pkg/logger"
	"fetchbroker/pkg/metrics"
	"fetchbroker/pkg/useragent"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the optional tunables override file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logCfg := logger.DefaultConfig()
	logCfg.Level = *logLevel
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		log.Warn("config watcher unavailable, using built-in defaults", zap.Error(err))
	}
	tunables := config.Default()
	if watcher != nil {
		tunables = watcher.Get()
	}

	collector := metrics.NewCollector()
	defer collector.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("scraping initial user agent list")
	agents := useragent.NewStore(sourcelists.ScrapeUserAgents(sourcelists.UserAgentListURLs))
	log.Info("user agent store ready", zap.Int("count", agents.Len()))

	proxies := validator.NewValidProxyMap()

	log.Info("running initial validation round to warm the proxy map")
	warmup := validator.New(tunables, tunables.MaxValidationInstances, metrics.NewProxyHooks(collector))
	proxies.Replace(warmup.Run(ctx))
	warmup.Close()

	servingPool := browserpool.New(browserpool.Config{
		MaxSize:     tunables.ServingPoolSize,
		IdleTimeout: tunables.ServingPoolIdleTimeout,
		Headless:    true,
		NavTimeout:  tunables.NavigationTimeout,
	})

	disp := dispatcher.New(servingPool, proxies, agents, tunables, collector)
	sched := scheduler.New(tunables, proxies, collector)
	server := rpcserver.New(disp, proxies, servingPool, collector, tunables)

	go sched.Run(ctx)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("rpc server exited", zap.Error(err))
		}
	}

	cancel()
	servingPool.Shutdown()
	log.Info("fetchbroker shut down cleanly")
}
