// Command chatrelayd runs the chat relay daemon: it loads configuration,
// wires the registries, dispatcher, and server together, and runs until a
// termination signal triggers a graceful shutdown.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"chatrelay/internal/audit"
	"chatrelay/internal/channel"
	"chatrelay/internal/config"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/health"
	"chatrelay/internal/logging"
	"chatrelay/internal/metrics"
	"chatrelay/internal/server"
	"chatrelay/internal/session"
	"chatrelay/internal/workerpool"
)

func main() {
	debugFlag := flag.Bool("debug", false, "enable debug logging (overrides CHATRELAY_LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *debugFlag {
		cfg.LogLevel = "debug"
	}
	if os.Getenv("CHATRELAY_WORKER_COUNT") == "" {
		// Mirrors the thread pool's hardware-concurrency sizing in the
		// relay this was distilled from: 2x GOMAXPROCS as a starting point.
		cfg.WorkerCount = 2 * runtime.GOMAXPROCS(0)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogFields(logger)

	pool := workerpool.New(cfg.WorkerCount, cfg.WorkerQueueSize, logger)
	clients := session.NewRegistry(cfg.MaxConnections, logger)

	var auditSink audit.Sink = audit.NoOp()
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		sink, err := audit.NewKafkaSink(brokers, cfg.AuditTopic, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to create kafka audit sink, falling back to no-op")
		} else {
			auditSink = sink
			defer sink.Close()
		}
	}

	channels := channel.NewRegistry(cfg.MaxChannels, clients, pool)
	dispatcher := dispatch.New(clients, channels, auditSink, logger)

	srv := server.New(server.Config{
		Addr:            cfg.Addr,
		MaxConnections:  cfg.MaxConnections,
		MaxChannels:     cfg.MaxChannels,
		WorkerCount:     cfg.WorkerCount,
		WorkerQueueSize: cfg.WorkerQueueSize,
		GracePeriod:     cfg.GracePeriod,
	}, logger, dispatcher, clients, channels, pool)

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	monitor := health.New(logger, clients, channels, pool)
	stopHealth := make(chan struct{})
	go monitor.Run(stopHealth, cfg.HealthInterval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", monitor.Handler())
	metricsServer := &http.Server{
		Addr:        cfg.MetricsAddr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("received shutdown signal")
	close(stopHealth)
	metricsServer.Close()
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}
