// Package main implements rpxd, the telemetry fan-out daemon for the
// RPX receiver: it pushes computed signal spectra and service log records
// to browser clients over WebSocket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/WRAN-OEVSV/IEEE802.22/auth"
	"github.com/WRAN-OEVSV/IEEE802.22/config"
	"github.com/WRAN-OEVSV/IEEE802.22/fanout"
	"github.com/WRAN-OEVSV/IEEE802.22/input/iqstream"
	"github.com/WRAN-OEVSV/IEEE802.22/logging"
	"github.com/WRAN-OEVSV/IEEE802.22/metric"
	"github.com/WRAN-OEVSV/IEEE802.22/service"
	"github.com/WRAN-OEVSV/IEEE802.22/spectrum"
	"github.com/WRAN-OEVSV/IEEE802.22/transport"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "rpxd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		fmt.Println("configuration is valid")
		return nil
	}

	logger, bridge := setupLogger(cfg.Logging.Verbosity, cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Info("starting rpxd",
		"version", Version, "build_time", BuildTime, "config_path", cliCfg.ConfigPath)

	return runService(cfg, logger, bridge)
}

// loadConfig loads the file if one was given, then applies CLI overrides.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	var cfg *config.Config
	if cliCfg.ConfigPath != "" {
		loaded, err := config.Load(cliCfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		defaults := config.Default()
		cfg = &defaults
	}

	if cliCfg.Verbosity >= 0 {
		cfg.Logging.Verbosity = cliCfg.Verbosity
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}
	if cliCfg.AuthSecret != "" {
		cfg.Auth.Secret = cliCfg.AuthSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// lateRouter lets the spectrum worker be built before the router exists.
// Broadcasts before installation go nowhere, which matches a service
// with no clients yet.
type lateRouter struct {
	router atomic.Pointer[fanout.Router]
}

func (l *lateRouter) Broadcast(payload string) int {
	if r := l.router.Load(); r != nil {
		return r.Broadcast(payload)
	}
	return 0
}

func runService(cfg *config.Config, logger *slog.Logger, bridge *logging.Bridge) error {
	metrics := metric.NewRegistry()

	// spectral pipeline
	caster := &lateRouter{}
	worker, err := spectrum.NewWorker(spectrum.WorkerConfig{
		Bins:          cfg.Spectrum.Bins,
		CenterHz:      cfg.Spectrum.CenterHz,
		SpanHz:        cfg.Spectrum.SpanHz,
		QueueLowWater: cfg.Spectrum.QueueLowWater,
		QueueCapacity: cfg.Spectrum.QueueCapacity,
		WaitTimeout:   cfg.Spectrum.WaitTimeout.Std(),
	}, caster, logger, spectrum.WithWorkerMetrics(metrics.Core))
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	// service glue and authentication
	var opts []service.Option
	if cfg.Auth.Secret != "" {
		verifier, err := auth.NewVerifier(cfg.Auth.Secret)
		if err != nil {
			return fmt.Errorf("create token verifier: %w", err)
		}
		opts = append(opts, service.WithVerifier(verifier))
	} else {
		logger.Warn("no auth secret configured, all clients are unprivileged")
	}
	svc := service.New(worker, logger, metrics.Core, opts...)

	// transport and router
	server := transport.NewServer(transport.Config{
		Port:         cfg.Server.Port,
		Path:         cfg.Server.Path,
		PollInterval: cfg.Server.PollInterval.Std(),
		PingInterval: cfg.Server.PingInterval.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		ReadLimit:    cfg.Server.ReadLimit,
	}, svc, logger)

	router := fanout.NewRouter(svc.Registry(), server, logger,
		fanout.WithRouterMetrics(metrics.Core))
	caster.router.Store(router)
	svc.AttachRouter(router)
	svc.AttachCloser(server)
	bridge.InstallRouter(router)

	// sample input
	source := iqstream.NewSource(iqstream.Config{
		URL:           cfg.NATS.URL,
		Subject:       cfg.NATS.Subject,
		Name:          cfg.NATS.Name,
		ReconnectWait: cfg.NATS.ReconnectWait.Std(),
	}, worker, logger)

	if err := server.Initialize(); err != nil {
		return fmt.Errorf("initialize transport: %w", err)
	}
	if err := worker.Initialize(); err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	if err := source.Initialize(); err != nil {
		return fmt.Errorf("initialize sample source: %w", err)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics)
	}

	return runWithSignalHandling(cfg, logger, worker, server, source, metricsServer)
}

// runWithSignalHandling starts everything, waits for a signal, then stops
// in reverse order within the configured shutdown budget.
func runWithSignalHandling(
	cfg *config.Config,
	logger *slog.Logger,
	worker *spectrum.Worker,
	server *transport.Server,
	source *iqstream.Source,
	metricsServer *metric.Server,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if metricsServer != nil {
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("metrics endpoint up", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}
	if err := worker.Start(signalCtx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := server.Start(signalCtx); err != nil {
		_ = worker.Stop(time.Second)
		return fmt.Errorf("start transport: %w", err)
	}
	if err := source.Start(signalCtx); err != nil {
		// the service is still useful without live samples
		logger.Error("sample source failed to start, continuing without it", "error", err)
	}

	logger.Info("rpxd started", "ws_port", cfg.Server.Port, "ws_path", cfg.Server.Path)

	<-signalCtx.Done()
	logger.Info("shutdown signal received")

	timeout := cfg.ShutdownTimeout.Std() / 4
	var firstErr error
	for _, stop := range []struct {
		name string
		fn   func(time.Duration) error
	}{
		{"sample source", source.Stop},
		{"transport", server.Stop},
		{"pipeline", worker.Stop},
	} {
		if err := stop.fn(timeout); err != nil {
			logger.Error("component stop failed", "component", stop.name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(timeout); err != nil {
			logger.Error("component stop failed", "component", "metrics server", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	logger.Info("rpxd shutdown complete")
	return firstErr
}
