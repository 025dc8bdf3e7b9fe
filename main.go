// tcpscope observes live TCP traffic for a target process by attaching
// kprobes to the kernel TCP path and exporting per-connection metrics over
// Prometheus, without touching the application.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bellistech/tcpscope/internal/collector"
	"github.com/bellistech/tcpscope/internal/config"
	"github.com/bellistech/tcpscope/internal/connections"
	"github.com/bellistech/tcpscope/internal/exporter"
	"github.com/bellistech/tcpscope/internal/tracer"
)

const (
	httpSinkSweepInterval = 15 * time.Second
	httpSinkInactivity    = 30 * time.Second
	httpSinkMaxTrackers   = 4096
)

var flags struct {
	pid         uint32
	ports       []int
	metricsPort int
	interval    int
	debug       bool
	configPath  string
}

var rootCmd = &cobra.Command{
	Use:   "tcpscope",
	Short: "eBPF-based TCP observability agent",
	Long: `tcpscope attaches probes to the kernel TCP path and exports
per-connection traffic metrics for a target process or container.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

func init() {
	rootCmd.Flags().Uint32Var(&flags.pid, "pid", 0, "target PID to monitor (0 = all processes)")
	rootCmd.Flags().IntSliceVar(&flags.ports, "ports", nil, "destination ports to monitor (empty = all)")
	rootCmd.Flags().IntVar(&flags.metricsPort, "metrics-port", 9090, "Prometheus metrics port")
	rootCmd.Flags().IntVar(&flags.interval, "interval", 5, "metrics collection interval in seconds")
	rootCmd.Flags().BoolVar(&flags.debug, "debug", false, "enable debug logging, including probe-side logs")
	rootCmd.Flags().StringVar(&flags.configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	// Flags beat the config file, but only when actually set.
	if cmd.Flags().Changed("pid") {
		cfg.Target.Pid = flags.pid
	}
	if cmd.Flags().Changed("ports") {
		ports := make([]uint16, 0, len(flags.ports))
		for _, p := range flags.ports {
			if p <= 0 || p > 65535 {
				return nil, fmt.Errorf("invalid port %d", p)
			}
			ports = append(ports, uint16(p))
		}
		cfg.Target.Ports = ports
	}
	if cmd.Flags().Changed("metrics-port") {
		cfg.Metrics.Port = flags.metricsPort
	}
	if cmd.Flags().Changed("interval") {
		cfg.Metrics.IntervalSecs = flags.interval
	}
	if flags.debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.EBPFDebug = true
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	return zapCfg.Build()
}

func run(cmd *cobra.Command) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting tcpscope",
		zap.Uint32("target_pid", cfg.Target.Pid),
		zap.Uint16s("target_ports", cfg.Target.Ports),
		zap.Int("metrics_port", cfg.Metrics.Port),
		zap.Duration("interval", cfg.Interval()))

	tr, err := tracer.New(cfg, logger)
	if err != nil {
		logger.Error("failed to start tracer", zap.Error(err))
		return err
	}
	defer tr.Close()
	logger.Info("BPF programs loaded and attached")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := collector.NewMetrics(registry)
	coll := collector.New(tr.Connections(), metrics, logger)

	srv := exporter.New(fmt.Sprintf(":%d", cfg.Metrics.Port), registry, logger)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	if cfg.Metrics.EnableHTTP {
		factory := connections.NewFactory(httpSinkInactivity, httpSinkMaxTrackers, logger)
		var publisher connections.Publisher
		if kp := connections.NewKafkaPublisher(cfg.Kafka); kp != nil {
			publisher = kp
			defer kp.Close()
		}
		// Best effort: the probe that feeds this channel is not complete
		// yet, so a consumer failure should not take the tracer down.
		if err := tr.ConsumeHTTPEvents(factory.HandleEvents); err != nil {
			logger.Warn("http event channel unavailable", zap.Error(err))
		} else {
			go factory.Run(ctx, httpSinkSweepInterval, publisher)
		}
	}

	logger.Info("tcpscope running")
	coll.Run(ctx, cfg.Interval())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
	logger.Info("tcpscope stopped")
	return nil
}
