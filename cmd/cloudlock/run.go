package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bobg/cloudlock"
	"github.com/bobg/cloudlock/proc"
)

func newRunCmd(v *viper.Viper, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Contend for the lease and run COMMAND while holding it",
		Long: `Run the renewal loop and the process supervisor.

COMMAND starts once this node has held the lease for start_gap,
is asked to stop (SIGTERM) when the lease nears expiry,
and is killed if the lease is lost.
If COMMAND exits on its own while the lease is held,
cloudlock exits with the same code.

Example:
  cloudlock run --config /etc/cloudlock.yaml -- validator --network=mainnet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Command = args
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runNode(ctx, cfg, newLogger(flags.verbose))
		},
	}

	f := cmd.Flags()
	f.String("holder", "", "this node's identity, unique within the fleet")
	f.String("metrics-addr", "", "serve Prometheus metrics at this address")
	_ = v.BindPFlag("holder", f.Lookup("holder"))
	_ = v.BindPFlag("metrics_addr", f.Lookup("metrics-addr"))

	return cmd
}

func runNode(ctx context.Context, cfg cloudlock.Config, logger *slog.Logger) error {
	logger = logger.With("label", cfg.Label, "holder", cfg.Holder)

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	oracle, closeOracle, err := openOracle(ctx, cfg.Oracle, logger)
	if err != nil {
		return err
	}
	defer closeOracle()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := cloudlock.NewMetrics(reg, cfg.Label)

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	node := cloudlock.NewNode(
		cfg,
		store,
		oracle,
		&proc.Launcher{Logger: logger},
		cloudlock.WithLogger(logger),
		cloudlock.WithMetrics(metrics),
	)

	logger.Info("starting", "store", cfg.Store.Kind, "oracle", cfg.Oracle.Kind, "command", cfg.Command)

	err = node.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("stopped")
		return nil
	}
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()

	return srv
}
