package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tranvictor/txcart"
	"github.com/tranvictor/txcart/internal/config"
)

// app is what every subcommand works on, opened by the root pre-run
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg        *config.Config
	cart       *txcart.Cart
	metrics    *txcart.Metrics
	registry   *prometheus.Registry
	closeStore func() error
	server     *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "txcart",
		Short: "Queue, execute and track staking transactions",
		Long: `txcart keeps a persistent queue of staking transactions, runs them in
dependency order from a local key and resumes tracking after a restart.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./txcart.yaml or $HOME/.txcart.yaml)")
	flags.String("rpc-url", "", "Ethereum JSON-RPC url")
	flags.String("store", "", "snapshot backend: memory, file or redis")
	flags.String("prefix", "", "snapshot key prefix, one cart per prefix")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	_ = a.v.BindPFlag("rpc_url", flags.Lookup("rpc-url"))
	_ = a.v.BindPFlag("store.backend", flags.Lookup("store"))
	_ = a.v.BindPFlag("store.prefix", flags.Lookup("prefix"))
	_ = a.v.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))

	cmd.AddCommand(
		newQueueCmd(a),
		newAddCmd(a),
		newRemoveCmd(a),
		newClearCmd(a),
		newExecuteCmd(a),
		newResumeCmd(a),
		newBatchCmd(a),
	)
	return cmd
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	snapshots, closeStore, err := cfg.SnapshotStore(ctx)
	if err != nil {
		return fmt.Errorf("couldn't open %s store: %w", cfg.Store.Backend, err)
	}
	a.closeStore = closeStore

	a.registry = prometheus.NewRegistry()
	a.metrics = txcart.NewMetrics(a.registry)

	a.cart, err = txcart.NewCart(ctx,
		txcart.WithSnapshotStore(snapshots),
		txcart.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logger.Fields{
				"addr":  addr,
				"error": err,
			}).Error("metrics server stopped")
		}
	}()
}

func (a *app) close() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.closeStore != nil {
		errs = append(errs, a.closeStore())
	}
	return errors.Join(errs...)
}
