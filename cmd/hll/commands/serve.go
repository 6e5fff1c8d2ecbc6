package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hll.lopezb.com/internal/server"
)

const metricsReadHeaderTimeout = 5 * time.Second

func newServeCommand(rf *rootFlags) *cobra.Command {
	var addr, metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sketch store over the Redis protocol",
		Long: `serve loads the snapshot file and answers HLL.ADD, HLL.COUNT and the
other sketch commands on a TCP port using the Redis protocol, so redis-cli
and Redis client libraries work unchanged.

The store is snapshotted every server.save_interval when it changed, on SAVE
and BGSAVE, and once more on SIGINT or SIGTERM after clients drain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := rf.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				e.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("metrics-addr") {
				e.cfg.Server.MetricsAddr = metricsAddr
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}

			sc := e.cfg.Server
			srv := server.New(server.Config{
				MaxConnections:  sc.MaxConnections,
				IdleTimeout:     sc.IdleTimeout,
				ShutdownTimeout: sc.ShutdownTimeout,
				SaveInterval:    sc.SaveInterval,
				Snapshot:        func() error { return e.saveStore(st) },
				LgK:             e.cfg.Sketch.LgK,
				TargetType:      e.cfg.TargetType(),
				NumStdDev:       e.cfg.Estimate.NumStdDev,
				Compact:         e.cfg.Store.Compact,
			}, st, e.logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var lc net.ListenConfig
			ln, err := lc.Listen(ctx, "tcp", sc.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", sc.Addr, err)
			}

			if sc.MetricsAddr != "" {
				bound, closeMetrics, err := serveMetrics(ctx, e, sc.MetricsAddr, srv.MetricsHandler())
				if err != nil {
					_ = ln.Close()
					return err
				}
				defer closeMetrics()
				fmt.Fprintf(e.out, "metrics on http://%s/metrics\n", bound)
			}

			fmt.Fprintf(e.out, "listening on %s\n", ln.Addr())
			return srv.Serve(ctx, ln)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides server.metrics_addr)")
	return cmd
}

// serveMetrics starts the HTTP listener for /metrics. It returns the bound
// address and a function that shuts the listener down.
func serveMetrics(ctx context.Context, e *env, addr string, h http.Handler) (net.Addr, func(), error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout}

	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	e.logger.Info("metrics listening", "address", ln.Addr().String())

	return ln.Addr(), func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsReadHeaderTimeout)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			e.logger.Warn("metrics shutdown failed", "error", err)
		}
	}, nil
}
