package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/solarmap/internal/api"
	"github.com/sells-group/solarmap/internal/config"
	"github.com/sells-group/solarmap/internal/monitoring"
)

const (
	shutdownTimeout = 10 * time.Second
	reapInterval    = time.Minute
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the estimate API for map views",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		return runServe(ctx, cfg, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

func newAPIServer(ctx context.Context, c *config.Config) *api.Server {
	stats := monitoring.NewCollector()
	factory := newPipelineFactory(c, newEstimateClient(c), stats)
	return api.NewServer(ctx, factory, stats, api.Options{
		AllowedOrigins: c.Server.AllowedOrigins,
		EditRate:       c.Server.EditRatePerSec,
		EditBurst:      c.Server.EditBurst,
		IdleTimeout:    time.Duration(c.Server.SessionIdleMinutes) * time.Minute,
	})
}

// runServe serves the API and reaps idle sessions until ctx is cancelled.
func runServe(ctx context.Context, c *config.Config, port int) error {
	srv := newAPIServer(ctx, c)
	defer srv.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return startServer(gctx, srv.Handler(), port)
	})
	g.Go(func() error {
		return srv.RunReaper(gctx, reapInterval)
	})
	return g.Wait()
}

// startServer listens on port until ctx is cancelled, then shuts down
// gracefully. Request contexts derive from ctx so open event streams end on
// shutdown.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}
