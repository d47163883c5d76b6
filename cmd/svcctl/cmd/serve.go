package cmd

import (
	"errors"
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"svcrpc/internal/demo"
	"svcrpc/logging"
	"svcrpc/middleware"
	"svcrpc/node"
	"svcrpc/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the demo services",
	Long: `Hosts add_two_ints and echo on server.listen and registers them in the
configured registry until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg, err := node.NewRegistry(cfg.Registry, logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	svr := server.NewServer(
		server.WithLogger(logger),
		server.WithTTL(cfg.Registry.TTL),
		server.WithWeight(cfg.Server.Weight),
	)
	svr.Use(middleware.LoggingMiddleware(logger))
	if cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.Burst))
	}
	if d := cfg.Server.HandleTimeout.Duration; d > 0 {
		svr.Use(middleware.TimeoutMiddleware(d))
	}
	if err := demo.Register(svr); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- svr.Serve("tcp", cfg.Server.Listen, cfg.Server.Advertise, reg)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			printError("serve", err)
			return err
		}
		return nil
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down", zap.String("listen", cfg.Server.Listen))
	return svr.Shutdown(5 * time.Second)
}
