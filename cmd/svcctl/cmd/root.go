// Package cmd implements the svcctl command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"svcrpc/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "svcctl",
	Short: "Host and call svcrpc services",
	Long: `svcctl hosts demo services and calls services registered in etcd.

Commands:
  serve  - host add_two_ints and echo
  call   - invoke a service with a JSON request
  wait   - block until a service is available
  list   - show the registered instances of a service`,
	SilenceUsage: true,
}

// Execute runs the command line. SIGINT and SIGTERM cancel the command
// context, which interrupts waits and calls.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, .toml or .yaml (default: built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads --config, or the defaults when it is unset, and applies
// --verbose.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return nil, err
		}
	}
	if verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Format = "console"
	}
	return cfg, nil
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
}
