package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"svcrpc/logging"
	"svcrpc/node"
)

var listCmd = &cobra.Command{
	Use:   "list <service>",
	Short: "Show the registered instances of a service",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	reg, err := node.NewRegistry(cfg.Registry, logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	instances, err := reg.Discover(ctx, args[0])
	if err != nil {
		printError("discover "+args[0], err)
		return err
	}
	if len(instances) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no instances of %s\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tWEIGHT\tVERSION")
	for _, inst := range instances {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", inst.ID, inst.Addr, inst.Weight, inst.Version)
	}
	return w.Flush()
}
