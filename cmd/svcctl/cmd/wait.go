package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"svcrpc/executor"
	"svcrpc/serviceclient"
)

var waitTimeout time.Duration

var waitCmd = &cobra.Command{
	Use:   "wait <service>",
	Short: "Block until a service is available",
	Long: `Exits 0 once at least one instance of the service is registered, or
non-zero when --timeout passes first. A negative --timeout waits without limit.`,
	Args: cobra.ExactArgs(1),
	RunE: runWait,
}

func init() {
	waitCmd.Flags().DurationVarP(&waitTimeout, "timeout", "t", executor.Forever, "how long to wait")
	rootCmd.AddCommand(waitCmd)
}

func runWait(cmd *cobra.Command, args []string) error {
	n, err := newNode()
	if err != nil {
		return err
	}
	defer n.Shutdown()

	c, err := serviceclient.New[json.RawMessage, json.RawMessage](args[0], n)
	if err != nil {
		return err
	}
	if !c.WaitForService(cmd.Context(), waitTimeout) {
		return fmt.Errorf("service %s not available", c.ServiceName())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "service %s is available\n", c.ServiceName())
	return nil
}
