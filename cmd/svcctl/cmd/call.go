package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"svcrpc/executor"
	"svcrpc/node"
	"svcrpc/serviceclient"
)

var callTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call <service> <json-request>",
	Short: "Invoke a service and print the response",
	Long: `Waits for the service to appear, sends the JSON request and prints the
JSON response. A negative --timeout waits for the response without limit.

Example:
  svcctl call add_two_ints '{"a": 2, "b": 3}'`,
	Args: cobra.ExactArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().DurationVarP(&callTimeout, "timeout", "t", executor.Forever, "response timeout")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	service, raw := args[0], json.RawMessage(args[1])
	if !json.Valid(raw) {
		return fmt.Errorf("request is not valid JSON: %s", raw)
	}

	n, err := newNode()
	if err != nil {
		return err
	}
	defer n.Shutdown()

	c, err := serviceclient.New[json.RawMessage, json.RawMessage](service, n)
	if err != nil {
		return err
	}

	resp, err := c.Invoke(cmd.Context(), &raw, callTimeout)
	if err != nil {
		printError("call "+service, err)
		return err
	}
	if resp == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "null")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(*resp))
	return nil
}

// newNode builds a node from the loaded config, shut down when the command
// context ends.
func newNode() (*node.Node, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Node.Name == "svcrpc" {
		cfg.Node.Name = "svcctl"
	}
	return node.FromConfig(cfg)
}

