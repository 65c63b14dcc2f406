package command

// root.go defines the root command for the stream-cli application.
// set up the global flags here.

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var gatewayURL string // Global flag for the gateway base URL

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stream-cli",
	Short: "stream-cli - inspect the trade gateway price stream",
	Long: `stream-cli is a small tool for working with the trade gateway's streaming fan-out:
- Watch the live stream for every reference id or a single one
- Run a mock broker endpoint that emits encoded price frames for local testing

Use "stream-cli command --help" to see all available commands.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "ws://localhost:8080", "gateway base URL (ws:// or wss://)")
}
