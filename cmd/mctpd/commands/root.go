// Package commands implements the mctpd CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags
var Version = "0.1.0"

// options holds the global flags
type options struct {
	configFile string
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "mctpd",
		Short: "mctpd - MCTP endpoint and bridge daemon",
		Long: `mctpd runs an MCTP endpoint over serial, UDP, TCP and QUIC bindings.
It reassembles inbound messages, dispatches local ones to registered
handlers and optionally bridges messages between buses.

Routes come from a static TOML file and a persistent route store that
the routes subcommands manage.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"config file path (defaults and MCTPD_* environment only when empty)")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newRoutesCmd(opts))
	rootCmd.AddCommand(newGenConfigCmd())
	rootCmd.AddCommand(newValidateCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
