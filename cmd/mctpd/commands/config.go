package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"avaneesh/mctp-go/pkg/config"
)

func newGenConfigCmd() *cobra.Command {
	var (
		output  string
		replace bool
	)

	cmd := &cobra.Command{
		Use:   "gen-config",
		Short: "Generate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if output == "" {
				return cfg.WriteYAML(cmd.OutOrStdout())
			}
			if _, err := os.Stat(output); err == nil && !replace {
				return fmt.Errorf("%s already exists (use --replace)", output)
			}
			if err := cfg.SaveYAML(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (stdout when empty)")
	cmd.Flags().BoolVarP(&replace, "replace", "r", false, "overwrite an existing file")
	return cmd
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Load the configuration with defaults and environment overrides applied
and report whether it is valid.

Examples:
  mctpd validate -c /etc/mctpd/mctpd.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("INVALID: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VALID: EID %d, MTU %d, %d bus(es)\n",
				cfg.Node.EID, cfg.Node.MTU, len(cfg.Buses))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mctpd %s\n", Version)
		},
	}
}
