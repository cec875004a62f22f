package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"avaneesh/mctp-go/pkg/config"
	"avaneesh/mctp-go/pkg/mctp"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the MCTP endpoint",
		Long: `Open every configured bus, load routes and serve until interrupted.

Examples:
  mctpd run -c /etc/mctpd/mctpd.yml
  MCTPD_LOG_LEVEL=debug mctpd run -c mctpd.yml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			if err := mctp.InitLogging(cfg.Log); err != nil {
				return fmt.Errorf("failed to init logging: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ep, err := mctp.NewEndpoint(ctx, cfg)
			if err != nil {
				return err
			}
			defer ep.Close()

			return ep.Run(ctx)
		},
	}
}
