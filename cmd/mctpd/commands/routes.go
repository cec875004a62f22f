package commands

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"avaneesh/mctp-go/pkg/config"
	"avaneesh/mctp-go/pkg/packet"
	"avaneesh/mctp-go/pkg/routing"
)

type routesOptions struct {
	*options
	store string
}

func newRoutesCmd(opts *options) *cobra.Command {
	ro := &routesOptions{options: opts}

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Manage the persistent route store",
		Long: `Manage routes in the BoltDB route store loaded by 'mctpd run'.
Routes reference buses by name. EID 0 holds the default route.

Examples:
  mctpd routes list
  mctpd routes add 9 i2c0 1d
  mctpd routes del 9
  mctpd routes import /etc/mctpd/routes.toml`,
	}
	cmd.PersistentFlags().StringVar(&ro.store, "store", "",
		"route store path (defaults to routes.store from the config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withStore(func(s *routing.Store) error {
				routes, err := s.List()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "EID\tBUS\tADDR")
				for _, r := range routes {
					eid := r.EID.String()
					if r.IsDefault() {
						eid = "default"
					}
					addr := r.Addr
					if addr == "" {
						addr = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", eid, r.Bus, addr)
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add EID BUS [ADDR]",
		Short: "Add or replace a route",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			eid, err := parseEID(args[0])
			if err != nil {
				return err
			}
			r := routing.StoredRoute{EID: eid, Bus: args[1]}
			if len(args) == 3 {
				r.Addr = args[2]
			}
			return ro.withStore(func(s *routing.Store) error {
				if err := s.Put(r); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "route %s via %s added\n", r.EID, r.Bus)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "del EID",
		Short: "Delete a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eid, err := parseEID(args[0])
			if err != nil {
				return err
			}
			return ro.withStore(func(s *routing.Store) error {
				if err := s.Delete(eid); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "route %s deleted\n", eid)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Import routes from a TOML route file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := routing.LoadStatic(args[0])
			if err != nil {
				return err
			}
			return ro.withStore(func(s *routing.Store) error {
				for _, r := range f.Routes {
					if err := s.Put(r); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d routes imported\n", len(f.Routes))
				return nil
			})
		},
	})

	return cmd
}

// withStore opens the route store for the duration of fn
func (ro *routesOptions) withStore(fn func(*routing.Store) error) error {
	path := ro.store
	if path == "" {
		cfg, err := config.Load(ro.configFile)
		if err != nil {
			return err
		}
		path = cfg.Routes.Store
	}
	if path == "" {
		return fmt.Errorf("no route store configured (use --store or routes.store)")
	}

	s, err := routing.OpenStore(path)
	if err != nil {
		return fmt.Errorf("failed to open route store %s: %w", path, err)
	}
	defer s.Close()
	return fn(s)
}

// parseEID accepts decimal or 0x prefixed hex
func parseEID(s string) (packet.EID, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid EID %q", s)
	}
	return packet.EID(v), nil
}
