package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"

	"github.com/davidbalbert/eigrpd/api"
	"github.com/davidbalbert/eigrpd/events"
	"github.com/spf13/cobra"
)

var socketPath string

// run connects to eigrpd and calls f with output going through a pager.
func run(f func(ctx context.Context, client *api.Client, w io.Writer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		client, err := api.NewClient(socketPath)
		if err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}
		defer client.Close()

		p := newPager(os.Stdin, cmd.OutOrStdout())
		defer p.Close()

		return f(ctx, client, p)
	}
}

func writeLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s\n", l); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "eigrpc",
		Short:         "Inspect and control eigrpd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&socketPath, "socket", "s", api.DefaultSocket, "path to eigrpd socket")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show eigrpd version",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, client *api.Client, w io.Writer) error {
			version, err := client.GetVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "v%s\n", version)
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "interfaces",
		Short: "Show EIGRP interfaces",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, client *api.Client, w io.Writer) error {
			ifaces, err := client.GetInterfaces(ctx)
			if err != nil {
				return err
			}
			table, err := interfaceTable(ifaces)
			if err != nil {
				return err
			}
			return writeLines(w, table)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "neighbors",
		Short: "Show EIGRP neighbors",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, client *api.Client, w io.Writer) error {
			ns, err := client.GetNeighbors(ctx)
			if err != nil {
				return err
			}
			table, err := neighborTable(ns)
			if err != nil {
				return err
			}
			return writeLines(w, table)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "topology",
		Short: "Show the topology table",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, client *api.Client, w io.Writer) error {
			top, err := client.GetTopology(ctx)
			if err != nil {
				return err
			}
			return writeLines(w, topologyLines(top))
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Stream routing table changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			client, err := api.NewClient(socketPath)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			w := cmd.OutOrStdout()
			err = client.WatchRoutes(ctx, func(e events.RouteEvent) error {
				_, err := fmt.Fprintln(w, formatEvent(e))
				return err
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "reset <interface> <neighbor>",
		Short: "Reset an EIGRP neighbor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := netip.ParseAddr(args[1])
			if err != nil {
				return fmt.Errorf("invalid neighbor address: %w", err)
			}

			return run(func(ctx context.Context, client *api.Client, w io.Writer) error {
				return client.ResetNeighbor(ctx, args[0], addr)
			})(cmd, args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "shutdown",
		Short: "Shut down eigrpd",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, client *api.Client, w io.Writer) error {
			return client.Shutdown(ctx)
		}),
	})

	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "eigrpc: %v\n", err)
		os.Exit(1)
	}
}
