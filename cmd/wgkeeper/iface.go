package main

import (
	"github.com/spf13/cobra"
)

func newIfaceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iface",
		Short: "Restart interfaces and apply configs to them",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "restart IFACE",
		Short: "Run wg-quick down and up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops(nil)
			if err != nil {
				return err
			}
			return o.RestartInterface(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sync IFACE [PATH]",
		Short: "Apply a config to a running interface, restarting it when it is down",
		Long: `Apply PATH (default: the live config of IFACE) with wg syncconf, which
keeps existing sessions. An interface that is not up is restarted instead.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops(nil)
			if err != nil {
				return err
			}
			path := o.ConfigPath(args[0])
			if len(args) == 2 {
				path = args[1]
			}
			return o.UpdateConfig(cmd.Context(), args[0], path)
		},
	})
	return cmd
}
