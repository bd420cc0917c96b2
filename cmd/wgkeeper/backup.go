package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore config backups",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create IFACE",
		Short: "Copy the live config of IFACE to the backup directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops(nil)
			if err != nil {
				return err
			}
			path, err := o.BackupConfig(args[0])
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no config, nothing backed up\n", args[0])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	var asJSON bool
	list := &cobra.Command{
		Use:   "list [IFACE]",
		Short: "List backups, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops(nil)
			if err != nil {
				return err
			}
			iface := ""
			if len(args) == 1 {
				iface = args[0]
			}
			records, err := o.ListBackups(iface)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INTERFACE\tTIMESTAMP\tSIZE\tPATH")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Interface, r.Timestamp.Format(time.DateTime), r.Size, r.Path)
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "restore PATH IFACE",
		Short: "Install a backup as the live config of IFACE and restart it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops(nil)
			if err != nil {
				return err
			}
			return o.RestoreConfig(cmd.Context(), args[0], args[1])
		},
	})
	return cmd
}
