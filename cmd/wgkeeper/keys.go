package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/irctrakz/wgkeeper/pkg/keys"
)

func newKeysCmd(a *app) *cobra.Command {
	var localFallback bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate, show and delete key pairs",
	}
	cmd.PersistentFlags().BoolVar(&localFallback, "local-fallback", false, "derive public keys in process when wg pubkey fails")
	km := func() *keys.Manager { return a.keyManager(localFallback) }
	cmd.AddCommand(newKeysGenerateCmd(km))
	cmd.AddCommand(newKeysShowCmd(km))
	cmd.AddCommand(newKeysDeleteCmd(km))
	cmd.AddCommand(newKeysPSKCmd(a))
	return cmd
}

func newKeysGenerateCmd(keyManager func() *keys.Manager) *cobra.Command {
	var save string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key pair",
		Long: `Generate a key pair. With --save NAME the pair is written to
<keyDir>/NAME.key (0600) and <keyDir>/NAME.pub (0644) and only the public
key is printed; otherwise both halves are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			km := keyManager()
			kp, err := km.Generate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if save == "" {
				fmt.Fprintf(out, "private_key: %s\npublic_key:  %s\n", kp.PrivateKey, kp.PublicKey)
				return nil
			}
			privPath, pubPath, err := km.Save(save, kp)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "public_key: %s\nprivate:    %s\npublic:     %s\n", kp.PublicKey, privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "store the pair under this name")
	return cmd
}

func newKeysShowCmd(keyManager func() *keys.Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print the public key of a stored pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := keyManager().Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kp.PublicKey)
			return nil
		},
	}
}

func newKeysDeleteCmd(keyManager func() *keys.Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Shred and remove a stored pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return keyManager().Delete(args[0])
		},
	}
}

func newKeysPSKCmd(a *app) *cobra.Command {
	var save string
	cmd := &cobra.Command{
		Use:   "psk",
		Short: "Generate a preshared key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops(nil)
			if err != nil {
				return err
			}
			psk, err := o.GeneratePresharedKey(cmd.Context())
			if err != nil {
				return err
			}
			if save == "" {
				fmt.Fprintln(cmd.OutOrStdout(), psk)
				return nil
			}
			path, err := o.SaveKey(psk, save, true)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "write the key to this file name in the config directory instead of printing it")
	return cmd
}
