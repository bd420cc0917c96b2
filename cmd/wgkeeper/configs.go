package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/secureops"
	"github.com/irctrakz/wgkeeper/pkg/wgconf"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and create interface configs",
	}
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigServerCmd(a))
	cmd.AddCommand(newConfigClientCmd(a))
	return cmd
}

// errInvalid is returned after validation problems have been printed.
var errInvalid = errors.New("configuration is invalid")

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a config file and print every problem found",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return core.FromOS("validate config", args[0], err)
			}
			errs, err := wgconf.ValidateText(string(data))
			if err != nil {
				return err
			}
			// The text pass checks each peer on its own.
			if cfg, perr := wgconf.Parse(string(data)); perr == nil {
				errs = append(errs, wgconf.ValidateUniquePeers(cfg)...)
			}
			return reportValidation(cmd, errs)
		},
	}
}

func reportValidation(cmd *cobra.Command, errs []core.ValidationError) error {
	out := cmd.OutOrStdout()
	if len(errs) == 0 {
		fmt.Fprintln(out, "ok")
		return nil
	}
	for _, e := range errs {
		fmt.Fprintln(out, e.String())
	}
	return errInvalid
}

// parsePeerFlag reads PUBLICKEY=IP[,IP...][@ENDPOINT].
func parsePeerFlag(s string) (core.PeerConfig, error) {
	key, rest, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return core.PeerConfig{}, fmt.Errorf("peer %q: want PUBLICKEY=IP[,IP...][@HOST:PORT]", s)
	}
	p := core.PeerConfig{PublicKey: key}
	ips, endpoint, _ := strings.Cut(rest, "@")
	p.AllowedIPs = wgconf.SplitList(ips)
	p.Endpoint = endpoint
	return p, nil
}

// privateKeyOrGenerate returns key, or a freshly generated one when key is
// empty.
func privateKeyOrGenerate(ctx context.Context, o *secureops.Ops, key string) (string, error) {
	if key != "" {
		return key, nil
	}
	return o.GeneratePrivateKey(ctx)
}

func newConfigServerCmd(a *app) *cobra.Command {
	var (
		iface      string
		privateKey string
		addresses  []string
		listenPort int
		peers      []string
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Write <configDir>/<interface>.conf",
		Long: `Write a server config. Without --private-key a new key is generated
and its public key printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops(nil)
			if err != nil {
				return err
			}
			sc := secureops.ServerConfig{Interface: iface, Address: addresses, ListenPort: listenPort}
			for _, raw := range peers {
				p, err := parsePeerFlag(raw)
				if err != nil {
					return err
				}
				sc.Peers = append(sc.Peers, p)
			}
			generated := privateKey == ""
			if sc.PrivateKey, err = privateKeyOrGenerate(cmd.Context(), o, privateKey); err != nil {
				return err
			}

			path, err := o.CreateServerConfig(sc)
			var invalid *core.InvalidConfigError
			if errors.As(err, &invalid) {
				return reportValidation(cmd, invalid.Errors)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			if generated {
				pub, err := o.DerivePublicKey(cmd.Context(), sc.PrivateKey)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "public_key: %s\n", pub)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&iface, "interface", "wg0", "interface name")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "interface private key (generated when empty)")
	cmd.Flags().StringSliceVar(&addresses, "address", nil, "interface address in CIDR notation (repeatable)")
	cmd.Flags().IntVar(&listenPort, "listen-port", 51820, "UDP listen port")
	cmd.Flags().StringArrayVar(&peers, "peer", nil, "peer as PUBLICKEY=IP[,IP...][@HOST:PORT] (repeatable)")
	return cmd
}

func newConfigClientCmd(a *app) *cobra.Command {
	var (
		cc         secureops.ClientConfig
		keepalive  int
		privateKey string
	)
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Write <configDir>/<name>.conf for a client of this server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops(nil)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("keepalive") {
				cc.Keepalive = &keepalive
			}
			if cc.PrivateKey, err = privateKeyOrGenerate(cmd.Context(), o, privateKey); err != nil {
				return err
			}

			path, err := o.CreateClientConfig(cc)
			var invalid *core.InvalidConfigError
			if errors.As(err, &invalid) {
				return reportValidation(cmd, invalid.Errors)
			}
			if err != nil {
				return err
			}
			pub, err := o.DerivePublicKey(cmd.Context(), cc.PrivateKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\npublic_key: %s\n", path, pub)
			return nil
		},
	}
	cmd.Flags().StringVar(&cc.Name, "name", "", "client name, used as file name")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "client private key (generated when empty)")
	cmd.Flags().StringSliceVar(&cc.Address, "address", nil, "client address in CIDR notation (repeatable)")
	cmd.Flags().StringVar(&cc.ServerPublicKey, "server-public-key", "", "server public key")
	cmd.Flags().StringVar(&cc.ServerEndpoint, "endpoint", "", "server endpoint HOST:PORT")
	cmd.Flags().StringSliceVar(&cc.AllowedIPs, "allowed-ips", []string{"0.0.0.0/0"}, "routes sent through the tunnel")
	cmd.Flags().StringSliceVar(&cc.DNS, "dns", nil, "DNS servers")
	cmd.Flags().StringVar(&cc.PresharedKey, "psk", "", "preshared key")
	cmd.Flags().IntVar(&keepalive, "keepalive", secureops.DefaultClientKeepalive, "persistent keepalive in seconds, 0 disables")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("server-public-key")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}
