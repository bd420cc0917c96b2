// Command wgkeeper manages WireGuard interface configs, keys and backups on
// a host and monitors the live state of its interfaces.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/irctrakz/wgkeeper/pkg/config"
	"github.com/irctrakz/wgkeeper/pkg/fsutil"
	"github.com/irctrakz/wgkeeper/pkg/keys"
	"github.com/irctrakz/wgkeeper/pkg/logging"
	"github.com/irctrakz/wgkeeper/pkg/metrics"
	"github.com/irctrakz/wgkeeper/pkg/secureops"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

var version = "dev"

// app carries what every subcommand needs once the root has loaded the
// configuration.
type app struct {
	cfgFile string
	envFile string
	debug   bool

	cfg   *config.Config
	owner *fsutil.Ownership

	// runner overrides the configured exec runner in tests.
	runner wireguard.Runner
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "wgkeeper",
		Short:         "Manage WireGuard configs, keys and backups and monitor interface state",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (.yaml, .yml or .json)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "env file to load before WGKEEPER_* variables are read (default .env)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(newKeysCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newBackupCmd(a))
	root.AddCommand(newIfaceCmd(a))
	root.AddCommand(newMonitorCmd(a))
	root.AddCommand(newStatusCmd(a))
	return root
}

// load builds the configuration: defaults, then the config file, then the
// env file and the environment.
func (a *app) load() error {
	cfg := config.DefaultConfig()
	if a.cfgFile != "" {
		if err := config.LoadFromFile(a.cfgFile, cfg); err != nil {
			return err
		}
	}
	var envFiles []string
	if a.envFile != "" {
		envFiles = append(envFiles, a.envFile)
	}
	loaded, err := config.LoadDotEnv(envFiles...)
	if err != nil {
		return err
	}
	config.LoadFromEnv(cfg)
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}
	if len(loaded) > 0 {
		logging.Debugf("loaded env files: %v", loaded)
	}

	owner, err := cfg.Ownership()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg
	a.owner = owner
	return nil
}

func (a *app) toolRunner() wireguard.Runner {
	if a.runner != nil {
		return a.runner
	}
	return a.cfg.Runner()
}

// ops builds the privileged operations. m may be nil.
func (a *app) ops(m *metrics.Metrics) (*secureops.Ops, error) {
	return secureops.New(secureops.Options{
		ConfigDir:    a.cfg.Paths.ConfigDir,
		BackupDir:    a.cfg.Paths.BackupDir,
		Owner:        a.owner,
		Runner:       m.InstrumentRunner(a.toolRunner()),
		RestartPause: a.cfg.RestartPause(),
		Metrics:      m,
	})
}

// keyManager stores keys in the key directory and derives public keys with
// `wg pubkey`. With localFallback a failed tool is replaced by in-process
// derivation.
func (a *app) keyManager(localFallback bool) *keys.Manager {
	var d keys.Deriver = keys.ToolDeriver{Runner: a.toolRunner()}
	if localFallback {
		d = keys.FallbackDeriver{Primary: d}
	}
	return keys.NewManager(a.cfg.Paths.KeyDir, a.owner, d)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
