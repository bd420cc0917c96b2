package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/irctrakz/wgkeeper/pkg/config"
	"github.com/irctrakz/wgkeeper/pkg/logging"
	"github.com/irctrakz/wgkeeper/pkg/metrics"
	"github.com/irctrakz/wgkeeper/pkg/monitor"
	"github.com/irctrakz/wgkeeper/pkg/wgconf"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status IFACE",
		Short: "Print the last status written by the monitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !wireguard.ValidInterfaceName(args[0]) {
				return fmt.Errorf("invalid interface name %q", args[0])
			}
			snap, err := monitor.ReadStatus(monitor.StatusPath(a.cfg.Paths.StatusDir, args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
}

func newMonitorCmd(a *app) *cobra.Command {
	var (
		userspace bool
		mtu       int
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll the configured interfaces and serve /metrics and /health",
		Long: `Poll every configured interface, write <statusDir>/<iface>_status.json
on each successful poll and serve Prometheus metrics on /metrics and a
health summary on /health.

With --userspace the interfaces are brought up inside this process with
wireguard-go from <configDir>/<iface>.conf instead of being read from the
kernel. The standard UAPI socket is served so wg and wgctrl see them too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runMonitor(ctx, userspace, mtu)
		},
	}
	cmd.Flags().BoolVar(&userspace, "userspace", false, "run the interfaces in process with wireguard-go")
	cmd.Flags().IntVar(&mtu, "mtu", wireguard.DefaultMTU, "MTU of userspace interfaces")
	return cmd
}

// runMonitor runs until ctx is done, then stops the monitors, giving an
// in-flight poll the configured stop timeout to finish.
func (a *app) runMonitor(ctx context.Context, userspace bool, mtu int) error {
	cfg := a.cfg
	if len(cfg.Monitor.Interfaces) == 0 {
		return errors.New("no interfaces configured for monitoring")
	}
	log := logging.Component("monitor-cmd")

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	// Polls get their own context: a signal should let a running poll
	// finish, so it is only cancelled when Stop times out.
	pollCtx, cancelPolls := context.WithCancel(context.Background())
	defer cancelPolls()

	sources, cleanup, err := a.sources(pollCtx, m, userspace, mtu)
	if err != nil {
		return err
	}
	defer cleanup()

	health := metrics.NewHealthChecker("wgkeeper", version)
	monitors := make([]*monitor.Monitor, 0, len(cfg.Monitor.Interfaces))
	for _, iface := range cfg.Monitor.Interfaces {
		mon, err := monitor.New(monitor.Options{
			Interface:   iface,
			Source:      sources[iface],
			StatusDir:   cfg.Paths.StatusDir,
			Interval:    cfg.Interval(),
			AdminSubnet: cfg.Monitor.AdminSubnet,
			UserSubnet:  cfg.Monitor.UserSubnet,
			Owner:       a.owner,
			Metrics:     m,
		})
		if err != nil {
			return err
		}
		health.AddCheck("poll_"+iface, metrics.FreshnessCheck(mon.LastSuccess, 3*cfg.Interval()))
		monitors = append(monitors, mon)
	}
	group := monitor.NewGroup(monitors...)

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		mux.Handle("/health", health)
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.WithField("addr", cfg.Metrics.Listen).Info("serving /metrics and /health")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- group.Run(pollCtx) }()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if !group.Stop(cfg.StopTimeout()) {
		cancelPolls()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout())
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return <-runErr
}

// sources returns one state source per monitored interface and a cleanup
// func that releases them.
func (a *app) sources(ctx context.Context, m *metrics.Metrics, userspace bool, mtu int) (map[string]wireguard.Source, func(), error) {
	cfg := a.cfg
	out := make(map[string]wireguard.Source, len(cfg.Monitor.Interfaces))

	if userspace {
		uapiCtx, cancel := context.WithCancel(ctx)
		eg, egCtx := errgroup.WithContext(uapiCtx)
		var devices []*wireguard.Userspace
		cleanup := func() {
			cancel()
			for _, d := range devices {
				d.Close()
			}
		}
		for _, iface := range cfg.Monitor.Interfaces {
			ifcfg, err := wgconf.ParseFile(monitorConfigPath(cfg, iface))
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			dev, err := wireguard.StartUserspace(iface, ifcfg, mtu)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			devices = append(devices, dev)
			eg.Go(func() error { return dev.ServeUAPI(egCtx) })
			out[iface] = dev
		}
		return out, func() {
			cleanup()
			if err := eg.Wait(); err != nil {
				logging.Component("monitor-cmd").WithError(err).Warn("uapi server stopped with error")
			}
		}, nil
	}

	switch cfg.Monitor.Backend {
	case config.BackendWgctrl:
		cs, err := wireguard.NewClientSource()
		if err != nil {
			return nil, nil, err
		}
		for _, iface := range cfg.Monitor.Interfaces {
			out[iface] = cs
		}
		return out, func() { cs.Close() }, nil
	default:
		ts := &wireguard.ToolSource{Runner: m.InstrumentRunner(a.toolRunner())}
		for _, iface := range cfg.Monitor.Interfaces {
			out[iface] = ts
		}
		return out, func() {}, nil
	}
}

func monitorConfigPath(cfg *config.Config, iface string) string {
	return filepath.Join(cfg.Paths.ConfigDir, iface+".conf")
}
