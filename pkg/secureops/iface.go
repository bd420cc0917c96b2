package secureops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/fsutil"
	"github.com/irctrakz/wgkeeper/pkg/wgconf"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

// RestartInterface runs `wg-quick down` then `wg-quick up` on iface. A
// failure at either step aborts and is returned; nothing is rolled back.
func (o *Ops) RestartInterface(ctx context.Context, iface string) error {
	const op = "restart interface"
	if err := checkInterface(op, iface); err != nil {
		return err
	}
	unlock, err := o.lock(op, iface)
	if err != nil {
		return err
	}
	defer unlock()
	return o.restartLocked(ctx, iface)
}

func (o *Ops) restartLocked(ctx context.Context, iface string) error {
	const op = "restart interface"
	log := o.log.WithField("interface", iface)
	log.Info("restarting interface")

	if _, err := o.runner.Run(ctx, wireguard.Invocation{Cmd: wireguard.CmdQuickDown, Interface: iface}); err != nil {
		log.WithError(err).Error("interface down failed")
		return &core.OpError{Op: op, Interface: iface, Err: err}
	}
	if o.pause > 0 {
		t := time.NewTimer(o.pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return &core.OpError{Op: op, Interface: iface, Err: ctx.Err()}
		case <-t.C:
		}
	}
	if _, err := o.runner.Run(ctx, wireguard.Invocation{Cmd: wireguard.CmdQuickUp, Interface: iface}); err != nil {
		log.WithError(err).Error("interface up failed")
		return &core.OpError{Op: op, Interface: iface, Err: err}
	}
	log.Info("interface restarted")
	return nil
}

// UpdateConfig applies the config at path to iface. When iface is not up
// this degrades to RestartInterface. Otherwise the live config is backed up
// and path is applied with `wg syncconf`, which keeps existing sessions.
// path is not installed as the live config.
func (o *Ops) UpdateConfig(ctx context.Context, iface, path string) error {
	const op = "update config"
	if err := checkInterface(op, iface); err != nil {
		return err
	}
	cfg, err := wgconf.ParseFile(path)
	if err != nil {
		return err
	}

	unlock, err := o.lock(op, iface)
	if err != nil {
		return err
	}
	defer unlock()

	log := o.log.WithFields(logrus.Fields{"interface": iface, "path": path})
	if _, err := o.runner.Run(ctx, wireguard.Invocation{Cmd: wireguard.CmdShow, Interface: iface}); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &core.OpError{Op: op, Interface: iface, Err: err}
		}
		log.WithError(err).Info("interface not active, restarting instead")
		return o.restartLocked(ctx, iface)
	}

	if _, err := o.backupLocked(iface); err != nil {
		return err
	}

	// wg rejects the wg-quick-only keys, so hand it a stripped copy.
	stripped, err := o.writeStripped(iface, cfg)
	if err != nil {
		return err
	}
	defer os.Remove(stripped)

	if _, err := o.runner.Run(ctx, wireguard.Invocation{Cmd: wireguard.CmdSyncConf, Interface: iface, Path: stripped}); err != nil {
		log.WithError(err).Error("syncconf failed")
		return &core.OpError{Op: op, Interface: iface, Path: path, Err: err}
	}
	log.WithField("peers", len(cfg.Peers)).Info("config synced")
	return nil
}

func (o *Ops) writeStripped(iface string, cfg *core.InterfaceConfig) (string, error) {
	abs, err := filepath.Abs(o.configDir)
	if err != nil {
		return "", &core.OpError{Op: "update config", Interface: iface, Err: err}
	}
	path := filepath.Join(abs, "."+iface+".sync.conf")
	if err := fsutil.WriteAtomic(path, []byte(wgconf.RenderStripped(cfg)), fsutil.ModePrivate, o.owner); err != nil {
		return "", core.FromOS("update config", path, err)
	}
	return path, nil
}
