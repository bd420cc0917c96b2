package secureops

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/fsutil"
)

// BackupTimeLayout is the timestamp segment of backup file names.
const BackupTimeLayout = "20060102_150405"

// backupName matches <iface>_<YYYYMMDD_HHMMSS>.conf. The interface part may
// itself contain underscores.
var backupName = regexp.MustCompile(`^(.+)_(\d{8}_\d{6})\.conf$`)

// BackupConfig copies the live config of iface to the backup directory and
// returns the backup path. It returns "" and no error when iface has no
// config.
func (o *Ops) BackupConfig(iface string) (string, error) {
	const op = "backup config"
	if err := checkInterface(op, iface); err != nil {
		return "", err
	}
	unlock, err := o.lock(op, iface)
	if err != nil {
		return "", err
	}
	defer unlock()
	return o.backupLocked(iface)
}

func (o *Ops) backupLocked(iface string) (string, error) {
	const op = "backup config"
	src := o.ConfigPath(iface)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		o.log.WithField("interface", iface).Warn("no config to back up")
		return "", nil
	}
	if err := fsutil.EnsureDir(o.backupDir, o.owner); err != nil {
		return "", &core.OpError{Op: op, Interface: iface, Path: o.backupDir, Err: err}
	}
	dst := filepath.Join(o.backupDir, iface+"_"+o.now().Format(BackupTimeLayout)+".conf")
	if err := fsutil.CopyAtomic(src, dst, fsutil.ModePrivate, o.owner); err != nil {
		return "", core.FromOS(op, dst, err)
	}
	o.log.WithFields(logrus.Fields{"interface": iface, "backup": dst}).Info("backed up config")
	return dst, nil
}

// RestoreConfig replaces the live config of iface with backupPath and
// restarts the interface. The current config is backed up first. A failed
// restart fails the whole operation and the copied config is not rolled
// back.
func (o *Ops) RestoreConfig(ctx context.Context, backupPath, iface string) error {
	const op = "restore config"
	if err := checkInterface(op, iface); err != nil {
		return err
	}
	unlock, err := o.lock(op, iface)
	if err != nil {
		return err
	}
	defer unlock()

	// Read first: backing up the current config may reuse the same name
	// when both happen within one second.
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return core.FromOS(op, backupPath, err)
	}
	if _, err := o.backupLocked(iface); err != nil {
		return err
	}
	dst := o.ConfigPath(iface)
	if err := fsutil.WriteAtomic(dst, data, fsutil.ModePrivate, o.owner); err != nil {
		return core.FromOS(op, dst, err)
	}
	o.log.WithFields(logrus.Fields{"interface": iface, "backup": backupPath}).Info("restored config, restarting interface")

	return o.restartLocked(ctx, iface)
}

// ListBackups returns the backups of iface, or of every interface when
// iface is empty, newest first by modification time. A missing or empty
// backup directory yields an empty list.
func (o *Ops) ListBackups(iface string) ([]core.BackupRecord, error) {
	entries, err := os.ReadDir(o.backupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []core.BackupRecord{}, nil
		}
		return nil, core.FromOS("list backups", o.backupDir, err)
	}

	type item struct {
		rec   core.BackupRecord
		mtime time.Time
	}
	items := make([]item, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".conf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name, ts, ok := parseBackupName(e.Name(), info.ModTime())
		if !ok || (iface != "" && name != iface) {
			continue
		}
		items = append(items, item{
			rec: core.BackupRecord{
				Interface: name,
				Path:      filepath.Join(o.backupDir, e.Name()),
				Timestamp: ts,
				Size:      info.Size(),
			},
			mtime: info.ModTime(),
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].mtime.After(items[j].mtime) })
	out := make([]core.BackupRecord, len(items))
	for i, it := range items {
		out[i] = it.rec
	}
	return out, nil
}

// parseBackupName extracts the interface and timestamp from a backup file
// name. Names without a parsable timestamp split on the first underscore
// and use mtime; names without an underscore are not backups.
func parseBackupName(file string, mtime time.Time) (string, time.Time, bool) {
	if m := backupName.FindStringSubmatch(file); m != nil {
		if ts, err := time.ParseInLocation(BackupTimeLayout, m[2], time.Local); err == nil {
			return m[1], ts, true
		}
	}
	name, _, ok := strings.Cut(file, "_")
	if !ok || name == "" {
		return "", time.Time{}, false
	}
	return name, mtime, true
}
