// Package secureops is the privileged boundary of wgkeeper. Every mutating
// filesystem action goes through fsutil's temp-file-then-rename writes with
// mode and ownership set before and after the rename, and every process
// action goes through an allow-listed wireguard.Runner.
//
// File writes are safe to retry. Restarts and resyncs are not: check the
// interface state before retrying one that failed.
package secureops

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/fsutil"
	"github.com/irctrakz/wgkeeper/pkg/logging"
	"github.com/irctrakz/wgkeeper/pkg/metrics"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

// DefaultRestartPause is the pause between `wg-quick down` and `up`.
const DefaultRestartPause = time.Second

// Options configures Ops.
type Options struct {
	// ConfigDir holds <iface>.conf files and saved keys.
	ConfigDir string
	// BackupDir holds <iface>_<YYYYMMDD_HHMMSS>.conf copies.
	BackupDir string
	// Owner is the service account applied to every written file. Nil
	// keeps the process's own uid/gid.
	Owner *fsutil.Ownership
	// Runner executes wg / wg-quick.
	Runner wireguard.Runner
	// RestartPause defaults to DefaultRestartPause; negative disables it.
	RestartPause time.Duration
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Ops performs the privileged operations.
type Ops struct {
	configDir string
	backupDir string
	owner     *fsutil.Ownership
	runner    wireguard.Runner
	pause     time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
	locks     *fsutil.Locker
	log       *logrus.Entry
}

// New validates opts and creates the config and backup directories with
// mode 0700.
func New(opts Options) (*Ops, error) {
	if opts.ConfigDir == "" || opts.BackupDir == "" {
		return nil, fmt.Errorf("config and backup directories are required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("a tool runner is required")
	}
	o := &Ops{
		configDir: opts.ConfigDir,
		backupDir: opts.BackupDir,
		owner:     opts.Owner,
		runner:    opts.Runner,
		pause:     opts.RestartPause,
		metrics:   opts.Metrics,
		now:       opts.Now,
		locks:     fsutil.NewLocker(opts.ConfigDir),
		log:       logging.Component("secureops"),
	}
	if o.pause == 0 {
		o.pause = DefaultRestartPause
	}
	if o.now == nil {
		o.now = time.Now
	}
	for _, dir := range []string{o.configDir, o.backupDir} {
		if err := fsutil.EnsureDir(dir, o.owner); err != nil {
			return nil, core.FromOS("prepare directory", dir, err)
		}
	}
	return o, nil
}

// ConfigDir returns the directory holding interface configs.
func (o *Ops) ConfigDir() string { return o.configDir }

// BackupDir returns the backup directory.
func (o *Ops) BackupDir() string { return o.backupDir }

// ConfigPath returns the live config path of iface.
func (o *Ops) ConfigPath(iface string) string {
	return filepath.Join(o.configDir, iface+".conf")
}

// lock serializes read-modify-write sequences on one interface, within
// this process and against other wgkeeper processes.
func (o *Ops) lock(op, iface string) (func(), error) {
	unlock, err := o.locks.Lock(iface)
	if err != nil {
		return nil, &core.OpError{Op: op, Interface: iface, Err: err}
	}
	return unlock, nil
}

func checkInterface(op, iface string) error {
	if !wireguard.ValidInterfaceName(iface) {
		return &core.OpError{Op: op, Interface: iface, Err: fmt.Errorf("%w: invalid interface name", core.ErrInvalidConfig)}
	}
	return nil
}

// checkFileName rejects names that would leave the target directory.
func checkFileName(op, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return &core.OpError{Op: op, Err: fmt.Errorf("%w: invalid file name %q", core.ErrInvalidConfig, name)}
	}
	return nil
}
