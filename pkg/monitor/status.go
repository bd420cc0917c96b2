package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/fsutil"
)

// StatusPath returns where the status of iface is written inside dir.
func StatusPath(dir, iface string) string {
	return filepath.Join(dir, iface+"_status.json")
}

// WriteStatus persists snap atomically with mode 0640.
func WriteStatus(path string, snap *core.Snapshot, owner *fsutil.Ownership) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := fsutil.WriteAtomic(path, append(data, '\n'), fsutil.ModeGroupPublic, owner); err != nil {
		return core.FromOS("write status", path, err)
	}
	return nil
}

// ReadStatus loads a status file written by a monitor. The file is absent
// until the first successful poll; that case is core.ErrNotFound.
func ReadStatus(path string) (*core.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.FromOS("read status", path, err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &core.OpError{Op: "read status", Path: path, Err: fmt.Errorf("%w: %v", core.ErrParse, err)}
	}
	return &snap, nil
}
