package secureops

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/fsutil"
)

// SecureDeleteFile overwrites path with random bytes fsutil.ShredPasses
// times, syncing each pass, then unlinks it. A missing file is not an
// error. See fsutil.Shred for the filesystems where this does not help.
func (o *Ops) SecureDeleteFile(path string) error {
	if err := fsutil.Shred(path, fsutil.ShredPasses); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			o.log.WithField("path", path).Warn("secure delete: file does not exist")
			return nil
		}
		return core.FromOS("secure delete", path, err)
	}
	o.log.WithField("path", path).Info("securely deleted file")
	return nil
}

// SecureReadFile returns the content of path after removing any
// permission bits granted to other users.
func (o *Ops) SecureReadFile(path string) (string, error) {
	stripped, err := fsutil.StripWorldBits(path)
	if err != nil {
		return "", core.FromOS("secure read", path, err)
	}
	if stripped {
		o.log.WithField("path", path).Warn("file was accessible to other users, permissions tightened")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", core.FromOS("secure read", path, err)
	}
	return string(data), nil
}

// SecureWriteFile atomically writes content to path with mode 0600 when
// private and 0640 otherwise. Missing parent directories are created 0700.
func (o *Ops) SecureWriteFile(path, content string, private bool) error {
	if err := os.MkdirAll(filepath.Dir(path), fsutil.ModePrivateDir); err != nil {
		return core.FromOS("secure write", filepath.Dir(path), err)
	}
	mode := fsutil.ModeGroupPublic
	if private {
		mode = fsutil.ModePrivate
	}
	if err := fsutil.WriteAtomic(path, []byte(content), mode, o.owner); err != nil {
		return core.FromOS("secure write", path, err)
	}
	return nil
}
