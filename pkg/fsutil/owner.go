package fsutil

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
)

// Ownership is the uid/gid applied to every file written for the service
// account. A nil *Ownership leaves ownership untouched.
type Ownership struct {
	UID int
	GID int
}

// ResolveOwnership looks up the service account. Empty names resolve to nil
// (keep whatever the process creates).
func ResolveOwnership(userName, groupName string) (*Ownership, error) {
	if userName == "" && groupName == "" {
		return nil, nil
	}
	o := &Ownership{UID: -1, GID: -1}
	if userName != "" {
		u, err := user.Lookup(userName)
		if err != nil {
			return nil, fmt.Errorf("lookup user %q: %w", userName, err)
		}
		if o.UID, err = strconv.Atoi(u.Uid); err != nil {
			return nil, fmt.Errorf("uid of %q: %w", userName, err)
		}
	}
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return nil, fmt.Errorf("lookup group %q: %w", groupName, err)
		}
		if o.GID, err = strconv.Atoi(g.Gid); err != nil {
			return nil, fmt.Errorf("gid of %q: %w", groupName, err)
		}
	}
	return o, nil
}

// CurrentOwnership returns the process's own uid/gid.
func CurrentOwnership() *Ownership {
	return &Ownership{UID: os.Getuid(), GID: os.Getgid()}
}

// Apply chowns path. -1 keeps the respective id.
func (o *Ownership) Apply(path string) error {
	if o == nil {
		return nil
	}
	if err := os.Lchown(path, o.UID, o.GID); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}
	return nil
}

func (o *Ownership) applyFile(f *os.File) error {
	if o == nil {
		return nil
	}
	if err := f.Chown(o.UID, o.GID); err != nil {
		return fmt.Errorf("chown %s: %w", f.Name(), err)
	}
	return nil
}
