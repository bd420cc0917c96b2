// Package keys generates WireGuard key pairs and keeps them on disk as
// <name>.key (0600) and <name>.pub (0644) inside a 0700 directory.
package keys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/fsutil"
	"github.com/irctrakz/wgkeeper/pkg/logging"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

const (
	PrivateSuffix = ".key"
	PublicSuffix  = ".pub"
)

// ErrInvalidName is returned for key names that would escape the key
// directory.
var ErrInvalidName = errors.New("invalid key name")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9+/]{43}=$`)

// Deriver computes the public half of a private key.
type Deriver interface {
	Derive(ctx context.Context, privateKey string) (string, error)
}

// ToolDeriver derives through `wg pubkey`.
type ToolDeriver struct {
	Runner wireguard.Runner
}

// Derive implements Deriver. Any failure of the tool is a derivation error.
func (d ToolDeriver) Derive(ctx context.Context, privateKey string) (string, error) {
	out, err := d.Runner.Run(ctx, wireguard.Invocation{Cmd: wireguard.CmdPubKey, Stdin: []byte(privateKey + "\n")})
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrDerivation, err)
	}
	pub := strings.TrimSpace(string(out))
	if !keyPattern.MatchString(pub) {
		return "", fmt.Errorf("%w: wg pubkey returned malformed output", core.ErrDerivation)
	}
	return pub, nil
}

// LocalDeriver derives with Curve25519 in process.
type LocalDeriver struct{}

// Derive implements Deriver.
func (LocalDeriver) Derive(_ context.Context, privateKey string) (string, error) {
	k, err := wgtypes.ParseKey(strings.TrimSpace(privateKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrDerivation, err)
	}
	return k.PublicKey().String(), nil
}

// FallbackDeriver tries Primary and derives in process when it fails,
// unless ctx has ended.
type FallbackDeriver struct {
	Primary Deriver
}

// Derive implements Deriver.
func (d FallbackDeriver) Derive(ctx context.Context, privateKey string) (string, error) {
	pub, err := d.Primary.Derive(ctx, privateKey)
	if err == nil {
		return pub, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	logging.Component("keys").WithError(err).Warn("wg pubkey failed, deriving public key locally")
	return LocalDeriver{}.Derive(ctx, privateKey)
}

// Manager owns a key directory.
type Manager struct {
	dir     string
	owner   *fsutil.Ownership
	deriver Deriver
	log     *logrus.Entry
}

// NewManager returns a manager for dir. owner may be nil to keep the
// process's own uid/gid.
func NewManager(dir string, owner *fsutil.Ownership, deriver Deriver) *Manager {
	return &Manager{
		dir:     dir,
		owner:   owner,
		deriver: deriver,
		log:     logging.Component("keys"),
	}
}

// Dir returns the key directory.
func (m *Manager) Dir() string { return m.dir }

// Paths returns the private and public key file paths for name.
func (m *Manager) Paths(name string) (string, string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	base := filepath.Join(m.dir, name)
	return base + PrivateSuffix, base + PublicSuffix, nil
}

// Generate creates a new key pair from 32 random bytes and derives its
// public key.
func (m *Manager) Generate(ctx context.Context) (core.KeyPair, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return core.KeyPair{}, fmt.Errorf("generate private key: %w", err)
	}
	pub, err := m.deriver.Derive(ctx, priv.String())
	if err != nil {
		return core.KeyPair{}, err
	}
	m.log.WithField("public_key", logging.MaskKey(pub)).Debug("generated key pair")
	return core.KeyPair{PrivateKey: priv.String(), PublicKey: pub}, nil
}

// Save writes both halves of kp and returns their paths.
func (m *Manager) Save(name string, kp core.KeyPair) (string, string, error) {
	privPath, pubPath, err := m.Paths(name)
	if err != nil {
		return "", "", err
	}
	if err := fsutil.EnsureDir(m.dir, m.owner); err != nil {
		return "", "", &core.OpError{Op: "save key pair", Path: m.dir, Err: err}
	}
	if err := fsutil.WriteAtomic(privPath, []byte(kp.PrivateKey+"\n"), fsutil.ModePrivate, m.owner); err != nil {
		return "", "", core.FromOS("save private key", privPath, err)
	}
	if err := fsutil.WriteAtomic(pubPath, []byte(kp.PublicKey+"\n"), fsutil.ModeWorldPublic, m.owner); err != nil {
		// A private key without its public half is not a stored pair.
		if serr := fsutil.Shred(privPath, 1); serr != nil && !errors.Is(serr, os.ErrNotExist) {
			m.log.WithError(serr).WithField("path", privPath).Warn("could not remove private key of failed save")
			_ = os.Remove(privPath)
		}
		return "", "", core.FromOS("save public key", pubPath, err)
	}
	m.log.WithFields(logrus.Fields{"name": name, "public_key": logging.MaskKey(kp.PublicKey)}).Info("saved key pair")
	return privPath, pubPath, nil
}

// Load reads a stored key pair. Both files must exist.
func (m *Manager) Load(name string) (core.KeyPair, error) {
	privPath, pubPath, err := m.Paths(name)
	if err != nil {
		return core.KeyPair{}, err
	}
	priv, err := os.ReadFile(privPath)
	if err != nil {
		return core.KeyPair{}, core.FromOS("load private key", privPath, err)
	}
	pub, err := os.ReadFile(pubPath)
	if err != nil {
		return core.KeyPair{}, core.FromOS("load public key", pubPath, err)
	}
	return core.KeyPair{
		PrivateKey: strings.TrimSpace(string(priv)),
		PublicKey:  strings.TrimSpace(string(pub)),
	}, nil
}

// Delete removes a stored key pair. The private key is overwritten with
// random bytes before it is unlinked. Missing files are skipped.
func (m *Manager) Delete(name string) error {
	privPath, pubPath, err := m.Paths(name)
	if err != nil {
		return err
	}
	if err := fsutil.Shred(privPath, 1); err != nil && !errors.Is(err, os.ErrNotExist) {
		return core.FromOS("delete private key", privPath, err)
	}
	if err := os.Remove(pubPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return core.FromOS("delete public key", pubPath, err)
	}
	m.log.WithField("name", name).Info("deleted key pair")
	return nil
}
