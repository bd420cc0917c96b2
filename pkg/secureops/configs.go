package secureops

import (
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/fsutil"
	"github.com/irctrakz/wgkeeper/pkg/wgconf"
)

// DefaultClientKeepalive is used by CreateClientConfig when the caller
// leaves Keepalive unset.
const DefaultClientKeepalive = 25

// ServerConfig describes an interface config to write.
type ServerConfig struct {
	Interface  string
	PrivateKey string
	Address    []string
	ListenPort int
	Peers      []core.PeerConfig
}

// ClientConfig describes a client-side config with the server as its only
// peer.
type ClientConfig struct {
	Name            string
	PrivateKey      string
	Address         []string
	ServerPublicKey string
	ServerEndpoint  string
	AllowedIPs      []string
	DNS             []string
	PresharedKey    string
	// Keepalive defaults to DefaultClientKeepalive when nil; zero omits
	// the PersistentKeepalive line.
	Keepalive *int
}

// InterfaceConfig converts c to the config model.
func (c ServerConfig) InterfaceConfig() *core.InterfaceConfig {
	return &core.InterfaceConfig{
		PrivateKey: c.PrivateKey,
		Address:    c.Address,
		ListenPort: core.IntPtr(c.ListenPort),
		Peers:      c.Peers,
	}
}

// InterfaceConfig converts c to the config model.
func (c ClientConfig) InterfaceConfig() *core.InterfaceConfig {
	ka := core.IntPtr(DefaultClientKeepalive)
	if c.Keepalive != nil {
		ka = nil
		if *c.Keepalive > 0 {
			ka = core.IntPtr(*c.Keepalive)
		}
	}
	return &core.InterfaceConfig{
		PrivateKey: c.PrivateKey,
		Address:    c.Address,
		DNS:        c.DNS,
		Peers: []core.PeerConfig{{
			PublicKey:           c.ServerPublicKey,
			PresharedKey:        c.PresharedKey,
			AllowedIPs:          c.AllowedIPs,
			Endpoint:            c.ServerEndpoint,
			PersistentKeepalive: ka,
		}},
	}
}

// CreateServerConfig validates sc and writes <ConfigDir>/<iface>.conf with
// mode 0600. Validation problems are returned together as a
// *core.InvalidConfigError.
func (o *Ops) CreateServerConfig(sc ServerConfig) (string, error) {
	const op = "create server config"
	if err := checkInterface(op, sc.Interface); err != nil {
		return "", err
	}
	cfg := sc.InterfaceConfig()
	if errs := wgconf.ValidateConfig(cfg); len(errs) > 0 {
		return "", &core.OpError{Op: op, Interface: sc.Interface, Err: &core.InvalidConfigError{Errors: errs}}
	}

	unlock, err := o.lock(op, sc.Interface)
	if err != nil {
		return "", err
	}
	defer unlock()

	path := o.ConfigPath(sc.Interface)
	if err := o.writePrivate(op, path, wgconf.Render(cfg)); err != nil {
		return "", err
	}
	o.log.WithFields(logrus.Fields{"interface": sc.Interface, "peers": len(cfg.Peers), "path": path}).Info("wrote server config")
	return path, nil
}

// CreateClientConfig validates cc and writes <ConfigDir>/<name>.conf with
// mode 0600.
func (o *Ops) CreateClientConfig(cc ClientConfig) (string, error) {
	const op = "create client config"
	if err := checkFileName(op, cc.Name); err != nil {
		return "", err
	}
	cfg := cc.InterfaceConfig()
	errs := wgconf.ValidateConfig(cfg)
	if cc.ServerEndpoint == "" {
		errs = append(errs, core.ValidationError{Field: "Peer[0]." + wgconf.KeyEndpoint, Message: "server endpoint is required"})
	}
	if len(errs) > 0 {
		return "", &core.OpError{Op: op, Err: &core.InvalidConfigError{Errors: errs}}
	}

	path := filepath.Join(o.configDir, cc.Name+".conf")
	if err := o.writePrivate(op, path, wgconf.Render(cfg)); err != nil {
		return "", err
	}
	o.log.WithFields(logrus.Fields{"client": cc.Name, "path": path}).Info("wrote client config")
	return path, nil
}

func (o *Ops) writePrivate(op, path, content string) error {
	if err := fsutil.WriteAtomic(path, []byte(content), fsutil.ModePrivate, o.owner); err != nil {
		return core.FromOS(op, path, err)
	}
	return nil
}
