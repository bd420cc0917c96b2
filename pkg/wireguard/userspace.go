package wireguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/ipc"
	"golang.zx2c4.com/wireguard/tun"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/logging"
)

// DefaultMTU is used when StartUserspace is given a non-positive MTU.
const DefaultMTU = 1420

// Userspace is an interface served by wireguard-go inside this process,
// for hosts without the kernel module. Once ServeUAPI runs, the wg tool
// and wgctrl see it like any other interface.
type Userspace struct {
	name string
	dev  *device.Device
	log  *logrus.Entry

	mu   sync.Mutex
	uapi net.Listener
}

// StartUserspace creates a TUN device called name and brings up a
// wireguard-go device on it configured from cfg.
func StartUserspace(name string, cfg *core.InterfaceConfig, mtu int) (*Userspace, error) {
	if !ValidInterfaceName(name) {
		return nil, fmt.Errorf("invalid interface name %q", name)
	}
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	td, err := tun.CreateTUN(name, mtu)
	if err != nil {
		return nil, &core.OpError{Op: "create tun", Interface: name, Err: err}
	}
	return startUserspace(name, td, conn.NewDefaultBind(), cfg)
}

func startUserspace(name string, td tun.Device, bind conn.Bind, cfg *core.InterfaceConfig) (*Userspace, error) {
	log := logging.Component("userspace").WithField("interface", name)
	dev := device.NewDevice(td, bind, &device.Logger{
		Verbosef: log.Debugf,
		Errorf:   log.Errorf,
	})
	u := &Userspace{name: name, dev: dev, log: log}

	if err := u.Apply(cfg); err != nil {
		dev.Close()
		return nil, err
	}
	if err := dev.Up(); err != nil {
		dev.Close()
		return nil, &core.OpError{Op: "device up", Interface: name, Err: err}
	}
	log.WithField("peers", len(cfg.Peers)).Info("userspace device up")
	return u, nil
}

// Name returns the interface name.
func (u *Userspace) Name() string { return u.name }

// Apply replaces the device configuration with cfg. Peers not present in
// cfg are removed.
func (u *Userspace) Apply(cfg *core.InterfaceConfig) error {
	conf, err := UAPIConfig(cfg)
	if err != nil {
		return &core.OpError{Op: "apply config", Interface: u.name, Err: err}
	}
	if err := u.dev.IpcSet(conf); err != nil {
		return &core.OpError{Op: "apply config", Interface: u.name, Err: fmt.Errorf("%w: ipc set: %w", core.ErrExternalTool, err)}
	}
	return nil
}

// IpcGet returns the device state in UAPI text form.
func (u *Userspace) IpcGet() (string, error) {
	return u.dev.IpcGet()
}

// Query implements Source for this device only.
func (u *Userspace) Query(_ context.Context, iface string) (*core.Snapshot, error) {
	if iface != u.name {
		return nil, &core.OpError{Op: "query device", Interface: iface, Err: core.ErrNotFound}
	}
	state, err := u.dev.IpcGet()
	if err != nil {
		return nil, &core.OpError{Op: "query device", Interface: iface, Err: fmt.Errorf("%w: ipc get: %w", core.ErrExternalTool, err)}
	}
	return ParseUAPI(iface, state)
}

// ServeUAPI listens on the standard UAPI socket for this interface and
// hands each connection to the device until ctx is done.
func (u *Userspace) ServeUAPI(ctx context.Context) error {
	f, err := ipc.UAPIOpen(u.name)
	if err != nil {
		return &core.OpError{Op: "uapi open", Interface: u.name, Err: err}
	}
	l, err := ipc.UAPIListen(u.name, f)
	if err != nil {
		f.Close()
		return &core.OpError{Op: "uapi listen", Interface: u.name, Err: err}
	}
	u.mu.Lock()
	u.uapi = l
	u.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	u.log.Info("uapi socket listening")
	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return &core.OpError{Op: "uapi accept", Interface: u.name, Err: err}
		}
		go u.dev.IpcHandle(c)
	}
}

// Close tears the device down.
func (u *Userspace) Close() error {
	u.mu.Lock()
	if u.uapi != nil {
		u.uapi.Close()
		u.uapi = nil
	}
	u.mu.Unlock()
	u.dev.Close()
	return nil
}

// UAPIConfig renders cfg as a UAPI "set" body. Keys go out hex encoded and
// endpoints are resolved to ip:port, which is what the device expects.
func UAPIConfig(cfg *core.InterfaceConfig) (string, error) {
	var b strings.Builder

	priv, err := hexFromBase64(cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("%w: private key: %v", core.ErrInvalidConfig, err)
	}
	fmt.Fprintf(&b, "private_key=%s\n", priv)
	if cfg.ListenPort != nil {
		fmt.Fprintf(&b, "listen_port=%d\n", *cfg.ListenPort)
	}
	b.WriteString("replace_peers=true\n")

	for i, p := range cfg.Peers {
		pub, err := hexFromBase64(p.PublicKey)
		if err != nil {
			return "", fmt.Errorf("%w: peer %d public key: %v", core.ErrInvalidConfig, i, err)
		}
		fmt.Fprintf(&b, "public_key=%s\n", pub)
		if p.PresharedKey != "" {
			psk, err := hexFromBase64(p.PresharedKey)
			if err != nil {
				return "", fmt.Errorf("%w: peer %d preshared key: %v", core.ErrInvalidConfig, i, err)
			}
			fmt.Fprintf(&b, "preshared_key=%s\n", psk)
		}
		if p.Endpoint != "" {
			addr, err := net.ResolveUDPAddr("udp", p.Endpoint)
			if err != nil {
				return "", fmt.Errorf("%w: peer %d endpoint: %v", core.ErrInvalidConfig, i, err)
			}
			fmt.Fprintf(&b, "endpoint=%s\n", addr.String())
		}
		if p.PersistentKeepalive != nil {
			fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", *p.PersistentKeepalive)
		}
		b.WriteString("replace_allowed_ips=true\n")
		for _, ip := range p.AllowedIPs {
			prefix, err := allowedPrefix(ip)
			if err != nil {
				return "", fmt.Errorf("%w: peer %d allowed ip: %v", core.ErrInvalidConfig, i, err)
			}
			fmt.Fprintf(&b, "allowed_ip=%s\n", prefix)
		}
	}
	return b.String(), nil
}

// allowedPrefix accepts a CIDR or a bare address, which becomes a host route.
func allowedPrefix(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return "", err
		}
		return p.Masked().String(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return "", err
	}
	return netip.PrefixFrom(a, a.BitLen()).String(), nil
}
