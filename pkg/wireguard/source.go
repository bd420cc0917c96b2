package wireguard

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/irctrakz/wgkeeper/pkg/core"
)

// Source queries the live state of an interface. Returned snapshots carry
// raw fields only; Timestamp and derived peer attributes are filled by the
// caller.
type Source interface {
	Query(ctx context.Context, iface string) (*core.Snapshot, error)
}

// ToolSource reads `wg show <iface> dump` through a Runner.
type ToolSource struct {
	Runner Runner
}

// Query implements Source.
func (s *ToolSource) Query(ctx context.Context, iface string) (*core.Snapshot, error) {
	out, err := s.Runner.Run(ctx, Invocation{Cmd: CmdShowDump, Interface: iface})
	if err != nil {
		return nil, err
	}
	return ParseDump(iface, string(out))
}

type deviceGetter interface {
	Device(name string) (*wgtypes.Device, error)
}

// ClientSource reads device state over netlink (kernel) or the UAPI socket
// (userspace) via wgctrl, with no subprocess involved.
type ClientSource struct {
	devices deviceGetter
	closer  func() error
}

// NewClientSource opens a wgctrl client.
func NewClientSource() (*ClientSource, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("open wgctrl client: %w", err)
	}
	return &ClientSource{devices: c, closer: c.Close}, nil
}

// Close releases the wgctrl client.
func (s *ClientSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Query implements Source.
func (s *ClientSource) Query(_ context.Context, iface string) (*core.Snapshot, error) {
	d, err := s.devices.Device(iface)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &core.OpError{Op: "query device", Interface: iface, Err: fmt.Errorf("%w: %w", core.ErrNotFound, err)}
		}
		return nil, &core.OpError{Op: "query device", Interface: iface, Err: fmt.Errorf("%w: %w", core.ErrExternalTool, err)}
	}
	return snapshotFromDevice(iface, d), nil
}

func snapshotFromDevice(iface string, d *wgtypes.Device) *core.Snapshot {
	snap := &core.Snapshot{
		Interface:  iface,
		PublicKey:  d.PublicKey.String(),
		ListenPort: d.ListenPort,
		Peers:      make([]core.PeerStatus, 0, len(d.Peers)),
	}
	for _, p := range d.Peers {
		ps := core.PeerStatus{
			PublicKey:  p.PublicKey.String(),
			AllowedIPs: make([]string, 0, len(p.AllowedIPs)),
			TransferRx: p.ReceiveBytes,
			TransferTx: p.TransmitBytes,
		}
		if p.Endpoint != nil {
			ep := p.Endpoint.String()
			ps.Endpoint = &ep
		}
		for _, ipn := range p.AllowedIPs {
			ps.AllowedIPs = append(ps.AllowedIPs, ipn.String())
		}
		if !p.LastHandshakeTime.IsZero() {
			ps.LatestHandshake = p.LastHandshakeTime.Unix()
		}
		if ka := int(p.PersistentKeepaliveInterval.Seconds()); ka > 0 {
			ps.PersistentKeepalive = &ka
		}
		snap.Peers = append(snap.Peers, ps)
	}
	return snap
}
