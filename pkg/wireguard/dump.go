package wireguard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/irctrakz/wgkeeper/pkg/core"
)

// markers wg prints for absent values in dump output
const (
	dumpNone = "(none)"
	dumpOff  = "off"
)

// ParseDump parses `wg show <iface> dump`. Line 1 describes the interface
// (public key, private key, listen port, fwmark), each following line a
// peer (public key, preshared key, endpoint, allowed ips, latest handshake,
// rx, tx, keepalive). Key material other than public keys is discarded.
// Only the raw fields are filled; derived peer attributes are left zero.
func ParseDump(iface string, out string) (*core.Snapshot, error) {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("%w: empty dump for %s", core.ErrParse, iface)
	}

	head := strings.Split(lines[0], "\t")
	if len(head) < 3 {
		return nil, fmt.Errorf("%w: interface line has %d fields", core.ErrParse, len(head))
	}
	snap := &core.Snapshot{
		Interface: iface,
		PublicKey: head[0],
		Peers:     []core.PeerStatus{},
	}
	if head[2] != "" && head[2] != dumpOff {
		port, err := strconv.ParseUint(head[2], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: interface listen port: %v", core.ErrParse, err)
		}
		snap.ListenPort = int(port)
	}

	for i, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := strings.Split(line, "\t")
		if len(f) < 8 {
			return nil, fmt.Errorf("%w: peer line %d has %d fields", core.ErrParse, i+1, len(f))
		}
		p := core.PeerStatus{
			PublicKey:  f[0],
			AllowedIPs: []string{},
		}
		if f[2] != "" && f[2] != dumpNone {
			ep := f[2]
			p.Endpoint = &ep
		}
		if f[3] != "" && f[3] != dumpNone {
			p.AllowedIPs = strings.Split(f[3], ",")
		}
		var err error
		if p.LatestHandshake, err = dumpInt(f[4]); err != nil {
			return nil, fmt.Errorf("%w: peer line %d latest handshake: %v", core.ErrParse, i+1, err)
		}
		if p.TransferRx, err = dumpInt(f[5]); err != nil {
			return nil, fmt.Errorf("%w: peer line %d transfer rx: %v", core.ErrParse, i+1, err)
		}
		if p.TransferTx, err = dumpInt(f[6]); err != nil {
			return nil, fmt.Errorf("%w: peer line %d transfer tx: %v", core.ErrParse, i+1, err)
		}
		if f[7] != "" && f[7] != dumpOff {
			ka, err := strconv.Atoi(f[7])
			if err != nil {
				return nil, fmt.Errorf("%w: peer line %d keepalive: %v", core.ErrParse, i+1, err)
			}
			p.PersistentKeepalive = &ka
		}
		snap.Peers = append(snap.Peers, p)
	}
	return snap, nil
}

func dumpInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
