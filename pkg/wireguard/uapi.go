package wireguard

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/irctrakz/wgkeeper/pkg/core"
)

// ParseUAPI parses the key=value text a userspace device returns for
// "get=1" (device.IpcGet). Keys in that protocol are hex encoded; they are
// converted to base64 so snapshots look the same whatever the source. The
// interface public key is derived from the private key, which is then
// dropped.
func ParseUAPI(iface, state string) (*core.Snapshot, error) {
	snap := &core.Snapshot{Interface: iface, Peers: []core.PeerStatus{}}
	var cur *core.PeerStatus

	flush := func() {
		if cur != nil {
			snap.Peers = append(snap.Peers, *cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(state, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: uapi line %q", core.ErrParse, line)
		}

		switch key {
		case "private_key":
			k, err := hexKey(value)
			if err != nil {
				return nil, err
			}
			snap.PublicKey = k.PublicKey().String()
		case "listen_port":
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return nil, uapiNumberError(key, err)
			}
			snap.ListenPort = int(port)
		case "public_key":
			flush()
			k, err := hexKey(value)
			if err != nil {
				return nil, err
			}
			cur = &core.PeerStatus{PublicKey: k.String(), AllowedIPs: []string{}}
		case "errno":
			if value != "0" {
				return nil, fmt.Errorf("%w: uapi errno=%s", core.ErrExternalTool, value)
			}
		}
		if cur == nil {
			continue
		}

		switch key {
		case "endpoint":
			ep := value
			cur.Endpoint = &ep
		case "allowed_ip":
			cur.AllowedIPs = append(cur.AllowedIPs, value)
		case "last_handshake_time_sec", "rx_bytes", "tx_bytes":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, uapiNumberError(key, err)
			}
			switch key {
			case "last_handshake_time_sec":
				cur.LatestHandshake = n
			case "rx_bytes":
				cur.TransferRx = n
			default:
				cur.TransferTx = n
			}
		case "persistent_keepalive_interval":
			n, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return nil, uapiNumberError(key, err)
			}
			if n > 0 {
				ka := int(n)
				cur.PersistentKeepalive = &ka
			}
		}
	}
	flush()
	return snap, nil
}

func uapiNumberError(key string, err error) error {
	return fmt.Errorf("%w: uapi %s: %v", core.ErrParse, key, err)
}

func hexKey(s string) (wgtypes.Key, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("%w: uapi key: %v", core.ErrParse, err)
	}
	k, err := wgtypes.NewKey(raw)
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("%w: uapi key: %v", core.ErrParse, err)
	}
	return k, nil
}

// hexFromBase64 converts a base64 key to the hex form the UAPI expects.
func hexFromBase64(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != wgtypes.KeyLen {
		return "", fmt.Errorf("invalid key: must be base64 of %d bytes", wgtypes.KeyLen)
	}
	return hex.EncodeToString(raw), nil
}
