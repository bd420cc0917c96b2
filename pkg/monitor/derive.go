package monitor

import (
	"strings"
	"time"

	"github.com/irctrakz/wgkeeper/pkg/core"
)

// OnlineWindow is how recent a handshake must be for a peer to count as
// online.
const OnlineWindow = 180 * time.Second

// Classifier assigns peer types by comparing allowed IPs against the admin
// and user subnets as strings: a peer matches a subnet when one of its
// allowed IPs starts with the subnet address minus its last octet. This is
// not CIDR containment. With 10.10.10.0/24 as admin subnet, 10.10.100.5/32
// is classified admin too, and subnets not aligned to a whole octet (a /28,
// say) are not told apart from their neighbours.
type Classifier struct {
	adminPrefix string
	userPrefix  string
}

// NewClassifier builds a classifier from two subnets in CIDR notation. An
// empty subnet never matches.
func NewClassifier(adminSubnet, userSubnet string) Classifier {
	return Classifier{adminPrefix: subnetPrefix(adminSubnet), userPrefix: subnetPrefix(userSubnet)}
}

func subnetPrefix(subnet string) string {
	addr, _, _ := strings.Cut(strings.TrimSpace(subnet), "/")
	if i := strings.LastIndexByte(addr, '.'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// Classify returns the type of the first allowed IP that matches a subnet,
// admin taking precedence within one entry.
func (c Classifier) Classify(allowedIPs []string) core.PeerType {
	for _, ip := range allowedIPs {
		if c.adminPrefix != "" && strings.HasPrefix(ip, c.adminPrefix) {
			return core.PeerAdmin
		}
		if c.userPrefix != "" && strings.HasPrefix(ip, c.userPrefix) {
			return core.PeerUser
		}
	}
	return core.PeerUnknown
}

// Online reports whether a handshake at epoch second hs is recent at now.
func Online(hs int64, now time.Time) bool {
	return hs > 0 && now.Unix()-hs < int64(OnlineWindow/time.Second)
}

// Derive fills Online, LastActivity and Type of every peer in snap from its
// raw fields.
func Derive(snap *core.Snapshot, now time.Time, c Classifier) {
	for i := range snap.Peers {
		p := &snap.Peers[i]
		p.Online = Online(p.LatestHandshake, now)
		p.LastActivity = nil
		if p.LatestHandshake > 0 {
			s := time.Unix(p.LatestHandshake, 0).Format(time.RFC3339)
			p.LastActivity = &s
		}
		p.Type = c.Classify(p.AllowedIPs)
	}
}

// Changed reports whether next differs from prev in peer count, in the
// set of peers, or in any peer's online flag or latest handshake. A nil
// prev always counts as a change.
func Changed(prev, next *core.Snapshot) bool {
	if prev == nil {
		return true
	}
	if len(prev.Peers) != len(next.Peers) {
		return true
	}
	for _, np := range next.Peers {
		op, ok := prev.Peer(np.PublicKey)
		if !ok || op.Online != np.Online || op.LatestHandshake != np.LatestHandshake {
			return true
		}
	}
	for _, op := range prev.Peers {
		if _, ok := next.Peer(op.PublicKey); !ok {
			return true
		}
	}
	return false
}
