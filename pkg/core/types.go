package core

import (
	"fmt"
	"time"
)

// ValidationError describes one invalid field. Validators return these as
// data, never as a Go error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// BackupRecord describes a backup file found in the backup directory. It is
// recomputed on every listing.
type BackupRecord struct {
	Interface string    `json:"interface"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// PeerType classifies a peer by the subnet its allowed IPs fall in.
type PeerType string

const (
	PeerAdmin   PeerType = "admin"
	PeerUser    PeerType = "user"
	PeerUnknown PeerType = "unknown"
)

// PeerStatus is the live state of one peer plus the attributes derived
// from it (Online, LastActivity, Type).
type PeerStatus struct {
	PublicKey           string   `json:"public_key"`
	Endpoint            *string  `json:"endpoint"`
	AllowedIPs          []string `json:"allowed_ips"`
	LatestHandshake     int64    `json:"latest_handshake"`
	TransferRx          int64    `json:"transfer_rx"`
	TransferTx          int64    `json:"transfer_tx"`
	PersistentKeepalive *int     `json:"persistent_keepalive"`
	Online              bool     `json:"online"`
	LastActivity        *string  `json:"last_activity"`
	Type                PeerType `json:"type"`
}

// Snapshot is the observed state of one interface at a point in time.
type Snapshot struct {
	Timestamp  time.Time    `json:"timestamp"`
	Interface  string       `json:"interface"`
	PublicKey  string       `json:"public_key"`
	ListenPort int          `json:"listen_port"`
	Peers      []PeerStatus `json:"peers"`
}

// Peer returns the peer status with the given public key.
func (s *Snapshot) Peer(publicKey string) (PeerStatus, bool) {
	for _, p := range s.Peers {
		if p.PublicKey == publicKey {
			return p, true
		}
	}
	return PeerStatus{}, false
}

// OnlineCount returns how many peers are online.
func (s *Snapshot) OnlineCount() int {
	n := 0
	for _, p := range s.Peers {
		if p.Online {
			n++
		}
	}
	return n
}
