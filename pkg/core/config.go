package core

// InterfaceConfig is the [Interface] section of a tunnel configuration
// together with its peers. A fresh value is built on every parse.
type InterfaceConfig struct {
	// PrivateKey is the interface's base64 private key. Never logged.
	PrivateKey string `json:"-" yaml:"-"`

	// Address lists the interface addresses in CIDR notation.
	Address []string `json:"address" yaml:"address"`

	// ListenPort is the UDP port, nil when the section has none.
	ListenPort *int `json:"listen_port,omitempty" yaml:"listenPort,omitempty"`

	// DNS lists resolvers pushed to clients (wg-quick only).
	DNS []string `json:"dns,omitempty" yaml:"dns,omitempty"`

	// Peers is the ordered list of [Peer] sections.
	Peers []PeerConfig `json:"peers" yaml:"peers"`
}

// PeerConfig is a [Peer] section. It only exists as an element of
// InterfaceConfig.Peers.
type PeerConfig struct {
	// PublicKey identifies the peer.
	PublicKey string `json:"public_key" yaml:"publicKey"`

	// PresharedKey is the optional symmetric secret. Never logged.
	PresharedKey string `json:"-" yaml:"-"`

	// AllowedIPs is a list of IP ranges that are allowed for this peer.
	AllowedIPs []string `json:"allowed_ips" yaml:"allowedIPs"`

	// Endpoint is the peer's host:port, empty when unset.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// PersistentKeepalive is the keepalive interval in seconds, nil when unset.
	PersistentKeepalive *int `json:"persistent_keepalive,omitempty" yaml:"persistentKeepalive,omitempty"`
}

// FindPeer returns the peer with the given public key.
func (c *InterfaceConfig) FindPeer(publicKey string) (*PeerConfig, bool) {
	for i := range c.Peers {
		if c.Peers[i].PublicKey == publicKey {
			return &c.Peers[i], true
		}
	}
	return nil, false
}

// KeyPair is a private key and the public key derived from it.
type KeyPair struct {
	PrivateKey string
	PublicKey  string
}

// String never reveals the private half.
func (k KeyPair) String() string {
	return "KeyPair{public=" + k.PublicKey + "}"
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
