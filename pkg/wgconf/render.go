package wgconf

import (
	"strconv"
	"strings"

	"github.com/irctrakz/wgkeeper/pkg/core"
)

// Render writes cfg in the wg-quick text format. Output is stable under
// Parse: Render(Parse(Render(c))) == Render(c).
func Render(cfg *core.InterfaceConfig) string {
	return render(cfg, true)
}

// RenderStripped omits the wg-quick-only keys (Address, DNS), producing
// what `wg setconf`/`wg syncconf` accept.
func RenderStripped(cfg *core.InterfaceConfig) string {
	return render(cfg, false)
}

func render(cfg *core.InterfaceConfig, quick bool) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	writeKV(&b, KeyPrivateKey, cfg.PrivateKey)
	if quick && len(cfg.Address) > 0 {
		writeKV(&b, KeyAddress, strings.Join(cfg.Address, ", "))
	}
	if cfg.ListenPort != nil {
		writeKV(&b, KeyListenPort, strconv.Itoa(*cfg.ListenPort))
	}
	if quick && len(cfg.DNS) > 0 {
		writeKV(&b, KeyDNS, strings.Join(cfg.DNS, ", "))
	}

	for _, p := range cfg.Peers {
		b.WriteString("\n[Peer]\n")
		writeKV(&b, KeyPublicKey, p.PublicKey)
		if p.PresharedKey != "" {
			writeKV(&b, KeyPresharedKey, p.PresharedKey)
		}
		writeKV(&b, KeyAllowedIPs, strings.Join(p.AllowedIPs, ", "))
		if p.Endpoint != "" {
			writeKV(&b, KeyEndpoint, p.Endpoint)
		}
		if p.PersistentKeepalive != nil {
			writeKV(&b, KeyPersistentKeepalive, strconv.Itoa(*p.PersistentKeepalive))
		}
	}
	return b.String()
}

func writeKV(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(" = ")
	b.WriteString(value)
	b.WriteByte('\n')
}
