// Package wgconf reads, writes and validates the [Interface]/[Peer] text
// format used by wg and wg-quick.
package wgconf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/irctrakz/wgkeeper/pkg/core"
)

// Section names.
const (
	SectionInterface = "Interface"
	SectionPeer      = "Peer"
)

// Keys understood by the parser and renderer.
const (
	KeyPrivateKey          = "PrivateKey"
	KeyAddress             = "Address"
	KeyListenPort          = "ListenPort"
	KeyDNS                 = "DNS"
	KeyPublicKey           = "PublicKey"
	KeyPresharedKey        = "PresharedKey"
	KeyAllowedIPs          = "AllowedIPs"
	KeyEndpoint            = "Endpoint"
	KeyPersistentKeepalive = "PersistentKeepalive"
)

// canonical maps lower-cased keys to their canonical spelling; wg treats keys
// case-insensitively.
var canonical = func() map[string]string {
	m := map[string]string{}
	for _, k := range []string{
		KeyPrivateKey, KeyAddress, KeyListenPort, KeyDNS, KeyPublicKey,
		KeyPresharedKey, KeyAllowedIPs, KeyEndpoint, KeyPersistentKeepalive,
		"MTU", "Table", "FwMark", "PreUp", "PostUp", "PreDown", "PostDown", "SaveConfig",
	} {
		m[strings.ToLower(k)] = k
	}
	return m
}()

// Section is one bracketed block with its raw key/value pairs. Later
// duplicate keys overwrite earlier ones.
type Section struct {
	Name   string
	Line   int
	Values map[string]string
}

// SplitSections segments text on bracketed headers. Blank lines and '#'
// comments are ignored; any other line must be "Key = Value" inside a
// section.
func SplitSections(text string) ([]Section, error) {
	var sections []Section
	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		line := raw
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("%w: line %d: unterminated section header %q", core.ErrParse, lineNo, line)
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			sections = append(sections, Section{Name: name, Line: lineNo, Values: map[string]string{}})
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: expected Key = Value", core.ErrParse, lineNo)
		}
		if len(sections) == 0 {
			return nil, fmt.Errorf("%w: line %d: key outside of any section", core.ErrParse, lineNo)
		}
		key = strings.TrimSpace(key)
		if c, ok := canonical[strings.ToLower(key)]; ok {
			key = c
		}
		sections[len(sections)-1].Values[key] = strings.TrimSpace(value)
	}
	return sections, nil
}

// Parse builds an InterfaceConfig from text. The first section must be
// [Interface] and carry a PrivateKey. Sections other than [Peer] after it
// are skipped.
func Parse(text string) (*core.InterfaceConfig, error) {
	sections, err := SplitSections(text)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 || sections[0].Name != SectionInterface {
		return nil, fmt.Errorf("%w: configuration must start with an [Interface] section", core.ErrParse)
	}

	iv := sections[0].Values
	cfg := &core.InterfaceConfig{
		PrivateKey: iv[KeyPrivateKey],
		Address:    SplitList(iv[KeyAddress]),
		DNS:        SplitList(iv[KeyDNS]),
		Peers:      []core.PeerConfig{},
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: %s", core.ErrMissingField, KeyPrivateKey)
	}
	if cfg.ListenPort, err = optionalInt(iv, KeyListenPort, sections[0].Line); err != nil {
		return nil, err
	}

	for _, s := range sections[1:] {
		switch s.Name {
		case SectionPeer:
			peer, err := parsePeer(s)
			if err != nil {
				return nil, err
			}
			cfg.Peers = append(cfg.Peers, peer)
		case SectionInterface:
			return nil, fmt.Errorf("%w: line %d: duplicate [Interface] section", core.ErrParse, s.Line)
		}
	}
	return cfg, nil
}

// ParseFile reads and parses path. Read failures are classified as
// ErrNotFound or ErrPermissionDenied, distinct from ErrParse.
func ParseFile(path string) (*core.InterfaceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.FromOS("read config", path, err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, &core.OpError{Op: "parse config", Path: path, Err: err}
	}
	return cfg, nil
}

func parsePeer(s Section) (core.PeerConfig, error) {
	p := core.PeerConfig{
		PublicKey:    s.Values[KeyPublicKey],
		PresharedKey: s.Values[KeyPresharedKey],
		AllowedIPs:   SplitList(s.Values[KeyAllowedIPs]),
		Endpoint:     s.Values[KeyEndpoint],
	}
	var err error
	p.PersistentKeepalive, err = optionalInt(s.Values, KeyPersistentKeepalive, s.Line)
	return p, err
}

// optionalInt returns nil when key is absent (or "off" for keepalive).
func optionalInt(values map[string]string, key string, line int) (*int, error) {
	raw, ok := values[key]
	if !ok {
		return nil, nil
	}
	if key == KeyPersistentKeepalive && strings.EqualFold(raw, "off") {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: section at line %d: %s is not an integer: %q", core.ErrParse, line, key, raw)
	}
	return &n, nil
}

// SplitList splits a comma separated value, trimming entries and dropping
// empty ones.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
