package wgconf

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/irctrakz/wgkeeper/pkg/core"
)

var (
	keyPattern  = regexp.MustCompile(`^[A-Za-z0-9+/]{43}=$`)
	hostPattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)
)

// All validators accumulate: every applicable check runs and every problem
// is reported. None of them returns a Go error.

func invalid(field, format string, args ...interface{}) core.ValidationError {
	return core.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateKey checks the 44 character base64 key format. An empty key is
// reported separately from a malformed one.
func ValidateKey(field, key string) []core.ValidationError {
	if key == "" {
		return []core.ValidationError{invalid(field, "key must not be empty")}
	}
	if !keyPattern.MatchString(key) {
		return []core.ValidationError{invalid(field, "invalid key format")}
	}
	return nil
}

// ValidateCIDRs checks each entry parses as an IPv4 or IPv6 network. A bare
// address counts as a host network. At least one entry is required.
func ValidateCIDRs(field string, entries []string) []core.ValidationError {
	var errs []core.ValidationError
	if len(entries) == 0 {
		errs = append(errs, invalid(field, "at least one address is required"))
	}
	for _, e := range entries {
		if !isNetwork(e) {
			errs = append(errs, invalid(field, "invalid IP network: %q", e))
		}
	}
	return errs
}

func isNetwork(s string) bool {
	s = strings.TrimSpace(s)
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// ValidatePort checks raw is an integer in [1, 65535].
func ValidatePort(field, raw string) []core.ValidationError {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return []core.ValidationError{invalid(field, "port must be an integer")}
	}
	return validatePortRange(field, port)
}

func validatePortRange(field string, port int) []core.ValidationError {
	if port < 1 || port > 65535 {
		return []core.ValidationError{invalid(field, "port must be between 1 and 65535")}
	}
	return nil
}

// ValidateEndpoint checks host:port with exactly one colon. The host is a
// hostname of [a-zA-Z0-9.-] or an IP literal.
func ValidateEndpoint(field, endpoint string) []core.ValidationError {
	if strings.Count(endpoint, ":") != 1 {
		return []core.ValidationError{invalid(field, "endpoint must have the form host:port")}
	}
	host, port, _ := strings.Cut(endpoint, ":")
	errs := ValidatePort(field, port)
	if !hostPattern.MatchString(host) {
		if _, err := netip.ParseAddr(host); err != nil {
			errs = append(errs, invalid(field, "invalid hostname or IP address: %q", host))
		}
	}
	return errs
}

// ValidateKeepalive checks raw is a non-negative integer. "off" is accepted
// as wg does.
func ValidateKeepalive(field, raw string) []core.ValidationError {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "off") {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return []core.ValidationError{invalid(field, "keepalive must be an integer")}
	}
	if n < 0 {
		return []core.ValidationError{invalid(field, "keepalive must not be negative")}
	}
	return nil
}

// ValidateDNS checks each resolver is an IP address.
func ValidateDNS(field string, entries []string) []core.ValidationError {
	var errs []core.ValidationError
	for _, e := range entries {
		if _, err := netip.ParseAddr(e); err != nil {
			errs = append(errs, invalid(field, "invalid DNS server: %q", e))
		}
	}
	return errs
}

// ValidateInterface validates the raw key/value map of an [Interface]
// section. PrivateKey and Address are required.
func ValidateInterface(values map[string]string) []core.ValidationError {
	var errs []core.ValidationError
	if key, ok := values[KeyPrivateKey]; ok {
		errs = append(errs, ValidateKey(KeyPrivateKey, key)...)
	} else {
		errs = append(errs, invalid(KeyPrivateKey, "PrivateKey is required"))
	}
	if addr, ok := values[KeyAddress]; ok {
		errs = append(errs, ValidateCIDRs(KeyAddress, SplitList(addr))...)
	} else {
		errs = append(errs, invalid(KeyAddress, "Address is required"))
	}
	if port, ok := values[KeyListenPort]; ok {
		errs = append(errs, ValidatePort(KeyListenPort, port)...)
	}
	if dns, ok := values[KeyDNS]; ok {
		errs = append(errs, ValidateDNS(KeyDNS, SplitList(dns))...)
	}
	return errs
}

// ValidatePeer validates the raw key/value map of a [Peer] section.
// PublicKey and AllowedIPs are required.
func ValidatePeer(values map[string]string) []core.ValidationError {
	var errs []core.ValidationError
	if key, ok := values[KeyPublicKey]; ok {
		errs = append(errs, ValidateKey(KeyPublicKey, key)...)
	} else {
		errs = append(errs, invalid(KeyPublicKey, "PublicKey is required"))
	}
	if ips, ok := values[KeyAllowedIPs]; ok {
		errs = append(errs, ValidateCIDRs(KeyAllowedIPs, SplitList(ips))...)
	} else {
		errs = append(errs, invalid(KeyAllowedIPs, "AllowedIPs is required"))
	}
	if psk, ok := values[KeyPresharedKey]; ok {
		errs = append(errs, ValidateKey(KeyPresharedKey, psk)...)
	}
	if ep, ok := values[KeyEndpoint]; ok {
		errs = append(errs, ValidateEndpoint(KeyEndpoint, ep)...)
	}
	if ka, ok := values[KeyPersistentKeepalive]; ok {
		errs = append(errs, ValidateKeepalive(KeyPersistentKeepalive, ka)...)
	}
	return errs
}

// ValidateText validates every section of a config text. Only structurally
// unreadable text yields an error.
func ValidateText(text string) ([]core.ValidationError, error) {
	sections, err := SplitSections(text)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 || sections[0].Name != SectionInterface {
		return nil, fmt.Errorf("%w: configuration must start with an [Interface] section", core.ErrParse)
	}
	errs := ValidateInterface(sections[0].Values)
	peer := 0
	for _, s := range sections[1:] {
		if s.Name != SectionPeer {
			continue
		}
		errs = append(errs, prefixed(fmt.Sprintf("Peer[%d].", peer), ValidatePeer(s.Values))...)
		peer++
	}
	return errs, nil
}

// ValidateConfig validates a typed config, including that peer public keys
// are unique within the interface.
func ValidateConfig(cfg *core.InterfaceConfig) []core.ValidationError {
	var errs []core.ValidationError
	errs = append(errs, ValidateKey(KeyPrivateKey, cfg.PrivateKey)...)
	errs = append(errs, ValidateCIDRs(KeyAddress, cfg.Address)...)
	if cfg.ListenPort != nil {
		errs = append(errs, validatePortRange(KeyListenPort, *cfg.ListenPort)...)
	}
	errs = append(errs, ValidateDNS(KeyDNS, cfg.DNS)...)

	for i, p := range cfg.Peers {
		prefix := fmt.Sprintf("Peer[%d].", i)
		var perrs []core.ValidationError
		perrs = append(perrs, ValidateKey(KeyPublicKey, p.PublicKey)...)
		perrs = append(perrs, ValidateCIDRs(KeyAllowedIPs, p.AllowedIPs)...)
		if p.PresharedKey != "" {
			perrs = append(perrs, ValidateKey(KeyPresharedKey, p.PresharedKey)...)
		}
		if p.Endpoint != "" {
			perrs = append(perrs, ValidateEndpoint(KeyEndpoint, p.Endpoint)...)
		}
		if p.PersistentKeepalive != nil && *p.PersistentKeepalive < 0 {
			perrs = append(perrs, invalid(KeyPersistentKeepalive, "keepalive must not be negative"))
		}
		errs = append(errs, prefixed(prefix, perrs)...)
	}
	return append(errs, ValidateUniquePeers(cfg)...)
}

// ValidateUniquePeers reports every peer whose public key repeats an
// earlier peer's. Empty keys are left to the per-peer checks.
func ValidateUniquePeers(cfg *core.InterfaceConfig) []core.ValidationError {
	var errs []core.ValidationError
	seen := map[string]int{}
	for i, p := range cfg.Peers {
		if p.PublicKey == "" {
			continue
		}
		if first, dup := seen[p.PublicKey]; dup {
			errs = append(errs, invalid(fmt.Sprintf("Peer[%d].%s", i, KeyPublicKey), "duplicate of Peer[%d]", first))
			continue
		}
		seen[p.PublicKey] = i
	}
	return errs
}

func prefixed(prefix string, errs []core.ValidationError) []core.ValidationError {
	for i := range errs {
		errs[i].Field = prefix + errs[i].Field
	}
	return errs
}
