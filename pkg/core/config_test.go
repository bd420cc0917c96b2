package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"testing"
)

// TestInterfaceConfig tests the InterfaceConfig structure.
func TestInterfaceConfig(t *testing.T) {
	config := InterfaceConfig{
		PrivateKey: "private-key",
		Address:    []string{"10.10.10.1/24"},
		ListenPort: IntPtr(51820),
		Peers: []PeerConfig{
			{
				PublicKey:           "public-key-1",
				AllowedIPs:          []string{"10.10.10.2/32"},
				Endpoint:            "192.168.1.2:51820",
				PersistentKeepalive: IntPtr(25),
			},
			{
				PublicKey:  "public-key-2",
				AllowedIPs: []string{"10.10.11.0/24", "172.16.0.0/24"},
			},
		},
	}

	if *config.ListenPort != 51820 {
		t.Errorf("Expected ListenPort to be 51820, got %d", *config.ListenPort)
	}

	peer, ok := config.FindPeer("public-key-2")
	if !ok {
		t.Fatalf("Expected to find public-key-2")
	}
	if peer.PersistentKeepalive != nil {
		t.Errorf("Expected PersistentKeepalive to be unset, got %d", *peer.PersistentKeepalive)
	}
	if len(peer.AllowedIPs) != 2 || peer.AllowedIPs[1] != "172.16.0.0/24" {
		t.Errorf("Unexpected AllowedIPs %v", peer.AllowedIPs)
	}

	if _, ok := config.FindPeer("missing"); ok {
		t.Errorf("Expected no peer for unknown key")
	}
}

// TestSecretsNotSerialized makes sure key material never reaches JSON output.
func TestSecretsNotSerialized(t *testing.T) {
	config := InterfaceConfig{
		PrivateKey: "SECRET-PRIVATE",
		Address:    []string{"10.0.0.1/24"},
		Peers:      []PeerConfig{{PublicKey: "pub", PresharedKey: "SECRET-PSK", AllowedIPs: []string{"10.0.0.2/32"}}},
	}
	data, err := json.Marshal(config)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "SECRET") {
		t.Errorf("secret leaked into JSON: %s", data)
	}

	kp := KeyPair{PrivateKey: "SECRET-PRIVATE", PublicKey: "pub"}
	if strings.Contains(fmt.Sprint(kp), "SECRET") {
		t.Errorf("secret leaked via String: %v", kp)
	}
}

func TestFromOS(t *testing.T) {
	_, err := os.Open("/definitely/not/here")
	wrapped := FromOS("open", "/definitely/not/here", err)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", wrapped)
	}
	if !errors.Is(wrapped, fs.ErrNotExist) {
		t.Errorf("Expected fs.ErrNotExist to stay visible, got %v", wrapped)
	}

	perm := FromOS("read", "/x", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission})
	if !errors.Is(perm, ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got %v", perm)
	}

	var opErr *OpError
	if !errors.As(perm, &opErr) || opErr.Op != "read" {
		t.Errorf("Expected OpError with op read, got %v", perm)
	}

	if FromOS("noop", "", nil) != nil {
		t.Errorf("Expected nil for nil error")
	}
}

func TestToolErrorIs(t *testing.T) {
	err := fmt.Errorf("restart: %w", &ToolError{Command: "wg-quick", Args: []string{"down", "wg0"}, ExitCode: 1, Stderr: "no such device\n"})
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("Expected ErrExternalTool")
	}
	if !strings.Contains(err.Error(), "no such device") {
		t.Errorf("Expected stderr in message, got %q", err.Error())
	}
}

func TestInvalidConfigError(t *testing.T) {
	err := &InvalidConfigError{Errors: []ValidationError{{Field: "PrivateKey", Message: "must not be empty"}}}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig")
	}
	if !strings.Contains(err.Error(), "PrivateKey: must not be empty") {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestSnapshotHelpers(t *testing.T) {
	s := Snapshot{Peers: []PeerStatus{{PublicKey: "a", Online: true}, {PublicKey: "b"}}}
	if s.OnlineCount() != 1 {
		t.Errorf("Expected 1 online peer, got %d", s.OnlineCount())
	}
	if p, ok := s.Peer("b"); !ok || p.Online {
		t.Errorf("Unexpected peer lookup result %+v %v", p, ok)
	}
}
