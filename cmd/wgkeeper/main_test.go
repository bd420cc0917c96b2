package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/monitor"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

type testEnv struct {
	dir     string
	cfgPath string

	mu    sync.Mutex
	calls []wireguard.Command
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{dir: dir, cfgPath: filepath.Join(dir, "wgkeeper.yaml")}
	cfg := `
paths:
  configDir: ` + filepath.Join(dir, "etc") + `
  backupDir: ` + filepath.Join(dir, "backups") + `
  keyDir: ` + filepath.Join(dir, "keys") + `
  statusDir: ` + filepath.Join(dir, "status") + `
tools:
  restartPauseMs: -1
metrics:
  listen: ""
`
	require.NoError(t, os.WriteFile(env.cfgPath, []byte(cfg), 0600))
	return env
}

// Run records the command and fails it, which sends key generation down
// the in-process fallback.
func (e *testEnv) Run(_ context.Context, inv wireguard.Invocation) ([]byte, error) {
	e.mu.Lock()
	e.calls = append(e.calls, inv.Cmd)
	e.mu.Unlock()
	switch inv.Cmd {
	case wireguard.CmdQuickDown, wireguard.CmdQuickUp:
		return nil, nil
	}
	return nil, &core.ToolError{Command: "wg", ExitCode: -1, Err: errors.New("not installed")}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&app{runner: e})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestKeysCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "keys", "generate", "--local-fallback", "--save", "alice")
	require.NoError(t, err)
	assert.NotContains(t, out, "private_key")
	privPath := filepath.Join(env.dir, "keys", "alice.key")
	assert.FileExists(t, privPath)

	priv, err := os.ReadFile(privPath)
	require.NoError(t, err)
	k, err := wgtypes.ParseKey(strings.TrimSpace(string(priv)))
	require.NoError(t, err)

	out, err = env.run(t, "keys", "show", "alice")
	require.NoError(t, err)
	assert.Equal(t, k.PublicKey().String()+"\n", out)

	_, err = env.run(t, "keys", "delete", "alice")
	require.NoError(t, err)
	assert.NoFileExists(t, privPath)

	_, err = env.run(t, "keys", "show", "alice")
	assert.ErrorIs(t, err, core.ErrNotFound)

	out, err = env.run(t, "keys", "psk")
	require.NoError(t, err)
	_, err = wgtypes.ParseKey(strings.TrimSpace(out))
	assert.NoError(t, err)
}

func TestKeysGenerateNeedsTool(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "keys", "generate", "--save", "alice")
	assert.ErrorIs(t, err, core.ErrDerivation)
	assert.ErrorIs(t, err, core.ErrExternalTool)
	assert.Equal(t, []wireguard.Command{wireguard.CmdPubKey}, env.calls)
	assert.NoFileExists(t, filepath.Join(env.dir, "keys", "alice.key"))

	// Key commands only touch the key directory.
	assert.NoDirExists(t, filepath.Join(env.dir, "etc"))
	assert.NoDirExists(t, filepath.Join(env.dir, "backups"))
}

func TestConfigServerAndValidate(t *testing.T) {
	env := newTestEnv(t)
	peer, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)

	out, err := env.run(t, "config", "server",
		"--interface", "wg0",
		"--address", "10.10.10.1/24",
		"--peer", peer.PublicKey().String()+"=10.10.10.2/32@vpn.example.com:51820")
	require.NoError(t, err)
	path := filepath.Join(env.dir, "etc", "wg0.conf")
	assert.Contains(t, out, path)
	assert.Contains(t, out, "public_key: ")

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	out, err = env.run(t, "config", "validate", path)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	bad := filepath.Join(env.dir, "bad.conf")
	require.NoError(t, os.WriteFile(bad, []byte("[Interface]\nPrivateKey = nope\nListenPort = 70000\n"), 0600))
	out, err = env.run(t, "config", "validate", bad)
	assert.ErrorIs(t, err, errInvalid)
	assert.Contains(t, out, "PrivateKey")
	assert.Contains(t, out, "ListenPort")

	out, err = env.run(t, "config", "server", "--interface", "wg1", "--private-key", "nope")
	assert.ErrorIs(t, err, errInvalid)
	assert.Contains(t, out, "PrivateKey")
	assert.NoFileExists(t, filepath.Join(env.dir, "etc", "wg1.conf"))
}

func TestConfigValidateReportsEachProblemOnce(t *testing.T) {
	env := newTestEnv(t)
	srv, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	peer, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(env.dir, "wg0.conf")
	text := "[Interface]\nPrivateKey = " + srv.String() + "\nAddress = 10.10.10.1/24\n" +
		"[Peer]\nPersistentKeepalive = 25\n" +
		"[Peer]\nPublicKey = " + peer.PublicKey().String() + "\nAllowedIPs = 10.10.10.2/32\n" +
		"[Peer]\nPublicKey = " + peer.PublicKey().String() + "\nAllowedIPs = 10.10.10.3/32\n"
	require.NoError(t, os.WriteFile(path, []byte(text), 0600))

	out, err := env.run(t, "config", "validate", path)
	assert.ErrorIs(t, err, errInvalid)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, out)
	assert.Contains(t, lines[0], "Peer[0].PublicKey")
	assert.Contains(t, lines[1], "Peer[0].AllowedIPs")
	assert.Contains(t, lines[2], "Peer[2].PublicKey")
	assert.Contains(t, lines[2], "duplicate of Peer[1]")
}

func TestConfigClient(t *testing.T) {
	env := newTestEnv(t)
	server, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)

	_, err = env.run(t, "config", "client",
		"--name", "laptop",
		"--address", "10.10.11.5/32",
		"--server-public-key", server.PublicKey().String(),
		"--endpoint", "vpn.example.com:51820",
		"--keepalive", "0")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(env.dir, "etc", "laptop.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Endpoint = vpn.example.com:51820")
	assert.NotContains(t, string(data), "PersistentKeepalive")
}

func TestBackupCommands(t *testing.T) {
	env := newTestEnv(t)
	peer, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	_, err = env.run(t, "config", "server", "--interface", "wg0", "--address", "10.10.10.1/24",
		"--peer", peer.PublicKey().String()+"=10.10.10.2/32")
	require.NoError(t, err)

	out, err := env.run(t, "backup", "create", "wg0")
	require.NoError(t, err)
	backup := strings.TrimSpace(out)
	assert.FileExists(t, backup)

	out, err = env.run(t, "backup", "list", "wg0", "--json")
	require.NoError(t, err)
	var records []core.BackupRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, backup, records[0].Path)

	out, err = env.run(t, "backup", "create", "wg9")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing backed up")

	env.calls = nil
	_, err = env.run(t, "backup", "restore", backup, "wg0")
	require.NoError(t, err)
	assert.Equal(t, []wireguard.Command{wireguard.CmdQuickDown, wireguard.CmdQuickUp}, env.calls)
}

func TestIfaceCommands(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "iface", "restart", "wg0")
	require.NoError(t, err)
	assert.Equal(t, []wireguard.Command{wireguard.CmdQuickDown, wireguard.CmdQuickUp}, env.calls)

	_, err = env.run(t, "iface", "restart", "wg0; reboot")
	assert.Error(t, err)

	_, err = env.run(t, "iface", "sync", "wg0")
	assert.ErrorIs(t, err, core.ErrNotFound, "no live config to sync")
}

func TestStatusCommand(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "status", "wg0")
	assert.ErrorIs(t, err, core.ErrNotFound)

	statusDir := filepath.Join(env.dir, "status")
	require.NoError(t, os.MkdirAll(statusDir, 0700))
	snap := &core.Snapshot{
		Timestamp: time.Unix(1700000000, 0),
		Interface: "wg0",
		PublicKey: "SRV=",
		Peers:     []core.PeerStatus{{PublicKey: "P1=", AllowedIPs: []string{"10.10.10.2/32"}, Type: core.PeerAdmin}},
	}
	require.NoError(t, monitor.WriteStatus(monitor.StatusPath(statusDir, "wg0"), snap, nil))

	out, err := env.run(t, "status", "wg0")
	require.NoError(t, err)
	var got core.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "SRV=", got.PublicKey)
	require.Len(t, got.Peers, 1)
	assert.Equal(t, core.PeerAdmin, got.Peers[0].Type)
}

func TestMonitorRequiresInterfaces(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("WGKEEPER_INTERFACES", "")
	require.NoError(t, os.WriteFile(env.cfgPath, append(mustRead(t, env.cfgPath), []byte("monitor:\n  interfaces: []\n")...), 0600))
	_, err := env.run(t, "monitor")
	assert.ErrorContains(t, err, "no interfaces")
}

func TestInvalidConfigFile(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.cfgPath, []byte("logging:\n  level: loud\n"), 0600))
	_, err := env.run(t, "status", "wg0")
	assert.ErrorContains(t, err, "invalid logging level")
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
