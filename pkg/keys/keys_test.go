package keys

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), "keys"), nil, LocalDeriver{})
}

func TestGenerate(t *testing.T) {
	m := newTestManager(t)
	kp, err := m.Generate(context.Background())
	require.NoError(t, err)

	assert.Regexp(t, `^[A-Za-z0-9+/]{43}=$`, kp.PrivateKey)
	assert.Regexp(t, `^[A-Za-z0-9+/]{43}=$`, kp.PublicKey)

	priv, err := wgtypes.ParseKey(kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey().String(), kp.PublicKey)
	assert.NotContains(t, kp.String(), kp.PrivateKey)
}

func TestToolDeriver(t *testing.T) {
	priv, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)

	var stdin string
	ok := ToolDeriver{Runner: wireguard.RunnerFunc(func(_ context.Context, inv wireguard.Invocation) ([]byte, error) {
		stdin = string(inv.Stdin)
		assert.Equal(t, wireguard.CmdPubKey, inv.Cmd)
		return []byte(priv.PublicKey().String() + "\n"), nil
	})}
	pub, err := ok.Derive(context.Background(), priv.String())
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey().String(), pub)
	assert.Equal(t, priv.String()+"\n", stdin)

	failing := ToolDeriver{Runner: wireguard.RunnerFunc(func(context.Context, wireguard.Invocation) ([]byte, error) {
		return nil, &core.ToolError{Command: "wg", ExitCode: 127}
	})}
	_, err = failing.Derive(context.Background(), priv.String())
	assert.ErrorIs(t, err, core.ErrDerivation)
	assert.ErrorIs(t, err, core.ErrExternalTool)

	garbage := ToolDeriver{Runner: wireguard.RunnerFunc(func(context.Context, wireguard.Invocation) ([]byte, error) {
		return []byte("nope\n"), nil
	})}
	_, err = garbage.Derive(context.Background(), priv.String())
	assert.ErrorIs(t, err, core.ErrDerivation)

	m := NewManager(t.TempDir(), nil, failing)
	_, err = m.Generate(context.Background())
	assert.ErrorIs(t, err, core.ErrDerivation)

	_, err = LocalDeriver{}.Derive(context.Background(), "short")
	assert.ErrorIs(t, err, core.ErrDerivation)
}

func TestFallbackDeriver(t *testing.T) {
	priv, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	var calls int
	d := FallbackDeriver{Primary: ToolDeriver{Runner: wireguard.RunnerFunc(func(context.Context, wireguard.Invocation) ([]byte, error) {
		calls++
		return nil, &core.ToolError{Command: "wg", ExitCode: -1}
	})}}

	pub, err := d.Derive(context.Background(), priv.String())
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey().String(), pub)
	assert.Equal(t, 1, calls)

	_, err = d.Derive(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrDerivation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Derive(ctx, priv.String())
	assert.ErrorIs(t, err, core.ErrExternalTool, "no local derivation once ctx is done")
}

func TestSaveLoad(t *testing.T) {
	m := newTestManager(t)
	kp, err := m.Generate(context.Background())
	require.NoError(t, err)

	privPath, pubPath, err := m.Save("server", kp)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Dir(), "server.key"), privPath)
	assert.Equal(t, filepath.Join(m.Dir(), "server.pub"), pubPath)

	fi, err := os.Stat(privPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
	fi, err = os.Stat(pubPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), fi.Mode().Perm())
	fi, err = os.Stat(m.Dir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), fi.Mode().Perm())

	loaded, err := m.Load("server")
	require.NoError(t, err)
	assert.Equal(t, kp, loaded)
}

func TestSaveRemovesPrivateKeyOnFailure(t *testing.T) {
	m := newTestManager(t)
	kp, err := m.Generate(context.Background())
	require.NoError(t, err)

	// A directory in place of the public key file makes its rename fail.
	pubDir := filepath.Join(m.Dir(), "server.pub")
	require.NoError(t, os.MkdirAll(pubDir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(pubDir, "keep"), nil, 0600))

	_, _, err = m.Save("server", kp)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(m.Dir(), "server.key"))

	_, err = m.Load("server")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLoadErrors(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Load("absent")
	assert.ErrorIs(t, err, core.ErrNotFound)

	kp, err := m.Generate(context.Background())
	require.NoError(t, err)
	_, pubPath, err := m.Save("half", kp)
	require.NoError(t, err)
	require.NoError(t, os.Remove(pubPath))
	_, err = m.Load("half")
	assert.ErrorIs(t, err, core.ErrNotFound)

	if os.Geteuid() != 0 {
		privPath, _, err := m.Save("locked", kp)
		require.NoError(t, err)
		require.NoError(t, os.Chmod(privPath, 0000))
		_, err = m.Load("locked")
		assert.ErrorIs(t, err, core.ErrPermissionDenied)
	}
}

func TestDelete(t *testing.T) {
	m := newTestManager(t)
	kp, err := m.Generate(context.Background())
	require.NoError(t, err)
	privPath, pubPath, err := m.Save("client1", kp)
	require.NoError(t, err)

	require.NoError(t, m.Delete("client1"))
	assert.NoFileExists(t, privPath)
	assert.NoFileExists(t, pubPath)

	// already gone
	assert.NoError(t, m.Delete("client1"))
}

func TestInvalidNames(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b"} {
		_, _, err := m.Save(name, core.KeyPair{})
		assert.ErrorIs(t, err, ErrInvalidName, name)
		_, err = m.Load(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
		assert.ErrorIs(t, m.Delete(name), ErrInvalidName, name)
	}
}
