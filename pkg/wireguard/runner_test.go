package wireguard

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/wgkeeper/pkg/core"
)

func TestArgv(t *testing.T) {
	r := &ExecRunner{SudoPath: "/usr/bin/sudo", WgPath: "wg", WgQuickPath: "wg-quick"}

	tests := []struct {
		inv  Invocation
		want []string
	}{
		{Invocation{Cmd: CmdGenKey}, []string{"wg", "genkey"}},
		{Invocation{Cmd: CmdPubKey, Stdin: []byte("x")}, []string{"wg", "pubkey"}},
		{Invocation{Cmd: CmdGenPSK}, []string{"wg", "genpsk"}},
		{Invocation{Cmd: CmdShow, Interface: "wg0"}, []string{"wg", "show", "wg0"}},
		{Invocation{Cmd: CmdShowDump, Interface: "wg0"}, []string{"wg", "show", "wg0", "dump"}},
		{Invocation{Cmd: CmdSyncConf, Interface: "wg0", Path: "/tmp/wg0.conf"}, []string{"wg", "syncconf", "wg0", "/tmp/wg0.conf"}},
		{Invocation{Cmd: CmdQuickUp, Interface: "wg0"}, []string{"wg-quick", "up", "wg0"}},
		{Invocation{Cmd: CmdQuickDown, Interface: "wg0"}, []string{"wg-quick", "down", "wg0"}},
	}
	for _, tt := range tests {
		t.Run(tt.inv.Cmd.String(), func(t *testing.T) {
			got, err := r.Argv(tt.inv)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	r.UseSudo = true
	got, err := r.Argv(Invocation{Cmd: CmdQuickUp, Interface: "wg0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/sudo", "-n", "wg-quick", "up", "wg0"}, got)
}

func TestArgvRejects(t *testing.T) {
	r := NewExecRunner(false)
	bad := []Invocation{
		{Cmd: CmdShow, Interface: ""},
		{Cmd: CmdShow, Interface: "wg0; rm -rf /"},
		{Cmd: CmdQuickUp, Interface: "a-very-long-interface-name"},
		{Cmd: CmdSyncConf, Interface: "wg0", Path: "relative.conf"},
		{Cmd: CmdSyncConf, Interface: "wg0", Path: "/tmp/../etc/shadow"},
		{Cmd: Command(99)},
	}
	for _, inv := range bad {
		_, err := r.Argv(inv)
		assert.Error(t, err, "%+v", inv)
	}

	_, err := r.Run(context.Background(), Invocation{Cmd: CmdShow, Interface: "bad name"})
	assert.ErrorIs(t, err, core.ErrExternalTool)
}

func TestExecRunnerRun(t *testing.T) {
	echo, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("echo not available")
	}
	r := &ExecRunner{WgPath: echo, WgQuickPath: echo}

	out, err := r.Run(context.Background(), Invocation{Cmd: CmdShow, Interface: "wg0"})
	require.NoError(t, err)
	assert.Equal(t, "show wg0\n", string(out))
}

func TestExecRunnerFailures(t *testing.T) {
	falseBin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	r := &ExecRunner{WgPath: falseBin, WgQuickPath: falseBin}

	_, err = r.Run(context.Background(), Invocation{Cmd: CmdQuickDown, Interface: "wg0"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExternalTool)
	var te *core.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, te.ExitCode)
	assert.Equal(t, []string{"down", "wg0"}, te.Args)

	r = &ExecRunner{WgPath: "/nonexistent/wg"}
	_, err = r.Run(context.Background(), Invocation{Cmd: CmdGenKey})
	require.True(t, errors.As(err, &te))
	assert.Equal(t, -1, te.ExitCode)
	assert.Error(t, te.Err)
}

func TestExecRunnerCancelled(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	// Stands in for a wg that hangs, with a child that inherits stdout.
	slow := filepath.Join(t.TempDir(), "wg")
	require.NoError(t, os.WriteFile(slow, []byte("#!/bin/sh\nsleep 5\n"), 0755))
	r := &ExecRunner{WgPath: slow, WgQuickPath: slow}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := r.Run(ctx, Invocation{Cmd: CmdShow, Interface: "wg0"})
	assert.Less(t, time.Since(start), 4*time.Second)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, core.ErrExternalTool)
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestValidInterfaceName(t *testing.T) {
	assert.True(t, ValidInterfaceName("wg0"))
	assert.True(t, ValidInterfaceName("wg-admin.1"))
	assert.False(t, ValidInterfaceName(""))
	assert.False(t, ValidInterfaceName("wg/0"))
	assert.False(t, ValidInterfaceName("sixteen-chars-xx"))
}
