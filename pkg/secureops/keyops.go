package secureops

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/fsutil"
	"github.com/irctrakz/wgkeeper/pkg/keys"
	"github.com/irctrakz/wgkeeper/pkg/logging"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9+/]{43}=$`)

// toolKey runs a key command and returns its trimmed output if it looks
// like a key.
func (o *Ops) toolKey(ctx context.Context, inv wireguard.Invocation) (string, error) {
	out, err := o.runner.Run(ctx, inv)
	if err != nil {
		return "", err
	}
	k := strings.TrimSpace(string(out))
	if !keyPattern.MatchString(k) {
		return "", &core.ToolError{Command: "wg", Args: []string{inv.Cmd.String()}, ExitCode: 0, Stderr: "malformed key output"}
	}
	return k, nil
}

// fallback records that kind was produced in process.
func (o *Ops) fallback(kind string, cause error) {
	o.log.WithFields(logrus.Fields{"fallback": true, "kind": kind}).WithError(cause).
		Warn("wg tool unavailable, generating key material in process")
	o.metrics.KeyFallback(kind)
}

// GeneratePrivateKey returns a new private key from `wg genkey`, or from
// the local CSPRNG when the tool fails.
func (o *Ops) GeneratePrivateKey(ctx context.Context) (string, error) {
	k, err := o.toolKey(ctx, wireguard.Invocation{Cmd: wireguard.CmdGenKey})
	if err == nil {
		return k, nil
	}
	o.fallback("private", err)
	priv, gerr := wgtypes.GeneratePrivateKey()
	if gerr != nil {
		return "", &core.OpError{Op: "generate private key", Err: gerr}
	}
	return priv.String(), nil
}

// DerivePublicKey returns the public key of privateKey via `wg pubkey`,
// falling back to in-process derivation.
func (o *Ops) DerivePublicKey(ctx context.Context, privateKey string) (string, error) {
	pub, err := keys.ToolDeriver{Runner: o.runner}.Derive(ctx, privateKey)
	if err == nil {
		return pub, nil
	}
	o.fallback("public", err)
	return keys.LocalDeriver{}.Derive(ctx, privateKey)
}

// GeneratePresharedKey returns a new preshared key from `wg genpsk`, or
// from the local CSPRNG when the tool fails.
func (o *Ops) GeneratePresharedKey(ctx context.Context) (string, error) {
	k, err := o.toolKey(ctx, wireguard.Invocation{Cmd: wireguard.CmdGenPSK})
	if err == nil {
		return k, nil
	}
	o.fallback("preshared", err)
	psk, gerr := wgtypes.GenerateKey()
	if gerr != nil {
		return "", &core.OpError{Op: "generate preshared key", Err: gerr}
	}
	return psk.String(), nil
}

// SaveKey writes key to <ConfigDir>/<filename>: mode 0600 when private,
// 0640 otherwise, owned by the service account.
func (o *Ops) SaveKey(key, filename string, private bool) (string, error) {
	if err := checkFileName("save key", filename); err != nil {
		return "", err
	}
	path := filepath.Join(o.configDir, filename)
	mode := fsutil.ModeGroupPublic
	if private {
		mode = fsutil.ModePrivate
	}
	if err := fsutil.WriteAtomic(path, []byte(strings.TrimSpace(key)+"\n"), mode, o.owner); err != nil {
		return "", core.FromOS("save key", path, err)
	}
	entry := o.log.WithFields(logrus.Fields{"path": path, "private": private})
	if !private {
		entry = entry.WithField("public_key", logging.MaskKey(key))
	}
	entry.Info("saved key")
	return path, nil
}
