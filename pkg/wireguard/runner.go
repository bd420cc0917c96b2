package wireguard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/irctrakz/wgkeeper/pkg/core"
)

// Command is one of the tool invocations the service is allowed to make.
// Argument vectors are built from this enum only, which keeps the privilege
// boundary auditable.
type Command int

const (
	CmdGenKey    Command = iota // wg genkey
	CmdPubKey                   // wg pubkey < private key
	CmdGenPSK                   // wg genpsk
	CmdShow                     // wg show <iface>
	CmdShowDump                 // wg show <iface> dump
	CmdSyncConf                 // wg syncconf <iface> <path>
	CmdQuickUp                  // wg-quick up <iface>
	CmdQuickDown                // wg-quick down <iface>
)

var commandNames = map[Command]string{
	CmdGenKey:    "genkey",
	CmdPubKey:    "pubkey",
	CmdGenPSK:    "genpsk",
	CmdShow:      "show",
	CmdShowDump:  "show-dump",
	CmdSyncConf:  "syncconf",
	CmdQuickUp:   "quick-up",
	CmdQuickDown: "quick-down",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// Invocation is a request to run one allow-listed command.
type Invocation struct {
	Cmd       Command
	Interface string
	Path      string
	Stdin     []byte
}

// Runner executes allow-listed commands and returns their stdout. A non-zero
// exit or a missing binary yields a *core.ToolError.
type Runner interface {
	Run(ctx context.Context, inv Invocation) ([]byte, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, inv Invocation) ([]byte, error)

func (f RunnerFunc) Run(ctx context.Context, inv Invocation) ([]byte, error) { return f(ctx, inv) }

// ifaceName is the name check wg-quick applies (IFNAMSIZ-1 chars).
var ifaceName = regexp.MustCompile(`^[a-zA-Z0-9_=+.-]{1,15}$`)

// ValidInterfaceName reports whether name is usable as an interface name.
func ValidInterfaceName(name string) bool { return ifaceName.MatchString(name) }

// ExecRunner runs the wg / wg-quick binaries, optionally through sudo in
// non-interactive mode.
type ExecRunner struct {
	SudoPath    string
	UseSudo     bool
	WgPath      string
	WgQuickPath string
}

// NewExecRunner returns a runner using the binaries found on PATH.
func NewExecRunner(useSudo bool) *ExecRunner {
	return &ExecRunner{SudoPath: "/usr/bin/sudo", UseSudo: useSudo, WgPath: "wg", WgQuickPath: "wg-quick"}
}

// Argv builds the argument vector for inv or rejects it.
func (r *ExecRunner) Argv(inv Invocation) ([]string, error) {
	needIface := func() error {
		if !ValidInterfaceName(inv.Interface) {
			return fmt.Errorf("invalid interface name %q", inv.Interface)
		}
		return nil
	}

	var argv []string
	switch inv.Cmd {
	case CmdGenKey:
		argv = []string{r.WgPath, "genkey"}
	case CmdPubKey:
		argv = []string{r.WgPath, "pubkey"}
	case CmdGenPSK:
		argv = []string{r.WgPath, "genpsk"}
	case CmdShow:
		if err := needIface(); err != nil {
			return nil, err
		}
		argv = []string{r.WgPath, "show", inv.Interface}
	case CmdShowDump:
		if err := needIface(); err != nil {
			return nil, err
		}
		argv = []string{r.WgPath, "show", inv.Interface, "dump"}
	case CmdSyncConf:
		if err := needIface(); err != nil {
			return nil, err
		}
		if !filepath.IsAbs(inv.Path) || filepath.Clean(inv.Path) != inv.Path {
			return nil, fmt.Errorf("syncconf needs a clean absolute path, got %q", inv.Path)
		}
		argv = []string{r.WgPath, "syncconf", inv.Interface, inv.Path}
	case CmdQuickUp:
		if err := needIface(); err != nil {
			return nil, err
		}
		argv = []string{r.WgQuickPath, "up", inv.Interface}
	case CmdQuickDown:
		if err := needIface(); err != nil {
			return nil, err
		}
		argv = []string{r.WgQuickPath, "down", inv.Interface}
	default:
		return nil, fmt.Errorf("command %v is not allowed", inv.Cmd)
	}

	if r.UseSudo {
		argv = append([]string{r.SudoPath, "-n"}, argv...)
	}
	return argv, nil
}

// waitDelay bounds how long Run waits for output after ctx kills the tool.
const waitDelay = 2 * time.Second

// Run implements Runner. When ctx ends first the returned *core.ToolError
// wraps ctx.Err().
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) ([]byte, error) {
	argv, err := r.Argv(inv)
	if err != nil {
		return nil, &core.ToolError{Command: inv.Cmd.String(), ExitCode: -1, Err: err}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if inv.Stdin != nil {
		cmd.Stdin = bytes.NewReader(inv.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of a killed wg-quick can hold the output pipes open.
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		te := &core.ToolError{Command: argv[0], Args: argv[1:], ExitCode: -1, Stderr: stderr.String()}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		// A signalled process has no exit code, so keep its reason.
		if te.ExitCode < 0 {
			te.Err = err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			te.Err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return stdout.Bytes(), te
	}
	return stdout.Bytes(), nil
}
