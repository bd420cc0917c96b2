package core

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Error kinds. Operations wrap one of these so callers can branch with
// errors.Is, e.g. to choose between 404 and 400 at an API boundary.
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrParse            = errors.New("parse error")
	ErrMissingField     = errors.New("missing required field")
	ErrExternalTool     = errors.New("external tool failed")
	ErrDerivation       = errors.New("key derivation failed")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// OpError records the operation, interface and path an error happened in.
type OpError struct {
	Op        string
	Interface string
	Path      string
	Err       error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Interface != "" {
		b.WriteString(" [")
		b.WriteString(e.Interface)
		b.WriteString("]")
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OpError) Unwrap() error { return e.Err }

// FromOS classifies a filesystem error. Not-exist and permission errors are
// joined with ErrNotFound / ErrPermissionDenied; anything else is kept as is.
func FromOS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return &OpError{Op: op, Path: path, Err: err}
}

// ToolError is a failed external tool invocation.
type ToolError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Command, strings.Join(e.Args, " "))
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(": exit status %d", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Is(target error) bool { return target == ErrExternalTool }

func (e *ToolError) Unwrap() error { return e.Err }

// InvalidConfigError carries every validation problem found in a config a
// caller asked to write.
type InvalidConfigError struct {
	Errors []ValidationError
}

func (e *InvalidConfigError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		parts = append(parts, v.String())
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (e *InvalidConfigError) Is(target error) bool { return target == ErrInvalidConfig }
