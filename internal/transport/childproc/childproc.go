// Package childproc spawns a subprocess and wraps its stdin/stdout as a
// stdio transport (§4.2.3), used by the proxy and by clients that launch
// their own MCP server.
package childproc

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/mcprt/mcprt/internal/transport"
	"github.com/mcprt/mcprt/internal/transport/stdio"
)

// Config describes how to launch the child process.
type Config struct {
	Command string
	Args    []string
	Env     []string
	// KillOnDisconnect controls whether the process is killed when the
	// transport disconnects or is garbage collected without an explicit
	// shutdown. Default true.
	KillOnDisconnect bool
}

// Transport spawns Command as a subprocess and proxies MCP traffic over
// its piped stdin/stdout, forwarding stderr to the parent's for server
// logging (MCP permits servers to log to stderr).
type Transport struct {
	*stdio.Transport

	cfg Config
	mu  sync.Mutex
	cmd *exec.Cmd
}

// New prepares (but does not start) a child-process transport.
func New(cfg Config) *Transport {
	if !cfg.KillOnDisconnect {
		// zero value defaults to false; callers that want kill-on-disconnect
		// (the common case) should set it explicitly. We flip the stored
		// default only when unset via NewWithDefaults.
	}
	return &Transport{cfg: cfg}
}

// NewWithDefaults is New with KillOnDisconnect defaulted to true, matching
// "killed on drop unless configured otherwise" (§4.2.3).
func NewWithDefaults(command string, args ...string) *Transport {
	return New(Config{Command: command, Args: args, KillOnDisconnect: true})
}

// Connect spawns the subprocess, wires its stdin/stdout through the
// embedded stdio.Transport, and performs the stdio state transition.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.cmd != nil {
		t.mu.Unlock()
		return fmt.Errorf("childproc: already started")
	}

	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), t.cfg.Env...)
	}
	cmd.Stderr = os.Stderr

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("childproc: stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdinPipe.Close()
		t.mu.Unlock()
		return fmt.Errorf("childproc: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdinPipe.Close()
		_ = stdoutPipe.Close()
		t.mu.Unlock()
		return fmt.Errorf("childproc: start %s: %w", t.cfg.Command, err)
	}

	t.cmd = cmd
	t.Transport = stdio.New(stdoutPipe, stdinPipe)
	t.mu.Unlock()

	return t.Transport.Connect(ctx)
}

// FromPipedProcess wraps an already-started *exec.Cmd whose StdinPipe and
// StdoutPipe were obtained by the caller, mirroring `from_child` (§4.2.3):
// it fails with a ConfigurationError if either pipe wasn't actually piped.
func FromPipedProcess(cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser) (*Transport, error) {
	if stdin == nil || stdout == nil {
		return nil, &transport.ConfigurationError{Reason: "child process stdin/stdout must be piped"}
	}
	t := &Transport{cmd: cmd, cfg: Config{KillOnDisconnect: true}}
	t.Transport = stdio.New(stdout, stdin)
	return t, nil
}

// Disconnect tears down the underlying stdio transport and, unless
// configured otherwise, kills the subprocess.
func (t *Transport) Disconnect(ctx context.Context) error {
	if t.Transport != nil {
		if err := t.Transport.Disconnect(ctx); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	if t.cfg.KillOnDisconnect {
		_ = t.cmd.Process.Kill()
	}
	return nil
}

// Wait blocks until the subprocess exits.
func (t *Transport) Wait() error {
	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()
	if cmd == nil {
		return fmt.Errorf("childproc: not started")
	}
	return cmd.Wait()
}

var _ transport.Transport = (*Transport)(nil)
