package pane

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
)

// readDeadline bounds every backend read so reader loops can observe a
// stop request promptly instead of blocking on a quiet child.
const readDeadline = 100 * time.Millisecond

// killWait bounds how long Close waits for the child after a kill.
const killWait = 2 * time.Second

// Backend abstracts the process transport under a session. Read returns
// (0, nil) when no data arrived within the read deadline.
type Backend interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Close() error
}

// NewBackend starts command under a PTY, falling back to plain pipes
// when PTY allocation fails. A degraded session beats no session.
func NewBackend(command string, args []string, cwd string, env []string, cols, rows int) (Backend, error) {
	if backend, err := newPTYBackend(command, args, cwd, env, cols, rows); err == nil {
		return backend, nil
	}
	return newPipeBackend(command, args, cwd, env)
}

// ptyBackend runs the child under a pseudo-terminal.
type ptyBackend struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

func newPTYBackend(command string, args []string, cwd string, env []string, cols, rows int) (*ptyBackend, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	return &ptyBackend{cmd: cmd, ptmx: ptmx}, nil
}

func (b *ptyBackend) Read(p []byte) (int, error) {
	if err := b.ptmx.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return b.ptmx.Read(p)
	}
	n, err := b.ptmx.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (b *ptyBackend) Write(p []byte) (int, error) {
	return b.ptmx.Write(p)
}

func (b *ptyBackend) Resize(cols, rows int) error {
	return pty.Setsize(b.ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

func (b *ptyBackend) Close() error {
	_ = b.ptmx.Close()
	return killAndWait(b.cmd)
}

// pipeBackend is the fallback transport: plain stdin/stdout pipes with
// stderr folded into stdout. Resize is a silent no-op.
type pipeBackend struct {
	cmd   *exec.Cmd
	stdin *os.File
	out   *os.File
}

func newPipeBackend(command string, args []string, cwd string, env []string) (*pipeBackend, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = outW
	if err := cmd.Start(); err != nil {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}
	// Parent keeps only its ends of the pipes.
	inR.Close()
	outW.Close()

	return &pipeBackend{cmd: cmd, stdin: inW, out: outR}, nil
}

func (b *pipeBackend) Read(p []byte) (int, error) {
	if err := b.out.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return b.out.Read(p)
	}
	n, err := b.out.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (b *pipeBackend) Write(p []byte) (int, error) {
	return b.stdin.Write(p)
}

func (b *pipeBackend) Resize(cols, rows int) error {
	return nil
}

func (b *pipeBackend) Close() error {
	_ = b.stdin.Close()
	_ = b.out.Close()
	return killAndWait(b.cmd)
}

// killAndWait kills the child and reaps it with a bounded wait so Close
// never hangs on an unkillable process.
func killAndWait(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Kill()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("process %d did not exit after kill", cmd.Process.Pid)
	}
}
