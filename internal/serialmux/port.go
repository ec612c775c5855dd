package serialmux

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a device link.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens the link to the scanner. The transport is chosen by
// configuration: a serial device or the plustekctl driver process.
type PortOpener interface {
	Open(ctx context.Context) (SerialPorter, error)
}

// SerialOpener opens a real serial port with go.bug.st/serial.
type SerialOpener struct {
	Path    string
	Options PortOptions
}

func (o SerialOpener) Open(context.Context) (SerialPorter, error) {
	mode, err := o.Options.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(o.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", o.Path, err)
	}
	return port, nil
}

// CommandOpener starts a driver process and talks to it over its stdio.
type CommandOpener struct {
	Path string
	Args []string
}

func (o CommandOpener) Open(ctx context.Context) (SerialPorter, error) {
	// The process must outlive ctx, which only bounds the connect attempt.
	cmd := exec.Command(o.Path, o.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", o.Path, err)
	}
	if err := ctx.Err(); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}
	return &processPort{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// processPort adapts a child process's stdio to SerialPorter. Reads see EOF
// once the process exits.
type processPort struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

func (p *processPort) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processPort) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *processPort) Close() error {
	p.closeOnce.Do(func() {
		p.stdin.Close()
		p.cmd.Process.Kill()
		if err := p.cmd.Wait(); err != nil {
			if _, exited := err.(*exec.ExitError); !exited {
				p.closeErr = err
			}
		}
	})
	return p.closeErr
}
