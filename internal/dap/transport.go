package dap

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"

	godap "github.com/google/go-dap"
)

// Transport carries DAP messages to and from a debug adapter. Send may be
// called from multiple goroutines; Receive is called only by the client's
// receive loop.
type Transport interface {
	Send(msg godap.Message) error
	Receive() (godap.Message, error)
	Close() error
}

// stdioTransport talks to an adapter subprocess over its stdin/stdout.
type stdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

func newStdioTransport(cmd *exec.Cmd) (*stdioTransport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("get stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start adapter: %w", err)
	}

	return &stdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		reader: bufio.NewReader(stdout),
	}, nil
}

func (t *stdioTransport) Send(msg godap.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return godap.WriteProtocolMessage(t.stdin, msg)
}

func (t *stdioTransport) Receive() (godap.Message, error) {
	return godap.ReadProtocolMessage(t.reader)
}

// Close tears the adapter process down. Receive unblocks with an error once
// the pipes are closed.
func (t *stdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stdin.Close()
	t.stdout.Close()

	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}

	return t.cmd.Wait()
}

// RawTransport wraps any io.ReadWriteCloser as a Transport. It backs socket
// connections to already-running adapters and in-memory pipes in tests.
type RawTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewRawTransport creates a transport from any ReadWriteCloser.
func NewRawTransport(rwc io.ReadWriteCloser) *RawTransport {
	return &RawTransport{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// Send writes one framed message.
func (t *RawTransport) Send(msg godap.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return godap.WriteProtocolMessage(t.rwc, msg)
}

// Receive reads one framed message.
func (t *RawTransport) Receive() (godap.Message, error) {
	return godap.ReadProtocolMessage(t.reader)
}

// Close closes the underlying connection.
func (t *RawTransport) Close() error {
	return t.rwc.Close()
}
