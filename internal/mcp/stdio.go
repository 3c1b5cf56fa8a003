package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/loomwork/loom/internal/pending"
)

// StdioTransport runs a tool server as a subprocess and exchanges one JSON
// value per line over its stdin/stdout, grounded on the teacher/pack's
// StdioCaller request-correlation loop but deliberately NOT reusing its
// `Content-Length:`-framed LSP-style wire encoding — this transport's
// framing is newline-delimited JSON.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writeM sync.Mutex

	pending *pending.Table[uint64, []byte]
	notify  func(method string, params json.RawMessage)

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStdioTransport starts command as a subprocess and begins reading its
// stdout in the background.
func NewStdioTransport(ctx context.Context, command string, args ...string) (*StdioTransport, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tool server: %w", err)
	}

	t := &StdioTransport{
		cmd:     cmd,
		stdin:   stdin,
		pending: pending.New[uint64, []byte](),
		closed:  make(chan struct{}),
	}
	go t.readLoop(stdout)
	return t, nil
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}

		if hasID(line) {
			var probe struct {
				ID uint64 `json:"id"`
			}
			if err := json.Unmarshal(line, &probe); err != nil {
				continue
			}
			t.pending.Resolve(probe.ID, line)
			continue
		}

		var n rpcNotification
		if err := json.Unmarshal(line, &n); err != nil {
			continue
		}
		if t.notify != nil {
			t.notify(n.Method, n.Params)
		}
	}
	close(t.closed)
}

func (t *StdioTransport) SetNotificationHandler(handler func(method string, params json.RawMessage)) {
	t.notify = handler
}

func (t *StdioTransport) Call(ctx context.Context, request []byte) ([]byte, error) {
	var probe struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(request, &probe); err != nil {
		return nil, fmt.Errorf("request missing id: %w", err)
	}

	waitCh, err := t.pending.Register(probe.ID)
	if err != nil {
		return nil, err
	}

	t.writeM.Lock()
	_, writeErr := t.stdin.Write(append(request, '\n'))
	t.writeM.Unlock()
	if writeErr != nil {
		t.pending.Cancel(probe.ID)
		return nil, fmt.Errorf("write request: %w", writeErr)
	}

	select {
	case raw := <-waitCh:
		return raw, nil
	case <-ctx.Done():
		t.pending.Cancel(probe.ID)
		return nil, ctx.Err()
	case <-t.closed:
		return nil, fmt.Errorf("tool server process exited")
	}
}

// Send writes a one-way notification to the subprocess's stdin without
// registering a correlation wait — no reply is expected.
func (t *StdioTransport) Send(ctx context.Context, notification []byte) error {
	t.writeM.Lock()
	_, err := t.stdin.Write(append(notification, '\n'))
	t.writeM.Unlock()
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		_ = t.stdin.Close()
		err = t.cmd.Process.Kill()
	})
	return err
}
