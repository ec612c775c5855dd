package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/monitoring"
	"github.com/banshee-data/ballot.scanner/internal/serialmux"
)

// plustekctl frames every response between delimiter lines and ends each
// command's output with a "ready" frame:
//
//	<<<>>>
//	get-paper-status: VtmReadyToScan
//	<<<>>>
//	<<<>>>
//	ready
//	<<<>>>
const (
	frameDelimiter = "<<<>>>"
	readyFrame     = "ready"
	errPrefix      = "err="
	filePrefix     = "file="
	okData         = "ok"
)

const quitTimeout = 2 * time.Second

// InvalidResponseError is a response line the client does not understand.
type InvalidResponseError struct {
	Line string
}

func (e *InvalidResponseError) Error() string {
	return "invalid response: " + e.Line
}

// UnexpectedDataError is a well-formed response carrying unknown data.
type UnexpectedDataError struct {
	Data string
}

func (e *UnexpectedDataError) Error() string {
	return "unexpected response data: " + e.Data
}

type response struct {
	frames []string
	err    error
}

// PlustekClient implements Client over a plustekctl link. Commands are
// answered in the order they were sent, so each sent command queues a
// waiter that receives the next complete response.
type PlustekClient struct {
	link   serialmux.SerialMuxInterface
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []chan response
	closed  bool
	done    chan struct{}
}

// NewPlustekClient starts reading link and waits for the driver's initial
// ready frame. The client owns link and closes it on Close.
func NewPlustekClient(ctx context.Context, link serialmux.SerialMuxInterface) (*PlustekClient, error) {
	monitorCtx, cancel := context.WithCancel(context.Background())
	c := &PlustekClient{
		link:   link,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	handshake := make(chan response, 1)
	c.pending = append(c.pending, handshake)

	id, lines := link.Subscribe()
	go c.readFrames(lines)
	go func() {
		if err := link.Monitor(monitorCtx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("[plustek] link closed: %v", err)
		}
		link.Unsubscribe(id)
	}()

	select {
	case r := <-handshake:
		if r.err != nil {
			c.shutdown()
			return nil, fmt.Errorf("connection error: %w", r.err)
		}
	case <-ctx.Done():
		c.shutdown()
		return nil, fmt.Errorf("connection error: %w", ctx.Err())
	}
	link.SetCommandHandler(c.RawCommand)
	return c, nil
}

// Connect returns a Connector that opens a link with opener and speaks the
// plustekctl protocol over it. Each new link is handed to active, when set,
// for the admin console.
func Connect(opener serialmux.PortOpener, active *serialmux.ActiveLink) Connector {
	return func(ctx context.Context) (Client, error) {
		port, err := opener.Open(ctx)
		if err != nil {
			return nil, err
		}
		link := serialmux.NewSerialMux(port)
		c, err := NewPlustekClient(ctx, link)
		if err != nil {
			return nil, err
		}
		if active != nil {
			active.Set(link)
		}
		return c, nil
	}
}

func (c *PlustekClient) readFrames(lines <-chan string) {
	var (
		frames  []string
		current []string
		inFrame bool
	)
	for line := range lines {
		if line == frameDelimiter {
			if inFrame {
				content := strings.Join(current, "\n")
				current = nil
				if content == readyFrame {
					c.deliver(response{frames: frames})
					frames = nil
				} else {
					frames = append(frames, content)
				}
			}
			inFrame = !inFrame
			continue
		}
		if inFrame {
			current = append(current, line)
		}
		// Text outside frames is driver chatter, such as the firmware banner.
	}
	c.disconnect()
}

func (c *PlustekClient) deliver(r response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		monitoring.Logf("[plustek] dropping unsolicited response %q", r.frames)
		return
	}
	next := c.pending[0]
	c.pending = c.pending[1:]
	next <- r
}

func (c *PlustekClient) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.pending {
		ch <- response{err: ErrDisconnected}
	}
	c.pending = nil
	close(c.done)
}

func (c *PlustekClient) shutdown() {
	c.cancel()
	c.link.Close()
	c.disconnect()
}

// Done is closed once the link to the driver is gone.
func (c *PlustekClient) Done() <-chan struct{} {
	return c.done
}

// command sends cmd and returns the frames of its response.
func (c *PlustekClient) command(ctx context.Context, cmd string) ([]string, error) {
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	// Sending under the lock keeps the waiter queue in wire order.
	if err := c.link.SendCommand(cmd); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	c.pending = append(c.pending, ch)
	c.mu.Unlock()

	select {
	case r := <-ch:
		return r.frames, r.err
	case <-ctx.Done():
		// The waiter stays queued and absorbs the late response.
		return nil, ctx.Err()
	}
}

// parse splits each frame of a response to cmd into its data.
func parse(cmd string, frames []string) ([]string, error) {
	data := make([]string, 0, len(frames))
	for _, f := range frames {
		rest, ok := strings.CutPrefix(f, cmd+": ")
		if !ok {
			return nil, &InvalidResponseError{Line: f}
		}
		if code, isErr := strings.CutPrefix(rest, errPrefix); isErr {
			return nil, &ScannerError{Command: cmd, Code: ErrorCode(code)}
		}
		data = append(data, rest)
	}
	return data, nil
}

func (c *PlustekClient) PaperStatus(ctx context.Context) (PaperStatus, error) {
	const cmd = "get-paper-status"
	frames, err := c.command(ctx, cmd)
	if err != nil {
		return "", err
	}
	data, err := parse(cmd, frames)
	if err != nil {
		return "", err
	}
	if len(data) != 1 {
		return "", &UnexpectedDataError{Data: strings.Join(data, ", ")}
	}
	return PaperStatus(data[0]), nil
}

func (c *PlustekClient) Scan(ctx context.Context) (ballot.SheetOf[string], error) {
	const cmd = "scan"
	frames, err := c.command(ctx, cmd)
	if err != nil {
		return ballot.SheetOf[string]{}, err
	}
	data, err := parse(cmd, frames)
	if err != nil {
		return ballot.SheetOf[string]{}, err
	}

	var (
		files []string
		ok    bool
	)
	for _, d := range data {
		if file, isFile := strings.CutPrefix(d, filePrefix); isFile {
			files = append(files, file)
			continue
		}
		if d == okData {
			ok = true
			continue
		}
		return ballot.SheetOf[string]{}, &UnexpectedDataError{Data: d}
	}
	if !ok {
		return ballot.SheetOf[string]{}, fmt.Errorf("scan did not complete")
	}
	if len(files) != 2 {
		return ballot.SheetOf[string]{}, fmt.Errorf("expected 2 scanned images, got %d", len(files))
	}
	return ballot.NewSheet(files[0], files[1]), nil
}

func (c *PlustekClient) Accept(ctx context.Context) error {
	return c.simple(ctx, "accept")
}

func (c *PlustekClient) Reject(ctx context.Context, opts RejectOptions) error {
	if opts.Hold {
		return c.simple(ctx, "reject-hold")
	}
	return c.simple(ctx, "reject")
}

// simple runs a command whose only success response is "<cmd>: ok".
func (c *PlustekClient) simple(ctx context.Context, cmd string) error {
	frames, err := c.command(ctx, cmd)
	if err != nil {
		return err
	}
	data, err := parse(cmd, frames)
	if err != nil {
		return err
	}
	for i, d := range data {
		if d != okData {
			return &InvalidResponseError{Line: frames[i]}
		}
	}
	if len(data) == 0 {
		return fmt.Errorf("%s: empty response", cmd)
	}
	return nil
}

// RawCommand runs an arbitrary driver command for the admin console and
// returns its response frames.
func (c *PlustekClient) RawCommand(ctx context.Context, cmd string) (string, error) {
	frames, err := c.command(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.Join(frames, "\n"), nil
}

// Close asks the driver to quit and closes the link. It reports
// ErrDisconnected if the link was already gone.
func (c *PlustekClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()

	err := c.simple(ctx, "quit")
	c.shutdown()
	return err
}
