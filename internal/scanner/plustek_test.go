package scanner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/serialmux"
)

// frames renders driver output for one command: each line in its own frame,
// followed by the ready frame.
func frames(lines ...string) string {
	var b strings.Builder
	for _, l := range append(lines, readyFrame) {
		b.WriteString(frameDelimiter + "\n" + l + "\n" + frameDelimiter + "\n")
	}
	return b.String()
}

// fakeDriver answers commands written to port from a fixed table.
func fakeDriver(port *serialmux.TestableSerialPort, replies map[string]string) {
	port.OnWrite = func(p []byte) {
		cmd := strings.TrimSpace(string(p))
		if reply, ok := replies[cmd]; ok {
			port.AddReadData([]byte(reply))
		}
	}
}

func newTestClient(t *testing.T, replies map[string]string) (*PlustekClient, *serialmux.TestableSerialPort) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	fakeDriver(port, replies)
	port.AddReadData([]byte("plustekctl 1.2.0\nwaiting for device\n" + frames()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := NewPlustekClient(ctx, serialmux.NewSerialMux(port))
	require.NoError(t, err)
	t.Cleanup(func() { c.shutdown() })
	return c, port
}

func TestPlustekClient_PaperStatus(t *testing.T) {
	c, port := newTestClient(t, map[string]string{
		"get-paper-status": frames("get-paper-status: VtmReadyToScan"),
	})

	status, err := c.PaperStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VtmReadyToScan, status)
	assert.Equal(t, "get-paper-status\n", string(port.GetWrittenData()))
}

func TestPlustekClient_ErrorResponse(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"get-paper-status": frames("get-paper-status: err=NoDevices"),
		"scan":             frames("scan: err=PaperStatusErrorFeeding"),
	})

	_, err := c.PaperStatus(context.Background())
	var scannerErr *ScannerError
	require.ErrorAs(t, err, &scannerErr)
	assert.Equal(t, ErrNoDevices, scannerErr.Code)
	assert.Equal(t, "get-paper-status", scannerErr.Command)

	_, err = c.Scan(context.Background())
	require.ErrorAs(t, err, &scannerErr)
	assert.Equal(t, ErrPaperStatusErrorFeeding, scannerErr.Code)
}

func TestPlustekClient_Scan(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"scan": frames("scan: file=/tmp/scan/a.jpg", "scan: file=/tmp/scan/b.jpg", "scan: ok"),
	})

	sheet, err := c.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ballot.NewSheet("/tmp/scan/a.jpg", "/tmp/scan/b.jpg"), sheet)
}

func TestPlustekClient_ScanErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		check func(t *testing.T, err error)
	}{
		{
			name:  "unknown data",
			reply: frames("scan: file=/a.jpg", "scan: warming up", "scan: ok"),
			check: func(t *testing.T, err error) {
				var unexpected *UnexpectedDataError
				require.ErrorAs(t, err, &unexpected)
				assert.Equal(t, "unexpected response data: warming up", err.Error())
			},
		},
		{
			name:  "wrong prefix",
			reply: frames("accept: ok"),
			check: func(t *testing.T, err error) {
				var invalid *InvalidResponseError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, "invalid response: accept: ok", err.Error())
			},
		},
		{
			name:  "one image",
			reply: frames("scan: file=/a.jpg", "scan: ok"),
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "expected 2 scanned images, got 1")
			},
		},
		{
			name:  "no ok",
			reply: frames("scan: file=/a.jpg", "scan: file=/b.jpg"),
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "did not complete")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, map[string]string{"scan": tt.reply})
			_, err := c.Scan(context.Background())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestPlustekClient_AcceptAndReject(t *testing.T) {
	c, port := newTestClient(t, map[string]string{
		"accept":      frames("accept: ok"),
		"reject":      frames("reject: ok"),
		"reject-hold": frames("reject-hold: ok"),
	})

	ctx := context.Background()
	require.NoError(t, c.Accept(ctx))
	require.NoError(t, c.Reject(ctx, RejectOptions{}))
	require.NoError(t, c.Reject(ctx, RejectOptions{Hold: true}))
	assert.Equal(t, "accept\nreject\nreject-hold\n", string(port.GetWrittenData()))
}

func TestPlustekClient_SimpleCommandRejectsOtherData(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"accept": frames("accept: maybe"),
	})

	err := c.Accept(context.Background())
	var invalid *InvalidResponseError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "accept: maybe", invalid.Line)
}

func TestPlustekClient_ResponsesMatchCommandOrder(t *testing.T) {
	// The driver answers both commands only after the second is written.
	port := serialmux.NewTestableSerialPort()
	writes := 0
	port.OnWrite = func(p []byte) {
		writes++
		if writes == 2 {
			port.AddReadData([]byte(frames("get-paper-status: VtmReadyToEject") + frames("accept: ok")))
		}
	}
	port.AddReadData([]byte(frames()))
	c, err := NewPlustekClient(context.Background(), serialmux.NewSerialMux(port))
	require.NoError(t, err)
	t.Cleanup(func() { c.shutdown() })

	statusCh := make(chan PaperStatus, 1)
	go func() {
		s, _ := c.PaperStatus(context.Background())
		statusCh <- s
	}()
	require.Eventually(t, func() bool { return len(port.GetWrittenData()) > 0 }, time.Second, time.Millisecond)

	require.NoError(t, c.Accept(context.Background()))
	assert.Equal(t, VtmReadyToEject, <-statusCh)
}

func TestPlustekClient_Disconnect(t *testing.T) {
	c, port := newTestClient(t, map[string]string{})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.PaperStatus(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return len(port.GetWrittenData()) > 0 }, time.Second, time.Millisecond)
	port.Hangup()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("pending command was not failed on disconnect")
	}
	<-c.Done()

	_, err := c.Scan(context.Background())
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestPlustekClient_CommandContext(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.PaperStatus(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPlustekClient_Close(t *testing.T) {
	c, port := newTestClient(t, map[string]string{
		"quit": frames("quit: ok"),
	})

	require.NoError(t, c.Close())
	assert.True(t, strings.HasSuffix(string(port.GetWrittenData()), "quit\n"))
	<-c.Done()

	assert.ErrorIs(t, c.Close(), ErrDisconnected)
	assert.ErrorIs(t, c.Accept(context.Background()), ErrDisconnected)
}

func TestNewPlustekClient_NoHandshake(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	port.AddReadData([]byte("plustekctl 1.2.0\n"))
	port.Hangup()

	_, err := NewPlustekClient(context.Background(), serialmux.NewSerialMux(port))
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorContains(t, err, "connection error")
}

func TestNewPlustekClient_HandshakeTimeout(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewPlustekClient(ctx, serialmux.NewSerialMux(port))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, port.IsClosed())
}

func TestPlustekClient_RawCommandFromConsole(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	fakeDriver(port, map[string]string{
		"get-paper-status": frames("get-paper-status: VtmDevReadyNoPaper"),
	})
	port.AddReadData([]byte(frames()))
	link := serialmux.NewSerialMux(port)
	c, err := NewPlustekClient(context.Background(), link)
	require.NoError(t, err)
	t.Cleanup(func() { c.shutdown() })

	out, err := link.RunCommand(context.Background(), "get-paper-status")
	require.NoError(t, err)
	assert.Equal(t, "get-paper-status: VtmDevReadyNoPaper", out)
}

func TestConnect(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	fakeDriver(port, map[string]string{
		"get-paper-status": frames("get-paper-status: NoPaperStatus"),
	})
	port.AddReadData([]byte(frames()))
	opener := &serialmux.MockPortOpener{Ports: []serialmux.SerialPorter{port}}
	active := serialmux.NewActiveLink()
	defer active.Close()

	client, err := Connect(opener, active)(context.Background())
	require.NoError(t, err)
	defer client.(*PlustekClient).shutdown()

	out, err := active.RunCommand(context.Background(), "get-paper-status")
	require.NoError(t, err)
	assert.Equal(t, "get-paper-status: NoPaperStatus", out)
	assert.Equal(t, 1, opener.OpenCalls)
}

func TestConnect_OpenError(t *testing.T) {
	opener := &serialmux.MockPortOpener{Error: errors.New("no such device")}
	_, err := Connect(opener, nil)(context.Background())
	assert.ErrorContains(t, err, "no such device")
}
