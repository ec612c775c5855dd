package serialmux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort implements SerialPorter with configurable behaviour for
// testing. Reads block until data is added or the port is closed, at which
// point they return io.EOF, so a SerialMux over it behaves like a live link.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// WriteLatency adds a delay to each Write call
	WriteLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// WriteCalls records the number of Write calls
	WriteCalls int

	// OnWrite, if set, is called with each write after it is buffered. Tests
	// use it to script device responses.
	OnWrite func(p []byte)

	readCond *sync.Cond
	eof      bool
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if t.ReadError != nil {
			err := t.ReadError
			t.ReadError = nil
			return 0, err
		}
		if t.ReadBuffer.Len() > 0 {
			return t.ReadBuffer.Read(p)
		}
		if t.Closed || t.eof {
			return 0, io.EOF
		}
		t.readCond.Wait()
	}
}

func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	t.WriteCalls++

	if t.Closed {
		t.mu.Unlock()
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		t.mu.Unlock()
		return 0, err
	}
	if t.WriteLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.WriteLatency)
		t.mu.Lock()
	}
	n, err = t.WriteBuffer.Write(p)
	onWrite := t.OnWrite
	t.mu.Unlock()

	if onWrite != nil {
		onWrite(append([]byte(nil), p...))
	}
	return n, err
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// IsClosed reports whether Close has been called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// SetReadError makes the next Read fail with err.
func (t *TestableSerialPort) SetReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// Hangup simulates the device end closing the link: buffered data is still
// delivered, then reads return io.EOF.
func (t *TestableSerialPort) Hangup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.eof = true
	t.readCond.Broadcast()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// MockPortOpener implements PortOpener for testing.
type MockPortOpener struct {
	mu sync.Mutex

	// Ports are returned by successive Open calls; the last one repeats.
	Ports []SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records the number of Open calls
	OpenCalls int
}

func (o *MockPortOpener) Open(context.Context) (SerialPorter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.OpenCalls++
	if o.Error != nil {
		return nil, o.Error
	}
	if len(o.Ports) == 0 {
		return nil, errors.New("no mock port configured")
	}
	port := o.Ports[0]
	if len(o.Ports) > 1 {
		o.Ports = o.Ports[1:]
	}
	return port, nil
}
