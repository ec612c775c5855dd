package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/timeutil"
)

type statusResponse struct {
	code PaperStatus
	err  error
}

// fakeClient answers PaperStatus from a script; the last response repeats.
type fakeClient struct {
	mu        sync.Mutex
	responses []statusResponse
	calls     int
	block     bool
}

func (c *fakeClient) PaperStatus(ctx context.Context) (PaperStatus, error) {
	c.mu.Lock()
	c.calls++
	if c.block {
		c.mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	defer c.mu.Unlock()
	r := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return r.code, r.err
}

func (c *fakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeClient) Scan(context.Context) (ballot.SheetOf[string], error) {
	return ballot.SheetOf[string]{}, nil
}
func (c *fakeClient) Accept(context.Context) error                { return nil }
func (c *fakeClient) Reject(context.Context, RejectOptions) error { return nil }
func (c *fakeClient) Close() error                                { return nil }

func codes(cs ...PaperStatus) []statusResponse {
	out := make([]statusResponse, len(cs))
	for i, c := range cs {
		out[i] = statusResponse{code: c}
	}
	return out
}

func nextEvent(t *testing.T, events <-chan MonitorEvent) MonitorEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for monitor event")
		return nil
	}
}

func startMonitor(t *testing.T, m *Monitor) (<-chan MonitorEvent, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan MonitorEvent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, events)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return events, cancel, done
}

// tick advances the clock one interval once the client has been polled
// calls times.
func tick(t *testing.T, clock *timeutil.MockClock, client *fakeClient, calls int) {
	t.Helper()
	require.Eventually(t, func() bool { return client.Calls() >= calls }, time.Second, time.Millisecond)
	clock.Advance(DefaultPollInterval)
}

func TestMonitor_EmitsOnlyChanges(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	client := &fakeClient{responses: codes(
		NoPaperStatus,
		VtmDevReadyNoPaper,
		VtmReadyToScan,
		VtmReadyToScan,
		Jam,
	)}
	events, _, _ := startMonitor(t, NewMonitor(client, MonitorOptions{Clock: clock}))

	assert.Equal(t, StatusChanged{Status: NoPaper}, nextEvent(t, events))

	// Two no-paper codes map to the same status and are not repeated.
	tick(t, clock, client, 1)
	tick(t, clock, client, 2)
	assert.Equal(t, StatusChanged{Status: ReadyToScan}, nextEvent(t, events))

	tick(t, clock, client, 3)
	tick(t, clock, client, 4)
	assert.Equal(t, StatusChanged{Status: Jammed}, nextEvent(t, events))
	assert.Equal(t, 5, client.Calls())
}

func TestMonitor_UnmappedCodeStops(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	client := &fakeClient{responses: codes(VtmReadyToScan, "VtmSomethingNew")}
	events, _, done := startMonitor(t, NewMonitor(client, MonitorOptions{Clock: clock}))

	assert.Equal(t, StatusChanged{Status: ReadyToScan}, nextEvent(t, events))
	tick(t, clock, client, 1)

	ev, ok := nextEvent(t, events).(MonitorError)
	require.True(t, ok, "expected MonitorError")
	var unexpected *UnexpectedPaperStatusError
	require.ErrorAs(t, ev.Err, &unexpected)
	assert.Equal(t, PaperStatus("VtmSomethingNew"), unexpected.Code)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor kept running after an unmapped code")
	}
}

func TestMonitor_PollFailure(t *testing.T) {
	client := &fakeClient{responses: []statusResponse{{err: ErrDisconnected}}}
	events, _, done := startMonitor(t, NewMonitor(client, MonitorOptions{Clock: timeutil.NewMockClock(time.Unix(0, 0))}))

	ev, ok := nextEvent(t, events).(MonitorError)
	require.True(t, ok, "expected MonitorError")
	assert.ErrorIs(t, ev.Err, ErrDisconnected)
	assert.Contains(t, ev.Err.Error(), "failed to get paper status")
	<-done
}

func TestMonitor_PollTimeout(t *testing.T) {
	client := &fakeClient{block: true}
	m := NewMonitor(client, MonitorOptions{
		Timeout: 10 * time.Millisecond,
		Clock:   timeutil.NewMockClock(time.Unix(0, 0)),
	})
	events, _, _ := startMonitor(t, m)

	ev, ok := nextEvent(t, events).(MonitorError)
	require.True(t, ok, "expected MonitorError")
	assert.True(t, errors.Is(ev.Err, context.DeadlineExceeded), "got %v", ev.Err)
}

func TestMonitor_CancelIsSilent(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	client := &fakeClient{responses: codes(NoPaperStatus)}
	events, cancel, done := startMonitor(t, NewMonitor(client, MonitorOptions{Clock: clock}))

	nextEvent(t, events)
	require.Eventually(t, func() bool { return clock.ActiveTickers() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on cancel")
	}
	assert.Equal(t, 0, clock.ActiveTickers())
	select {
	case ev := <-events:
		t.Errorf("unexpected event after cancel: %#v", ev)
	default:
	}
}

func TestMonitor_EmitDoesNotBlockPastCancel(t *testing.T) {
	client := &fakeClient{responses: codes(VtmReadyToScan)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Nobody reads from the channel.
		NewMonitor(client, MonitorOptions{Clock: timeutil.NewMockClock(time.Unix(0, 0))}).Run(ctx, make(chan MonitorEvent))
	}()

	require.Eventually(t, func() bool { return client.Calls() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run blocked on emit after cancel")
	}
}

func TestNewMonitor_Defaults(t *testing.T) {
	m := NewMonitor(&fakeClient{}, MonitorOptions{})
	assert.Equal(t, DefaultPollInterval, m.interval)
	assert.Equal(t, DefaultPollTimeout, m.timeout)
	assert.IsType(t, timeutil.RealClock{}, m.clock)
}
