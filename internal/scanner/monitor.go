package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/ballot.scanner/internal/timeutil"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollTimeout  = 2 * time.Second
)

// MonitorOptions configures a Monitor. Zero values select the defaults.
type MonitorOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    timeutil.Clock
}

// MonitorEvent is emitted by Monitor.Run: StatusChanged or MonitorError.
type MonitorEvent interface {
	isMonitorEvent()
}

// StatusChanged reports a status different from the last one emitted.
type StatusChanged struct {
	Status Status
}

// MonitorError reports a failed poll or an unmapped status code. It is the
// last event a Run emits.
type MonitorError struct {
	Err error
}

func (StatusChanged) isMonitorEvent() {}
func (MonitorError) isMonitorEvent()  {}

// Monitor polls a client's paper status and reports changes.
type Monitor struct {
	client   Client
	interval time.Duration
	timeout  time.Duration
	clock    timeutil.Clock
}

func NewMonitor(client Client, opts MonitorOptions) *Monitor {
	m := &Monitor{
		client:   client,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		clock:    opts.Clock,
	}
	if m.interval <= 0 {
		m.interval = DefaultPollInterval
	}
	if m.timeout <= 0 {
		m.timeout = DefaultPollTimeout
	}
	if m.clock == nil {
		m.clock = timeutil.RealClock{}
	}
	return m
}

// Run polls immediately and then every interval until ctx is done or a poll
// fails. Unchanged statuses are not emitted.
func (m *Monitor) Run(ctx context.Context, out chan<- MonitorEvent) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	var (
		last    Status
		emitted bool
	)
	for {
		status, err := m.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			m.emit(ctx, out, MonitorError{Err: err})
			return
		case !emitted || status != last:
			if !m.emit(ctx, out, StatusChanged{Status: status}) {
				return
			}
			last, emitted = status, true
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

func (m *Monitor) poll(ctx context.Context) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	code, err := m.client.PaperStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get paper status: %w", err)
	}
	return StatusFor(code)
}

func (m *Monitor) emit(ctx context.Context, out chan<- MonitorEvent, ev MonitorEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
