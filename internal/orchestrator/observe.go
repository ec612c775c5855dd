package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ballot.scanner/internal/monitoring"
)

// TransitionLogger logs every state change. Only the interpretation type and
// reason are logged, never votes.
type TransitionLogger struct {
	// Logf defaults to monitoring.Logf.
	Logf func(format string, v ...interface{})
}

func (l TransitionLogger) StateChanged(c Change) {
	logf := l.Logf
	if logf == nil {
		logf = monitoring.Logf
	}

	var b strings.Builder
	fmt.Fprintf(&b, "state: %s -> %s on %s", c.From, c.To, c.Event)
	if in := c.Snapshot.Interpretation; in != nil {
		fmt.Fprintf(&b, " interpretation=%s", in.Type)
		if in.Reason != "" {
			fmt.Fprintf(&b, "/%s", in.Reason)
		}
	}
	if c.Snapshot.Error != "" {
		fmt.Fprintf(&b, " error=%q", c.Snapshot.Error)
	}
	if c.Snapshot.StorageError != "" {
		fmt.Fprintf(&b, " storage_error=%q", c.Snapshot.StorageError)
	}
	logf("%s", b.String())
}

// DefaultDwellSamples is how many dwell times are kept per state.
const DefaultDwellSamples = 500

// DwellStats measures how long the machine stays in each state.
type DwellStats struct {
	mu      sync.Mutex
	max     int
	entered time.Time
	current State
	started bool
	samples map[State][]float64
}

func NewDwellStats(maxSamples int) *DwellStats {
	if maxSamples <= 0 {
		maxSamples = DefaultDwellSamples
	}
	return &DwellStats{max: maxSamples, samples: make(map[State][]float64)}
}

func (d *DwellStats) StateChanged(c Change) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started && d.current == c.From {
		ms := float64(c.At.Sub(d.entered)) / float64(time.Millisecond)
		s := append(d.samples[c.From], ms)
		if len(s) > d.max {
			s = s[len(s)-d.max:]
		}
		d.samples[c.From] = s
	}
	d.current, d.entered, d.started = c.To, c.At, true
}

// DwellSummary describes the time spent in one state, in milliseconds.
type DwellSummary struct {
	State State   `json:"state"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	Max   float64 `json:"max_ms"`
}

// Summary returns one entry per state that has been left at least once, in
// state order.
func (d *DwellStats) Summary() []DwellSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []DwellSummary
	for _, s := range States() {
		samples := d.samples[s]
		if len(samples) == 0 {
			continue
		}
		sorted := append([]float64(nil), samples...)
		sort.Float64s(sorted)
		out = append(out, DwellSummary{
			State: s,
			Count: len(sorted),
			Mean:  stat.Mean(sorted, nil),
			P50:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
			P95:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
			Max:   sorted[len(sorted)-1],
		})
	}
	return out
}
