package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/interpret"
	"github.com/banshee-data/ballot.scanner/internal/scanner"
	"github.com/banshee-data/ballot.scanner/internal/timeutil"
)

var (
	ErrDebugCommandsDisabled = errors.New("debug commands are disabled")
	ErrNotRunning            = errors.New("orchestrator is not running")
)

// inboxSize bounds queued commands and activity results.
const inboxSize = 64

// SheetRecorder stores the outcome of each accepted, returned or rejected
// sheet.
type SheetRecorder interface {
	RecordSheet(ctx context.Context, rec ballot.SheetRecord) error
}

// Change describes one state change.
type Change struct {
	From     State
	To       State
	Event    string
	At       time.Time
	Snapshot Snapshot
}

// Observer is told about every state change. It is called from the event
// loop and must not block.
type Observer interface {
	StateChanged(Change)
}

// Options configures an Orchestrator.
type Options struct {
	Connect     scanner.Connector
	Interpreter interpret.Interpreter
	Recorder    SheetRecorder
	// Init runs once before the first connection. An error halts the
	// orchestrator in the configuring state.
	Init   func(ctx context.Context) error
	Delays Delays
	Clock  timeutil.Clock
	// AllowDebugCommands enables SetInterpretationMode(ModeSkip).
	AllowDebugCommands bool
	Observers          []Observer
}

// Orchestrator runs the state machine. Run owns the machine and the scanner
// client; every other method is safe for concurrent use.
type Orchestrator struct {
	opts  Options
	inbox chan tagged
	done  chan struct{}

	mu       sync.RWMutex
	snapshot Snapshot

	// Owned by the Run goroutine.
	client scanner.Client
}

// tagged is an inbound event. Activity results carry the epoch of the state
// that started them; commands are never stale.
type tagged struct {
	epoch   uint64
	command bool
	ev      Event
}

func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Delays == (Delays{}) {
		opts.Delays = DefaultDelays()
	}
	m, _ := NewMachine(opts.Delays)
	return &Orchestrator{
		opts:     opts,
		inbox:    make(chan tagged, inboxSize),
		done:     make(chan struct{}),
		snapshot: newSnapshot(m),
	}
}

// Scan asks the scanner to scan the sheet waiting in front.
func (o *Orchestrator) Scan() error { return o.command(ScanCommand{}) }

// Accept accepts the sheet held in back.
func (o *Orchestrator) Accept() error { return o.command(AcceptCommand{}) }

// Return gives a sheet that needs review back to the voter.
func (o *Orchestrator) Return() error { return o.command(ReturnCommand{}) }

// SetInterpretationMode switches interpretation on or off for later sheets.
func (o *Orchestrator) SetInterpretationMode(mode InterpretationMode) error {
	switch mode {
	case ModeInterpret:
	case ModeSkip:
		if !o.opts.AllowDebugCommands {
			return ErrDebugCommandsDisabled
		}
	default:
		return fmt.Errorf("unknown interpretation mode %q", mode)
	}
	return o.command(SetInterpretationModeCommand{Mode: mode})
}

// AcknowledgeStorageError clears the storage error shown in the status. A
// failed record stays reported until it is acknowledged.
func (o *Orchestrator) AcknowledgeStorageError() error {
	return o.command(AcknowledgeStorageErrorCommand{})
}

func (o *Orchestrator) command(ev Event) error {
	select {
	case <-o.done:
		return ErrNotRunning
	default:
	}
	select {
	case o.inbox <- tagged{command: true, ev: ev}:
		return nil
	case <-o.done:
		return ErrNotRunning
	}
}

// Status returns the latest snapshot.
func (o *Orchestrator) Status() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot
}

// Run processes events until ctx is done. It may be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)

	m, effects := NewMachine(o.opts.Delays)
	var (
		epoch     uint64
		storeErr  error
		stateCtx  context.Context
		cancelAct context.CancelFunc
	)
	stateCtx, cancelAct = context.WithCancel(ctx)
	defer func() {
		cancelAct()
		o.disconnect(false)
	}()

	o.publish(m, storeErr)
	storeErr = o.start(ctx, stateCtx, epoch, effects, storeErr)

	for {
		var t tagged
		select {
		case <-ctx.Done():
			return nil
		case t = <-o.inbox:
		}

		if !t.command && t.epoch != epoch {
			// The state that started this activity has been left.
			if cs, ok := t.ev.(ConnectSucceeded); ok {
				go cs.Client.Close()
			}
			continue
		}
		if cs, ok := t.ev.(ConnectSucceeded); ok {
			o.client = cs.Client
		}
		if _, ok := t.ev.(AcknowledgeStorageErrorCommand); ok {
			storeErr = nil
			o.publish(m, storeErr)
			continue
		}

		next, effects := Transition(m, t.ev)
		if next.State != m.State {
			cancelAct()
			stateCtx, cancelAct = context.WithCancel(ctx)
			epoch++
		}
		storeErr = o.start(ctx, stateCtx, epoch, effects, storeErr)
		prev := m
		m = next
		o.publish(m, storeErr)
		if prev.State != m.State {
			o.notify(Change{
				From:     prev.State,
				To:       m.State,
				Event:    EventName(t.ev),
				At:       o.opts.Clock.Now(),
				Snapshot: o.Status(),
			})
		}
	}
}

func (o *Orchestrator) publish(m Machine, storeErr error) {
	snap := newSnapshot(m)
	if storeErr != nil {
		snap.StorageError = storeErr.Error()
	}
	o.mu.Lock()
	o.snapshot = snap
	o.mu.Unlock()
}

func (o *Orchestrator) notify(c Change) {
	for _, obs := range o.opts.Observers {
		obs.StateChanged(c)
	}
}

// start performs effects. Records are stored before returning so they keep
// the order of the transitions that produced them; everything else runs in
// the background under stateCtx.
func (o *Orchestrator) start(ctx, stateCtx context.Context, epoch uint64, effects []Effect, storeErr error) error {
	for _, eff := range effects {
		switch e := eff.(type) {
		case StartInit:
			o.spawn(stateCtx, epoch, func(ctx context.Context) Event {
				if o.opts.Init == nil {
					return InitSucceeded{}
				}
				if err := o.opts.Init(ctx); err != nil {
					return InitFailed{Err: err}
				}
				return InitSucceeded{}
			}, func(err error) Event { return InitFailed{Err: err} })

		case Connect:
			o.connect(stateCtx, epoch)

		case Disconnect:
			o.disconnect(true)

		case StartPolling:
			o.poll(stateCtx, epoch)

		case StartScan:
			client := o.client
			o.spawn(stateCtx, epoch, func(ctx context.Context) Event {
				if client == nil {
					return ScanFailed{Err: scanner.ErrDisconnected}
				}
				sheet, err := client.Scan(ctx)
				if err != nil {
					return ScanFailed{Err: err}
				}
				return ScanSucceeded{SheetID: uuid.NewString(), Sheet: sheet}
			}, func(err error) Event { return ScanFailed{Err: err} })

		case StartInterpret:
			o.spawn(stateCtx, epoch, func(ctx context.Context) Event {
				if e.Mode == ModeSkip {
					return InterpretSucceeded{Interpretation: Interpretation{Type: ValidSheet}}
				}
				if o.opts.Interpreter == nil {
					return InterpretFailed{Err: errors.New("no interpreter configured")}
				}
				pages, err := o.opts.Interpreter.Interpret(ctx, e.SheetID, e.Sheet)
				if err != nil {
					return InterpretFailed{Err: fmt.Errorf("failed to interpret sheet %s: %w", e.SheetID, err)}
				}
				return InterpretSucceeded{Interpretation: Classify(pages)}
			}, func(err error) Event { return InterpretFailed{Err: err} })

		case StartAccept:
			client := o.client
			o.spawn(stateCtx, epoch, func(ctx context.Context) Event {
				if client == nil {
					return AcceptFailed{Err: scanner.ErrDisconnected}
				}
				if err := client.Accept(ctx); err != nil {
					return AcceptFailed{Err: err}
				}
				return AcceptSucceeded{}
			}, func(err error) Event { return AcceptFailed{Err: err} })

		case StartReject:
			client := o.client
			o.spawn(stateCtx, epoch, func(ctx context.Context) Event {
				if client == nil {
					return RejectFailed{Err: scanner.ErrDisconnected}
				}
				if err := client.Reject(ctx, scanner.RejectOptions{Hold: e.Hold}); err != nil {
					return RejectFailed{Err: err}
				}
				return RejectSucceeded{}
			}, func(err error) Event { return RejectFailed{Err: err} })

		case StartDelay:
			o.delay(stateCtx, epoch, e.Duration)

		case RecordAccepted:
			storeErr = o.record(ctx, e.Record, storeErr)
		case RecordRejected:
			storeErr = o.record(ctx, e.Record, storeErr)
		}
	}
	return storeErr
}

func (o *Orchestrator) record(ctx context.Context, rec ballot.SheetRecord, prev error) error {
	if o.opts.Recorder == nil {
		return prev
	}
	if err := o.opts.Recorder.RecordSheet(ctx, rec); err != nil {
		return fmt.Errorf("failed to record sheet %s: %w", rec.ID, err)
	}
	return prev
}

// post delivers an activity result unless its state has been left.
func (o *Orchestrator) post(ctx context.Context, epoch uint64, ev Event) bool {
	select {
	case o.inbox <- tagged{epoch: epoch, ev: ev}:
		return true
	case <-ctx.Done():
		return false
	}
}

// spawn runs an activity in the background. A panic becomes the event
// returned by onPanic.
func (o *Orchestrator) spawn(ctx context.Context, epoch uint64, run func(context.Context) Event, onPanic func(error) Event) {
	go func() {
		var ev Event
		func() {
			defer func() {
				if r := recover(); r != nil {
					ev = onPanic(fmt.Errorf("panic: %v", r))
				}
			}()
			ev = run(ctx)
		}()
		o.post(ctx, epoch, ev)
	}()
}

func (o *Orchestrator) connect(ctx context.Context, epoch uint64) {
	if o.opts.Connect == nil {
		go o.post(ctx, epoch, ConnectFailed{Err: errors.New("no scanner connector configured")})
		return
	}
	go func() {
		client, err := o.opts.Connect(ctx)
		if err != nil {
			o.post(ctx, epoch, ConnectFailed{Err: err})
			return
		}
		if !o.post(ctx, epoch, ConnectSucceeded{Client: client}) {
			client.Close()
		}
	}()
}

// disconnect closes the current client, in the background if asked to.
func (o *Orchestrator) disconnect(background bool) {
	client := o.client
	o.client = nil
	if client == nil {
		return
	}
	if background {
		go client.Close()
		return
	}
	client.Close()
}

func (o *Orchestrator) poll(ctx context.Context, epoch uint64) {
	client := o.client
	if client == nil {
		go o.post(ctx, epoch, StatusFailed{Err: scanner.ErrDisconnected})
		return
	}
	monitor := scanner.NewMonitor(client, scanner.MonitorOptions{
		Interval: o.opts.Delays.PollInterval,
		Timeout:  o.opts.Delays.PollTimeout,
		Clock:    o.opts.Clock,
	})
	events := make(chan scanner.MonitorEvent)
	go monitor.Run(ctx, events)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				switch ev := ev.(type) {
				case scanner.StatusChanged:
					if !o.post(ctx, epoch, StatusObserved{Status: ev.Status}) {
						return
					}
				case scanner.MonitorError:
					o.post(ctx, epoch, StatusFailed{Err: ev.Err})
					return
				}
			}
		}
	}()
}

func (o *Orchestrator) delay(ctx context.Context, epoch uint64, d time.Duration) {
	timer := o.opts.Clock.NewTimer(d)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C():
			o.post(ctx, epoch, DelayElapsed{})
		case <-ctx.Done():
		}
	}()
}
