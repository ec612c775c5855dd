package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/scanner"
)

// InterpretationMode controls whether scanned sheets are interpreted.
// ModeSkip accepts every sheet uninterpreted and exists for hardware tests.
type InterpretationMode string

const (
	ModeInterpret InterpretationMode = "interpret"
	ModeSkip      InterpretationMode = "skip"
)

// Delays are the timings of the state machine.
type Delays struct {
	// PollInterval and PollTimeout configure paper status polling.
	PollInterval time.Duration
	PollTimeout  time.Duration
	// ScanTimeout and AcceptTimeout bound the device calls.
	ScanTimeout   time.Duration
	AcceptTimeout time.Duration
	// AcceptedDwell is how long the accepted state is shown.
	AcceptedDwell time.Duration
	// WaitForHold is how long to wait for a rejected sheet to be held in
	// front before assuming it was pulled out.
	WaitForHold time.Duration
	// Reconnect is the delay before each reconnect attempt.
	Reconnect time.Duration
	// UnexpectedCoolOff is how long to leave the scanner alone after an
	// unexpected error before reconnecting.
	UnexpectedCoolOff time.Duration
}

func DefaultDelays() Delays {
	return Delays{
		PollInterval:      scanner.DefaultPollInterval,
		PollTimeout:       scanner.DefaultPollTimeout,
		ScanTimeout:       5 * time.Second,
		AcceptTimeout:     5 * time.Second,
		AcceptedDwell:     5 * time.Second,
		WaitForHold:       time.Second,
		Reconnect:         500 * time.Millisecond,
		UnexpectedCoolOff: 3 * time.Second,
	}
}

// Context is the state carried between transitions.
type Context struct {
	// BallotsCounted only ever increases.
	BallotsCounted int
	// SheetID identifies the sheet in flight until its outcome is recorded.
	SheetID            string
	ScannedSheet       *ballot.SheetOf[string]
	Interpretation     *Interpretation
	LastError          error
	InterpretationMode InterpretationMode
}

func (c *Context) clearSheet() {
	c.SheetID = ""
	c.ScannedSheet = nil
	c.Interpretation = nil
}

// Machine is the complete state of the state machine.
type Machine struct {
	State   State
	Context Context
	Delays  Delays
}

// NewMachine returns the initial machine and the effects that start it.
func NewMachine(delays Delays) (Machine, []Effect) {
	m := Machine{
		State:   StateConfiguring,
		Context: Context{InterpretationMode: ModeInterpret},
		Delays:  delays,
	}
	return m, []Effect{StartInit{}}
}

// ScannerStateError is a paper state the scanner should not be in.
type ScannerStateError struct {
	Type ScannerErrorType
}

// ScannerErrorType names a ScannerStateError.
type ScannerErrorType string

const (
	ScanningTimedOut           ScannerErrorType = "scanning_timed_out"
	AcceptingTimedOut          ScannerErrorType = "accepting_timed_out"
	BothSidesHavePaper         ScannerErrorType = "both_sides_have_paper"
	PaperInBackAfterAccept     ScannerErrorType = "paper_in_back_after_accept"
	PaperInFrontAfterReconnect ScannerErrorType = "paper_in_front_after_reconnect"
	PaperInBackAfterReconnect  ScannerErrorType = "paper_in_back_after_reconnect"
)

func (e *ScannerStateError) Error() string {
	return string(e.Type)
}

// UnexpectedEventError is recorded when a state has no rule for an event.
type UnexpectedEventError struct {
	Event string
	State State
}

func (e *UnexpectedEventError) Error() string {
	return fmt.Sprintf("unexpected event %s in state %s", e.Event, e.State)
}

// Transition applies ev to m. It performs no I/O: entering a state returns
// the effects the event loop must start for it.
func Transition(m Machine, ev Event) (Machine, []Effect) {
	switch e := ev.(type) {
	case SetInterpretationModeCommand:
		m.Context.InterpretationMode = e.Mode
		return m, nil
	case AcknowledgeStorageErrorCommand:
		// Storage errors live outside the machine.
		return m, nil
	case ScanCommand:
		if m.State == StateReadyToScan {
			return m.enter(StateScanning)
		}
		return m, nil
	case AcceptCommand:
		if m.State == StateReadyToAccept || m.State == StateNeedsReview {
			return m.enter(StateAccepting)
		}
		return m, nil
	case ReturnCommand:
		if m.State == StateNeedsReview {
			return m.enter(StateReturning)
		}
		return m, nil
	}

	switch m.State {
	case StateConfiguring:
		switch e := ev.(type) {
		case InitSucceeded:
			return m.enter(StateConnecting)
		case InitFailed:
			// Halted until the process is restarted.
			m.Context.LastError = e.Err
			return m, nil
		}

	case StateConnecting, StateReconnecting:
		switch ev.(type) {
		case ConnectSucceeded:
			m.Context.LastError = nil
			return m.enter(StateCheckingInitialStatus)
		case ConnectFailed:
			return m.enter(StateErrorDisconnected)
		}

	case StateErrorDisconnected:
		if _, ok := ev.(DelayElapsed); ok {
			return m.enter(StateReconnecting)
		}

	case StateCheckingInitialStatus:
		if e, ok := ev.(StatusObserved); ok {
			switch e.Status {
			case scanner.NoPaper:
				return m.enter(StateNoPaper)
			case scanner.ReadyToScan:
				return m.fail(StateRejecting, &ScannerStateError{Type: PaperInFrontAfterReconnect})
			case scanner.ReadyToEject:
				return m.fail(StateRejecting, &ScannerStateError{Type: PaperInBackAfterReconnect})
			}
		}

	case StateNoPaper:
		if e, ok := ev.(StatusObserved); ok {
			switch e.Status {
			case scanner.NoPaper:
				return m, nil
			case scanner.ReadyToScan:
				return m.enter(StateReadyToScan)
			}
		}

	case StateReadyToScan:
		if e, ok := ev.(StatusObserved); ok {
			switch e.Status {
			case scanner.ReadyToScan:
				return m, nil
			case scanner.NoPaper:
				return m.enter(StateNoPaper)
			}
		}

	case StateScanning:
		switch e := ev.(type) {
		case ScanSucceeded:
			sheet := e.Sheet
			m.Context.SheetID = e.SheetID
			m.Context.ScannedSheet = &sheet
			return m.enter(StateInterpreting)
		case ScanFailed:
			return m.fail(StateErrorScanning, e.Err)
		case DelayElapsed:
			return m.fail(StateErrorScanning, &ScannerStateError{Type: ScanningTimedOut})
		}

	case StateErrorScanning:
		if e, ok := ev.(StatusObserved); ok {
			switch e.Status {
			case scanner.ReadyToScan:
				return m.enter(StateReadyToScan)
			case scanner.NoPaper:
				return m.enter(StateNoPaper)
			case scanner.ReadyToEject:
				return m.enter(StateRejecting)
			}
		}

	case StateInterpreting:
		switch e := ev.(type) {
		case InterpretSucceeded:
			in := e.Interpretation
			m.Context.Interpretation = &in
			switch in.Type {
			case ValidSheet:
				return m.enter(StateReadyToAccept)
			case NeedsReviewSheet:
				return m.enter(StateNeedsReview)
			default:
				return m.enter(StateRejecting)
			}
		case InterpretFailed:
			return m.fail(StateRejecting, e.Err)
		}

	case StateReadyToAccept, StateNeedsReview:
		// Only commands move these states on.

	case StateAccepting:
		switch e := ev.(type) {
		case AcceptSucceeded:
			return m.enter(StateAccepted)
		case AcceptFailed:
			return m.fail(StateRejecting, e.Err)
		case DelayElapsed:
			return m.fail(StateRejecting, &ScannerStateError{Type: AcceptingTimedOut})
		}

	case StateAccepted:
		switch e := ev.(type) {
		case DelayElapsed:
			return m.enter(StateNoPaper)
		case StatusObserved:
			switch e.Status {
			case scanner.NoPaper:
				return m, nil
			case scanner.ReadyToScan:
				return m.enter(StateReadyToScan)
			case scanner.ReadyToEject:
				return m.fail(StateRejecting, &ScannerStateError{Type: PaperInBackAfterAccept})
			}
		}

	case StateReturning, StateRejecting:
		switch e := ev.(type) {
		case RejectSucceeded:
			if m.State == StateReturning {
				return m.enter(StateCheckingReturnCompleted)
			}
			return m.enter(StateCheckingRejectCompleted)
		case RejectFailed:
			if disconnected(e.Err) {
				return m.fail(StateErrorDisconnected, e.Err)
			}
			return m.fail(StateErrorJammed, e.Err)
		}

	case StateCheckingReturnCompleted, StateCheckingRejectCompleted:
		switch e := ev.(type) {
		case DelayElapsed:
			return m.enter(StateNoPaper)
		case StatusObserved:
			switch e.Status {
			case scanner.NoPaper:
				// Reported briefly before the held sheet settles.
				return m, nil
			case scanner.ReadyToScan:
				if m.State == StateCheckingReturnCompleted {
					return m.enter(StateReturned)
				}
				return m.enter(StateRejected)
			case scanner.ReadyToEject, scanner.Jammed:
				return m.enter(StateErrorJammed)
			}
		}

	case StateReturned, StateRejected:
		if e, ok := ev.(StatusObserved); ok {
			switch e.Status {
			case scanner.ReadyToScan:
				return m, nil
			case scanner.NoPaper:
				return m.enter(StateNoPaper)
			}
		}

	case StateErrorJammed:
		switch e := ev.(type) {
		case StatusObserved:
			if e.Status == scanner.NoPaper {
				return m.enter(StateNoPaper)
			}
		case StatusFailed:
			if disconnected(e.Err) {
				return m.statusFailed(e.Err)
			}
			// Keep watching for the jam to clear.
			m.Context.LastError = e.Err
			return m, []Effect{StartDelay{Duration: m.Delays.Reconnect}}
		case DelayElapsed:
			return m, []Effect{StartPolling{}}
		}
		return m, nil

	case StateErrorBothSidesHavePaper:
		if e, ok := ev.(StatusObserved); ok {
			switch e.Status {
			case scanner.BothSidesHavePaper, scanner.NoPaper:
				return m, nil
			case scanner.ReadyToEject:
				// The remaining sheet is assumed to be the one in back.
				return m.fail(StateRejecting, &ScannerStateError{Type: BothSidesHavePaper})
			}
		}

	case StateErrorUnexpected:
		if _, ok := ev.(DelayElapsed); ok {
			return m.enter(StateReconnecting)
		}
		return m, nil
	}

	if m.State.polls() {
		switch e := ev.(type) {
		case StatusObserved:
			switch e.Status {
			case scanner.BothSidesHavePaper:
				return m.enter(StateErrorBothSidesHavePaper)
			case scanner.Jammed:
				return m.enter(StateErrorJammed)
			}
		case StatusFailed:
			return m.statusFailed(e.Err)
		}
	}

	return m.fail(StateErrorUnexpected, &UnexpectedEventError{Event: EventName(ev), State: m.State})
}

// statusFailed routes a failed paper status poll.
func (m Machine) statusFailed(err error) (Machine, []Effect) {
	var scannerErr *scanner.ScannerError
	switch {
	case disconnected(err):
		m.Context.LastError = err
		return m.enter(StateErrorDisconnected)
	case errors.As(err, &scannerErr) && scannerErr.Code == scanner.ErrSaneStatusInval:
		// The driver reports a sheet it has been fighting with for too long.
		return m.fail(StateErrorJammed, err)
	}
	return m.fail(StateErrorUnexpected, err)
}

// disconnected reports whether err means the scanner connection is gone.
func disconnected(err error) bool {
	var scannerErr *scanner.ScannerError
	if errors.Is(err, scanner.ErrDisconnected) {
		return true
	}
	return errors.As(err, &scannerErr) && scannerErr.Code == scanner.ErrSaneStatusIoError
}

// fail records err and enters s.
func (m Machine) fail(s State, err error) (Machine, []Effect) {
	m.Context.LastError = err
	return m.enter(s)
}

// enter moves the machine into s and returns the effects s needs.
func (m Machine) enter(s State) (Machine, []Effect) {
	m.State = s
	c := &m.Context
	d := m.Delays

	var effects []Effect
	switch s {
	case StateConnecting, StateReconnecting:
		effects = []Effect{Connect{}}

	case StateErrorDisconnected:
		c.clearSheet()
		effects = []Effect{Disconnect{}, StartDelay{Duration: d.Reconnect}}

	case StateNoPaper, StateReadyToScan:
		c.LastError = nil
		c.clearSheet()
		effects = []Effect{StartPolling{}}

	case StateScanning:
		c.LastError = nil
		c.clearSheet()
		effects = []Effect{StartScan{}, StartDelay{Duration: d.ScanTimeout}}

	case StateInterpreting:
		effects = []Effect{StartInterpret{
			SheetID: c.SheetID,
			Sheet:   *c.ScannedSheet,
			Mode:    c.InterpretationMode,
		}}

	case StateAccepting:
		effects = []Effect{StartAccept{}, StartDelay{Duration: d.AcceptTimeout}}

	case StateAccepted:
		c.BallotsCounted++
		effects = append(m.record(true), StartPolling{}, StartDelay{Duration: d.AcceptedDwell})

	case StateReturning, StateRejecting:
		effects = append(m.record(false), StartReject{Hold: true})

	case StateCheckingReturnCompleted, StateCheckingRejectCompleted:
		effects = []Effect{StartPolling{}, StartDelay{Duration: d.WaitForHold}}

	case StateErrorUnexpected:
		effects = []Effect{Disconnect{}, StartDelay{Duration: d.UnexpectedCoolOff}}

	case StateErrorBothSidesHavePaper:
		c.LastError = nil
		effects = []Effect{StartPolling{}}

	case StateCheckingInitialStatus, StateErrorScanning, StateReturned, StateRejected,
		StateErrorJammed:
		effects = []Effect{StartPolling{}}
	}

	// A sheet's outcome is recorded at most once.
	if s == StateAccepted || s == StateReturning || s == StateRejecting {
		c.SheetID = ""
	}
	return m, effects
}

// record returns the effect that stores the outcome of the sheet in flight,
// if it has not been stored already.
func (m Machine) record(accepted bool) []Effect {
	c := m.Context
	if c.SheetID == "" || c.Interpretation == nil {
		return nil
	}
	rec := ballot.SheetRecord{
		ID:       c.SheetID,
		Pages:    c.Interpretation.Pages,
		Accepted: accepted,
	}
	if c.ScannedSheet != nil {
		rec.Images = *c.ScannedSheet
	}
	if accepted {
		return []Effect{RecordAccepted{Record: rec}}
	}
	rec.Reason = rejectReason(m.State, c)
	return []Effect{RecordRejected{Record: rec}}
}

func rejectReason(s State, c Context) string {
	switch {
	case s == StateReturning:
		return "returned"
	case c.LastError != nil:
		return c.LastError.Error()
	case c.Interpretation.Type == InvalidSheet:
		return string(c.Interpretation.Reason)
	}
	return string(c.Interpretation.Type)
}
