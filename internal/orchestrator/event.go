package orchestrator

import (
	"time"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/scanner"
)

// Event is an input to the state machine: an activity result, a paper
// status change, an elapsed delay or an operator command.
type Event interface {
	isEvent()
	eventName() string
}

type (
	InitSucceeded struct{}
	InitFailed    struct{ Err error }

	// ConnectSucceeded carries the new client to the event loop, which owns
	// it from then on. Transition ignores the client.
	ConnectSucceeded struct{ Client scanner.Client }
	ConnectFailed    struct{ Err error }

	StatusObserved struct{ Status scanner.Status }
	StatusFailed   struct{ Err error }

	ScanSucceeded struct {
		SheetID string
		Sheet   ballot.SheetOf[string]
	}
	ScanFailed struct{ Err error }

	InterpretSucceeded struct{ Interpretation Interpretation }
	InterpretFailed    struct{ Err error }

	AcceptSucceeded struct{}
	AcceptFailed    struct{ Err error }

	RejectSucceeded struct{}
	RejectFailed    struct{ Err error }

	DelayElapsed struct{}

	ScanCommand                  struct{}
	AcceptCommand                struct{}
	ReturnCommand                struct{}
	SetInterpretationModeCommand struct{ Mode InterpretationMode }
	// AcknowledgeStorageErrorCommand clears a reported storage error.
	AcknowledgeStorageErrorCommand struct{}
)

func (InitSucceeded) isEvent()                  {}
func (InitFailed) isEvent()                     {}
func (ConnectSucceeded) isEvent()               {}
func (ConnectFailed) isEvent()                  {}
func (StatusObserved) isEvent()                 {}
func (StatusFailed) isEvent()                   {}
func (ScanSucceeded) isEvent()                  {}
func (ScanFailed) isEvent()                     {}
func (InterpretSucceeded) isEvent()             {}
func (InterpretFailed) isEvent()                {}
func (AcceptSucceeded) isEvent()                {}
func (AcceptFailed) isEvent()                   {}
func (RejectSucceeded) isEvent()                {}
func (RejectFailed) isEvent()                   {}
func (DelayElapsed) isEvent()                   {}
func (ScanCommand) isEvent()                    {}
func (AcceptCommand) isEvent()                  {}
func (ReturnCommand) isEvent()                  {}
func (SetInterpretationModeCommand) isEvent()   {}
func (AcknowledgeStorageErrorCommand) isEvent() {}

func (InitSucceeded) eventName() string                  { return "init_succeeded" }
func (InitFailed) eventName() string                     { return "init_failed" }
func (ConnectSucceeded) eventName() string               { return "connect_succeeded" }
func (ConnectFailed) eventName() string                  { return "connect_failed" }
func (e StatusObserved) eventName() string               { return "status_" + e.Status.String() }
func (StatusFailed) eventName() string                   { return "status_failed" }
func (ScanSucceeded) eventName() string                  { return "scan_succeeded" }
func (ScanFailed) eventName() string                     { return "scan_failed" }
func (InterpretSucceeded) eventName() string             { return "interpret_succeeded" }
func (InterpretFailed) eventName() string                { return "interpret_failed" }
func (AcceptSucceeded) eventName() string                { return "accept_succeeded" }
func (AcceptFailed) eventName() string                   { return "accept_failed" }
func (RejectSucceeded) eventName() string                { return "reject_succeeded" }
func (RejectFailed) eventName() string                   { return "reject_failed" }
func (DelayElapsed) eventName() string                   { return "delay_elapsed" }
func (ScanCommand) eventName() string                    { return "scan" }
func (AcceptCommand) eventName() string                  { return "accept" }
func (ReturnCommand) eventName() string                  { return "return" }
func (SetInterpretationModeCommand) eventName() string   { return "set_interpretation_mode" }
func (AcknowledgeStorageErrorCommand) eventName() string { return "acknowledge_storage_error" }

// EventName returns a short name for ev, used in errors and logs.
func EventName(ev Event) string {
	if ev == nil {
		return "<nil>"
	}
	return ev.eventName()
}

// Effect is work the event loop performs on entering a state. Activities
// (polling, device calls, interpretation, delays) run until they report a
// result or the machine leaves the state that started them.
type Effect interface {
	isEffect()
}

type (
	StartInit    struct{}
	StartPolling struct{}
	Connect      struct{}
	Disconnect   struct{}
	StartScan    struct{}

	StartInterpret struct {
		SheetID string
		Sheet   ballot.SheetOf[string]
		Mode    InterpretationMode
	}

	StartAccept struct{}
	StartReject struct{ Hold bool }
	StartDelay  struct{ Duration time.Duration }

	// RecordAccepted and RecordRejected hand the final outcome of a sheet to
	// the workspace.
	RecordAccepted struct{ Record ballot.SheetRecord }
	RecordRejected struct{ Record ballot.SheetRecord }
)

func (StartInit) isEffect()      {}
func (StartPolling) isEffect()   {}
func (Connect) isEffect()        {}
func (Disconnect) isEffect()     {}
func (StartScan) isEffect()      {}
func (StartInterpret) isEffect() {}
func (StartAccept) isEffect()    {}
func (StartReject) isEffect()    {}
func (StartDelay) isEffect()     {}
func (RecordAccepted) isEffect() {}
func (RecordRejected) isEffect() {}
