// Package orchestrator drives the precinct scanner through the life of each
// sheet: waiting for paper, scanning, interpreting, and accepting, returning
// or rejecting it. The rules live in the pure Transition function; the
// Orchestrator event loop performs the I/O they ask for.
package orchestrator

import "fmt"

// State is a state of the scanner state machine.
type State int

const (
	StateConfiguring State = iota
	StateConnecting
	StateErrorDisconnected
	StateReconnecting
	StateCheckingInitialStatus
	StateNoPaper
	StateReadyToScan
	StateScanning
	StateErrorScanning
	StateInterpreting
	StateReadyToAccept
	StateAccepting
	StateAccepted
	StateNeedsReview
	StateReturning
	StateCheckingReturnCompleted
	StateReturned
	StateRejecting
	StateCheckingRejectCompleted
	StateRejected
	StateErrorJammed
	StateErrorBothSidesHavePaper
	StateErrorUnexpected
)

var stateNames = [...]string{
	StateConfiguring:             "configuring",
	StateConnecting:              "connecting",
	StateErrorDisconnected:       "error_disconnected",
	StateReconnecting:            "reconnecting",
	StateCheckingInitialStatus:   "checking_initial_status",
	StateNoPaper:                 "no_paper",
	StateReadyToScan:             "ready_to_scan",
	StateScanning:                "scanning",
	StateErrorScanning:           "error_scanning",
	StateInterpreting:            "interpreting",
	StateReadyToAccept:           "ready_to_accept",
	StateAccepting:               "accepting",
	StateAccepted:                "accepted",
	StateNeedsReview:             "needs_review",
	StateReturning:               "returning",
	StateCheckingReturnCompleted: "checking_return_completed",
	StateReturned:                "returned",
	StateRejecting:               "rejecting",
	StateCheckingRejectCompleted: "checking_reject_completed",
	StateRejected:                "rejected",
	StateErrorJammed:             "error_jammed",
	StateErrorBothSidesHavePaper: "error_both_sides_have_paper",
	StateErrorUnexpected:         "error_unexpected",
}

// States lists every state in declaration order.
func States() []State {
	out := make([]State, len(stateNames))
	for i := range stateNames {
		out[i] = State(i)
	}
	return out
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(b))
}

// polls reports whether the state watches paper status.
func (s State) polls() bool {
	switch s {
	case StateCheckingInitialStatus,
		StateNoPaper,
		StateReadyToScan,
		StateErrorScanning,
		StateAccepted,
		StateCheckingReturnCompleted,
		StateReturned,
		StateCheckingRejectCompleted,
		StateRejected,
		StateErrorJammed,
		StateErrorBothSidesHavePaper:
		return true
	}
	return false
}
