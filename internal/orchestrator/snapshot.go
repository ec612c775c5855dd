package orchestrator

import "github.com/banshee-data/ballot.scanner/internal/ballot"

// Snapshot is the externally visible status of the scanner. It never
// carries votes.
type Snapshot struct {
	State              State                  `json:"state"`
	BallotsCounted     int                    `json:"ballotsCounted"`
	Interpretation     *InterpretationSummary `json:"interpretation,omitempty"`
	Error              string                 `json:"error,omitempty"`
	InterpretationMode InterpretationMode     `json:"interpretationMode"`
	// StorageError is the last failure to record a sheet, if any.
	StorageError string `json:"storageError,omitempty"`
}

// InterpretationSummary is the operator-facing part of an Interpretation.
type InterpretationSummary struct {
	Type    InterpretationType              `json:"type"`
	Reason  InvalidReason                   `json:"reason,omitempty"`
	Reasons []ballot.AdjudicationReasonInfo `json:"reasons,omitempty"`
	Detail  string                          `json:"detail,omitempty"`
}

func newSnapshot(m Machine) Snapshot {
	c := m.Context
	s := Snapshot{
		State:              m.State,
		BallotsCounted:     c.BallotsCounted,
		InterpretationMode: c.InterpretationMode,
	}
	if c.LastError != nil {
		s.Error = c.LastError.Error()
	}
	if in := c.Interpretation; in != nil {
		summary := &InterpretationSummary{
			Type:    in.Type,
			Reason:  in.Reason,
			Reasons: append([]ballot.AdjudicationReasonInfo(nil), in.Reasons...),
		}
		if in.ValidationError != nil {
			summary.Detail = in.ValidationError.Error()
		}
		s.Interpretation = summary
	}
	return s
}
