// Package scanner talks to the precinct scanner hardware: vendor paper
// status codes and their abstract mapping, the device client contract, the
// paper status monitor and a client for the plustekctl line protocol.
package scanner

import "fmt"

// Status is the abstract paper status the orchestrator reacts to.
type Status int

const (
	NoPaper Status = iota
	ReadyToScan
	ReadyToEject
	BothSidesHavePaper
	Jammed
)

func (s Status) String() string {
	switch s {
	case NoPaper:
		return "no_paper"
	case ReadyToScan:
		return "ready_to_scan"
	case ReadyToEject:
		return "ready_to_eject"
	case BothSidesHavePaper:
		return "both_sides_have_paper"
	case Jammed:
		return "jammed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// PaperStatus is a paper status code reported by the scanner driver.
type PaperStatus string

const (
	NoPaperStatus                       PaperStatus = "NoPaperStatus"
	VtmDevReadyNoPaper                  PaperStatus = "VtmDevReadyNoPaper"
	VtmReadyToScan                      PaperStatus = "VtmReadyToScan"
	VtmReadyToEject                     PaperStatus = "VtmReadyToEject"
	VtmBothSideHavePaper                PaperStatus = "VtmBothSideHavePaper"
	Jam                                 PaperStatus = "Jam"
	VtmFrontAndBackSensorHavePaperReady PaperStatus = "VtmFrontAndBackSensorHavePaperReady"
)

// UnexpectedPaperStatusError reports a vendor code with no abstract status.
type UnexpectedPaperStatusError struct {
	Code PaperStatus
}

func (e *UnexpectedPaperStatusError) Error() string {
	return fmt.Sprintf("unexpected paper status: %s", string(e.Code))
}

// StatusFor maps a vendor code to its abstract status. Codes outside the
// mapping are an error, never ignored.
func StatusFor(code PaperStatus) (Status, error) {
	switch code {
	case NoPaperStatus, VtmDevReadyNoPaper:
		return NoPaper, nil
	case VtmReadyToScan:
		return ReadyToScan, nil
	case VtmReadyToEject:
		return ReadyToEject, nil
	case VtmBothSideHavePaper:
		return BothSidesHavePaper, nil
	case Jam, VtmFrontAndBackSensorHavePaperReady:
		return Jammed, nil
	}
	return 0, &UnexpectedPaperStatusError{Code: code}
}
