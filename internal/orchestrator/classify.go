package orchestrator

import (
	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/sheet"
)

// InterpretationType is the operator decision for a scanned sheet.
type InterpretationType string

const (
	ValidSheet       InterpretationType = "ValidSheet"
	InvalidSheet     InterpretationType = "InvalidSheet"
	NeedsReviewSheet InterpretationType = "NeedsReviewSheet"
)

// InvalidReason says why a sheet was classified InvalidSheet.
type InvalidReason string

const (
	ReasonInvalidElectionHash InvalidReason = "invalid_election_hash"
	ReasonInvalidTestMode     InvalidReason = "invalid_test_mode"
	ReasonInvalidPrecinct     InvalidReason = "invalid_precinct"
	ReasonUnreadable          InvalidReason = "unreadable"
	ReasonUnknown             InvalidReason = "unknown"
	ReasonInvalidSheet        InvalidReason = "invalid_sheet"
)

// Interpretation is a classified sheet.
type Interpretation struct {
	Type InterpretationType
	// Reasons lists the adjudication reasons of a NeedsReviewSheet.
	Reasons []ballot.AdjudicationReasonInfo
	// Reason is set for an InvalidSheet.
	Reason InvalidReason
	// ValidationError is set when Reason is ReasonInvalidSheet.
	ValidationError error
	// Pages is nil when interpretation was skipped.
	Pages *ballot.SheetOf[ballot.PageInterpretationWithFiles]
}

// Classify decides what to do with an interpreted sheet. Checks apply in
// order and the first match wins.
func Classify(pages ballot.SheetOf[ballot.PageInterpretationWithFiles]) Interpretation {
	in := Classification(ballot.Interpretations(pages))
	if in.Type != InvalidSheet && !hasContestIDs(pages) {
		in = invalid(ReasonUnknown)
	}
	in.Pages = &pages
	return in
}

// hasContestIDs reports whether every interpreted hand-marked page lists the
// contests printed on it. No record can be built for a page without them.
func hasContestIDs(pages ballot.SheetOf[ballot.PageInterpretationWithFiles]) bool {
	for _, p := range pages.Pages() {
		if _, ok := p.Interpretation.(ballot.InterpretedHmpbPage); ok && p.ContestIDs == nil {
			return false
		}
	}
	return true
}

// Classification is Classify without the page files.
func Classification(s ballot.SheetOf[ballot.PageInterpretation]) Interpretation {
	front, back := s.Front, s.Back

	if ballot.IsBlankOrUnreadable(front) && ballot.IsBlankOrUnreadable(back) {
		return needsReview([]ballot.AdjudicationReasonInfo{{Type: ballot.BlankBallot}})
	}

	for _, p := range s.Pages() {
		switch p.(type) {
		case ballot.InvalidElectionHashPage:
			return invalid(ReasonInvalidElectionHash)
		case ballot.InvalidTestModePage:
			return invalid(ReasonInvalidTestMode)
		case ballot.InvalidPrecinctPage:
			return invalid(ReasonInvalidPrecinct)
		}
	}
	for _, p := range s.Pages() {
		switch p.(type) {
		case ballot.UnreadablePage:
			return invalid(ReasonUnreadable)
		case ballot.UninterpretedHmpbPage:
			return invalid(ReasonUnknown)
		}
	}

	// A hand-marked page is never printed on the back of a blank one.
	_, frontHmpb := front.(ballot.InterpretedHmpbPage)
	_, backHmpb := back.(ballot.InterpretedHmpbPage)
	if (frontHmpb && ballot.IsBlankOrUnreadable(back)) || (backHmpb && ballot.IsBlankOrUnreadable(front)) {
		return invalid(ReasonUnknown)
	}

	if _, err := sheet.Validate(s); err != nil {
		in := invalid(ReasonInvalidSheet)
		in.ValidationError = err
		return in
	}

	for _, p := range s.Pages() {
		if _, ok := p.(ballot.InterpretedBmdPage); ok {
			return Interpretation{Type: ValidSheet}
		}
	}

	if frontHmpb && backHmpb {
		f := front.(ballot.InterpretedHmpbPage).AdjudicationInfo
		b := back.(ballot.InterpretedHmpbPage).AdjudicationInfo
		if f.RequiresAdjudication || b.RequiresAdjudication {
			return needsReview(append(reasonInfos(f), reasonInfos(b)...))
		}
		return Interpretation{Type: ValidSheet}
	}

	return invalid(ReasonUnknown)
}

func needsReview(reasons []ballot.AdjudicationReasonInfo) Interpretation {
	return Interpretation{Type: NeedsReviewSheet, Reasons: reasons}
}

func invalid(reason InvalidReason) Interpretation {
	return Interpretation{Type: InvalidSheet, Reason: reason}
}

// reasonInfos returns the page's reason details, falling back to bare reason
// codes when the interpreter recorded no details.
func reasonInfos(info ballot.AdjudicationInfo) []ballot.AdjudicationReasonInfo {
	if len(info.EnabledReasonInfos) > 0 {
		return append([]ballot.AdjudicationReasonInfo(nil), info.EnabledReasonInfos...)
	}
	out := make([]ballot.AdjudicationReasonInfo, 0, len(info.EnabledReasons))
	for _, r := range info.EnabledReasons {
		out = append(out, ballot.AdjudicationReasonInfo{Type: r})
	}
	return out
}
