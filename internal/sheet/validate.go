// Package sheet checks that the two page interpretations of a scanned sheet
// belong together and puts them in logical front/back order.
package sheet

import (
	"fmt"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
)

// ValidationError describes why two pages cannot be the front and back of the
// same sheet. The set of implementations is closed.
type ValidationError interface {
	error
	isValidationError()
}

// NonConsecutivePages is returned when hand-marked page numbers are not n, n+1.
type NonConsecutivePages struct {
	PageNumbers ballot.SheetOf[int]
}

// InvalidFrontBackPageTypes is returned when the page kinds cannot share a sheet.
type InvalidFrontBackPageTypes struct {
	Types ballot.SheetOf[ballot.PageType]
}

type MismatchedBallotStyle struct {
	BallotStyleIDs ballot.SheetOf[string]
}

type MismatchedBallotType struct {
	BallotTypes ballot.SheetOf[ballot.BallotType]
}

type MismatchedElectionHash struct {
	ElectionHashes ballot.SheetOf[string]
}

type MismatchedLocales struct {
	Locales ballot.SheetOf[ballot.Locales]
}

type MismatchedPrecinct struct {
	PrecinctIDs ballot.SheetOf[string]
}

func (e *NonConsecutivePages) Error() string {
	return fmt.Sprintf("expected a sheet to have consecutive page numbers, but got front=%d back=%d",
		e.PageNumbers.Front, e.PageNumbers.Back)
}

func (e *InvalidFrontBackPageTypes) Error() string {
	return fmt.Sprintf("expected a sheet to have compatible page types, but got front=%s back=%s",
		e.Types.Front, e.Types.Back)
}

func (e *MismatchedBallotStyle) Error() string {
	return fmt.Sprintf("expected a sheet to have the same ballot style, but got front=%s back=%s",
		e.BallotStyleIDs.Front, e.BallotStyleIDs.Back)
}

func (e *MismatchedBallotType) Error() string {
	return fmt.Sprintf("expected a sheet to have the same ballot type, but got front=%s back=%s",
		e.BallotTypes.Front, e.BallotTypes.Back)
}

func (e *MismatchedElectionHash) Error() string {
	return fmt.Sprintf("expected a sheet to have the same election hash, but got front=%s back=%s",
		e.ElectionHashes.Front, e.ElectionHashes.Back)
}

func (e *MismatchedLocales) Error() string {
	return fmt.Sprintf("expected a sheet to have the same locales, but got front=%s back=%s",
		formatLocales(e.Locales.Front), formatLocales(e.Locales.Back))
}

func (e *MismatchedPrecinct) Error() string {
	return fmt.Sprintf("expected a sheet to have the same precinct, but got front=%s back=%s",
		e.PrecinctIDs.Front, e.PrecinctIDs.Back)
}

func formatLocales(l ballot.Locales) string {
	if l.Secondary == "" {
		return l.Primary
	}
	return l.Primary + "/" + l.Secondary
}

func (*NonConsecutivePages) isValidationError()       {}
func (*InvalidFrontBackPageTypes) isValidationError() {}
func (*MismatchedBallotStyle) isValidationError()     {}
func (*MismatchedBallotType) isValidationError()      {}
func (*MismatchedElectionHash) isValidationError()    {}
func (*MismatchedLocales) isValidationError()         {}
func (*MismatchedPrecinct) isValidationError()        {}

// Validate puts s into logical order and checks that its pages are
// consistent. The returned sheet has the non-blank page in front and, for
// hand-marked ballots, the lower page number in front. Combinations not
// covered here (e.g. an invalid-precinct page) pass through unchanged; the
// caller classifies those by page type.
func Validate(s ballot.SheetOf[ballot.PageInterpretation]) (ballot.SheetOf[ballot.PageInterpretation], error) {
	front, back := s.Front, s.Back

	if ballot.IsBlankOrUnreadable(front) && !ballot.IsBlankOrUnreadable(back) {
		return Validate(s.Swap())
	}

	if _, ok := front.(ballot.InterpretedBmdPage); ok {
		if ballot.IsBlankOrUnreadable(back) {
			return s, nil
		}
		return s, &InvalidFrontBackPageTypes{Types: pageTypes(s)}
	}

	frontMeta, ok := ballot.HmpbMetadata(front)
	if !ok {
		return s, nil
	}
	backMeta, ok := ballot.HmpbMetadata(back)
	if !ok {
		return s, &InvalidFrontBackPageTypes{Types: pageTypes(s)}
	}

	if frontMeta.PageNumber > backMeta.PageNumber {
		return Validate(s.Swap())
	}

	if err := compareMetadata(ballot.NewSheet(frontMeta, backMeta)); err != nil {
		return s, err
	}
	return s, nil
}

// compareMetadata checks page numbers and then each shared field, stopping at
// the first mismatch.
func compareMetadata(m ballot.SheetOf[ballot.HmpbPageMetadata]) ValidationError {
	if m.Back.PageNumber != m.Front.PageNumber+1 {
		return &NonConsecutivePages{PageNumbers: ballot.NewSheet(m.Front.PageNumber, m.Back.PageNumber)}
	}
	if m.Front.BallotStyleID != m.Back.BallotStyleID {
		return &MismatchedBallotStyle{BallotStyleIDs: ballot.NewSheet(m.Front.BallotStyleID, m.Back.BallotStyleID)}
	}
	if m.Front.PrecinctID != m.Back.PrecinctID {
		return &MismatchedPrecinct{PrecinctIDs: ballot.NewSheet(m.Front.PrecinctID, m.Back.PrecinctID)}
	}
	if m.Front.BallotType != m.Back.BallotType {
		return &MismatchedBallotType{BallotTypes: ballot.NewSheet(m.Front.BallotType, m.Back.BallotType)}
	}
	if m.Front.ElectionHash != m.Back.ElectionHash {
		return &MismatchedElectionHash{ElectionHashes: ballot.NewSheet(m.Front.ElectionHash, m.Back.ElectionHash)}
	}
	if m.Front.Locales != m.Back.Locales {
		return &MismatchedLocales{Locales: ballot.NewSheet(m.Front.Locales, m.Back.Locales)}
	}
	return nil
}

func pageTypes(s ballot.SheetOf[ballot.PageInterpretation]) ballot.SheetOf[ballot.PageType] {
	return ballot.MapSheet(s, func(p ballot.PageInterpretation) ballot.PageType { return p.PageType() })
}
