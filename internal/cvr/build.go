// Package cvr turns accepted sheets into cast vote records.
package cvr

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/election"
)

// ContractError reports input the builder cannot turn into a record. Callers
// are expected to validate sheets first, so this indicates a programming or
// data error rather than a voter error.
type ContractError struct {
	Reason string
}

func (e *ContractError) Error() string {
	return "cannot build cast vote record: " + e.Reason
}

func contractErrorf(format string, args ...any) error {
	return &ContractError{Reason: fmt.Sprintf(format, args...)}
}

// BuildInput is everything needed to build one record.
type BuildInput struct {
	Election   *election.Election
	BallotID   string
	BatchID    string
	BatchLabel string
	ScannerID  string
	Sheet      ballot.SheetOf[ballot.PageInterpretationWithFiles]
}

// Build produces the cast vote record for a validated sheet. Every contest
// on the ballot gets an entry, empty when nothing was marked; contests not on
// the ballot are absent.
func Build(in BuildInput) (*CastVoteRecord, error) {
	front, back := in.Sheet.Front.Interpretation, in.Sheet.Back.Interpretation
	if front == nil || back == nil {
		return nil, contractErrorf("sheet is missing a page interpretation")
	}

	if ballot.IsBlankOrUnreadable(front) && !ballot.IsBlankOrUnreadable(back) {
		in.Sheet = in.Sheet.Swap()
		return Build(in)
	}

	switch f := front.(type) {
	case ballot.InterpretedBmdPage:
		if !ballot.IsBlankOrUnreadable(back) {
			return nil, contractErrorf("BMD page backed by %s", back.PageType())
		}
		return buildBmd(in, f)

	case ballot.InterpretedHmpbPage:
		b, ok := back.(ballot.InterpretedHmpbPage)
		if !ok {
			return nil, contractErrorf("HMPB page backed by %s", back.PageType())
		}
		if f.Metadata.PageNumber > b.Metadata.PageNumber {
			in.Sheet = in.Sheet.Swap()
			return Build(in)
		}
		return buildHmpb(in, f, b)
	}

	return nil, contractErrorf("unsupported page types front=%s back=%s", front.PageType(), back.PageType())
}

func buildBmd(in BuildInput, page ballot.InterpretedBmdPage) (*CastVoteRecord, error) {
	contests, err := ballotContests(in.Election, page.Metadata.BallotStyleID)
	if err != nil {
		return nil, err
	}
	votes, err := buildVotes(contests, page.Votes)
	if err != nil {
		return nil, err
	}
	rec, err := newRecord(in, page.Metadata)
	if err != nil {
		return nil, err
	}
	rec.Votes = votes
	return rec, nil
}

func buildHmpb(in BuildInput, front, back ballot.InterpretedHmpbPage) (*CastVoteRecord, error) {
	if in.Sheet.Front.ContestIDs == nil || in.Sheet.Back.ContestIDs == nil {
		return nil, contractErrorf("HMPB page is missing its contest ids")
	}
	contests, err := ballotContests(in.Election, front.Metadata.BallotStyleID)
	if err != nil {
		return nil, err
	}

	frontVotes, err := buildVotes(pageContests(contests, in.Sheet.Front.ContestIDs), front.Votes)
	if err != nil {
		return nil, err
	}
	backVotes, err := buildVotes(pageContests(contests, in.Sheet.Back.ContestIDs), back.Votes)
	if err != nil {
		return nil, err
	}
	for id, options := range backVotes {
		if _, dup := frontVotes[id]; dup {
			return nil, contractErrorf("contest %q appears on both pages", id)
		}
		frontVotes[id] = options
	}

	rec, err := newRecord(in, front.Metadata.BallotMetadata)
	if err != nil {
		return nil, err
	}
	rec.Votes = frontVotes
	rec.PageNumbers = []int{front.Metadata.PageNumber, back.Metadata.PageNumber}
	if in.Sheet.Front.Layout != nil && in.Sheet.Back.Layout != nil {
		rec.Layouts = []json.RawMessage{in.Sheet.Front.Layout, in.Sheet.Back.Layout}
	}
	return rec, nil
}

func newRecord(in BuildInput, meta ballot.BallotMetadata) (*CastVoteRecord, error) {
	ballotType, err := BallotTypeName(meta.BallotType)
	if err != nil {
		return nil, err
	}
	rec := &CastVoteRecord{
		BallotID:      in.BallotID,
		BallotStyleID: meta.BallotStyleID,
		BallotType:    ballotType,
		BatchID:       in.BatchID,
		BatchLabel:    in.BatchLabel,
		PrecinctID:    meta.PrecinctID,
		ScannerID:     in.ScannerID,
		TestBallot:    meta.IsTestMode,
	}
	if meta.Locales.Primary != "" {
		locales := meta.Locales
		rec.Locales = &locales
	}
	return rec, nil
}

// BallotTypeName maps a ballot type to its record name.
func BallotTypeName(t ballot.BallotType) (string, error) {
	switch t {
	case ballot.StandardBallot, ballot.AbsenteeBallot, ballot.ProvisionalBallot:
		return t.String(), nil
	}
	return "", contractErrorf("illegal ballot type %d", int(t))
}

// ballotContests returns the markable contests for a ballot style, with
// either/neither contests expanded into their two questions.
func ballotContests(e *election.Election, ballotStyleID string) ([]election.Contest, error) {
	if e == nil {
		return nil, contractErrorf("no election definition")
	}
	bs, ok := e.BallotStyle(ballotStyleID)
	if !ok {
		return nil, contractErrorf("unknown ballot style %q", ballotStyleID)
	}
	return election.ExpandEitherNeither(e.ContestsForBallotStyle(bs)), nil
}

// pageContests keeps the contests laid out on one page. A page lists an
// either/neither contest by its own id.
func pageContests(contests []election.Contest, ids []string) []election.Contest {
	var out []election.Contest
	for _, c := range contests {
		if slices.Contains(ids, c.ID) || slices.Contains(ids, c.ParentID()) {
			out = append(out, c)
		}
	}
	return out
}

func buildVotes(contests []election.Contest, votes ballot.Votes) (map[string][]string, error) {
	out := make(map[string][]string, len(contests))
	for _, c := range contests {
		ids, err := optionIDs(c, votes[c.ID])
		if err != nil {
			return nil, err
		}
		out[c.ID] = ids
	}
	return out, nil
}

func optionIDs(c election.Contest, marked []ballot.VoteOption) ([]string, error) {
	ids := make([]string, 0, len(marked))
	switch c.Type {
	case election.CandidateContestType:
		for _, o := range marked {
			if o.IsWriteIn {
				ids = append(ids, WriteInOptionID(o.ID))
				continue
			}
			ids = append(ids, o.ID)
		}
	case election.YesNoContestType:
		for _, o := range marked {
			ids = append(ids, o.ID)
		}
	default:
		return nil, contractErrorf("illegal contest type %q for contest %q", c.Type, c.ID)
	}
	return ids, nil
}

// WriteInOptionID returns the record option id for a write-in candidate.
func WriteInOptionID(id string) string {
	if strings.HasPrefix(id, election.WriteInIDPrefix) {
		return id
	}
	return election.WriteInIDPrefix + id
}
