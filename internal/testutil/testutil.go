// Package testutil provides shared test fixtures: a small general election
// definition and builders for the page interpretations scanned from it.
package testutil

import (
	_ "embed"
	"testing"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/election"
)

//go:embed testdata/election.json
var electionJSON []byte

// ElectionJSON returns the raw fixture election.
func ElectionJSON() []byte {
	return append([]byte(nil), electionJSON...)
}

// ElectionDefinition parses the fixture election, failing the test on error.
func ElectionDefinition(t testing.TB) *election.Definition {
	t.Helper()
	def, err := election.Parse(electionJSON)
	if err != nil {
		t.Fatalf("failed to parse fixture election: %v", err)
	}
	return def
}

// Metadata returns metadata for a standard ballot of the given style and
// precinct with a matching election hash.
func Metadata(def *election.Definition, ballotStyleID, precinctID string) ballot.BallotMetadata {
	return ballot.BallotMetadata{
		ElectionHash:  def.ElectionHash,
		BallotStyleID: ballotStyleID,
		PrecinctID:    precinctID,
		BallotType:    ballot.StandardBallot,
		Locales:       ballot.Locales{Primary: "en-US"},
	}
}

// HmpbPage builds an interpreted hand-marked page that needs no adjudication.
func HmpbPage(meta ballot.BallotMetadata, pageNumber int, votes ballot.Votes) ballot.InterpretedHmpbPage {
	return ballot.InterpretedHmpbPage{
		Metadata: ballot.HmpbPageMetadata{BallotMetadata: meta, PageNumber: pageNumber},
		AdjudicationInfo: ballot.AdjudicationInfo{
			EnabledReasons:     []ballot.AdjudicationReason{},
			EnabledReasonInfos: []ballot.AdjudicationReasonInfo{},
		},
		Votes: votes,
	}
}

// NeedsReview marks page as requiring adjudication for the given reasons.
func NeedsReview(page ballot.InterpretedHmpbPage, reasons ...ballot.AdjudicationReason) ballot.InterpretedHmpbPage {
	page.AdjudicationInfo.RequiresAdjudication = true
	page.AdjudicationInfo.EnabledReasons = reasons
	infos := make([]ballot.AdjudicationReasonInfo, 0, len(reasons))
	for _, r := range reasons {
		infos = append(infos, ballot.AdjudicationReasonInfo{Type: r})
	}
	page.AdjudicationInfo.EnabledReasonInfos = infos
	return page
}

// BmdPage builds an interpreted machine-marked page.
func BmdPage(meta ballot.BallotMetadata, votes ballot.Votes) ballot.InterpretedBmdPage {
	return ballot.InterpretedBmdPage{
		BallotID: "abcdefg",
		Metadata: meta,
		Votes:    votes,
	}
}

// Candidates builds candidate vote options from ids.
func Candidates(ids ...string) []ballot.VoteOption {
	opts := make([]ballot.VoteOption, 0, len(ids))
	for _, id := range ids {
		opts = append(opts, ballot.VoteOption{ID: id, Name: "Candidate " + id})
	}
	return opts
}

// Options builds yes/no vote options from ids.
func Options(ids ...string) []ballot.VoteOption {
	opts := make([]ballot.VoteOption, 0, len(ids))
	for _, id := range ids {
		opts = append(opts, ballot.VoteOption{ID: id})
	}
	return opts
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
