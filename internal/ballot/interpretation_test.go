package ballot

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSheetOfSwap(t *testing.T) {
	s := NewSheet("front.jpg", "back.jpg")
	swapped := s.Swap()
	if swapped.Front != "back.jpg" || swapped.Back != "front.jpg" {
		t.Errorf("Swap() = %+v", swapped)
	}
	if s.Swap().Swap() != s {
		t.Errorf("double swap should restore the sheet")
	}
}

func TestMapSheet(t *testing.T) {
	s := NewSheet(1, 2)
	got := MapSheet(s, func(n int) string { return strings.Repeat("x", n) })
	if got.Front != "x" || got.Back != "xx" {
		t.Errorf("MapSheet() = %+v", got)
	}
}

func TestPageInterpretationJSON(t *testing.T) {
	page := PageInterpretationWithFiles{
		OriginalFilename:   "/tmp/a.jpg",
		NormalizedFilename: "/tmp/a-normalized.jpg",
		ContestIDs:         []string{"mayor", "prop-1"},
		Interpretation: InterpretedHmpbPage{
			Metadata: HmpbPageMetadata{
				BallotMetadata: BallotMetadata{
					ElectionHash:  "abc",
					BallotStyleID: "1",
					PrecinctID:    "6522",
					BallotType:    AbsenteeBallot,
					Locales:       Locales{Primary: "en-US"},
				},
				PageNumber: 1,
			},
			AdjudicationInfo: AdjudicationInfo{
				RequiresAdjudication: true,
				EnabledReasons:       []AdjudicationReason{Overvote},
				EnabledReasonInfos: []AdjudicationReasonInfo{
					{Type: Overvote, ContestID: "mayor", OptionIDs: []string{"a", "b"}, Expected: 1},
				},
			},
			Votes: Votes{
				"mayor":  {{ID: "a", Name: "Alice"}, {ID: "write-in-0", Name: "BOB", IsWriteIn: true}},
				"prop-1": {{ID: "yes"}},
			},
		},
	}

	data, err := json.Marshal(page)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"InterpretedHmpbPage"`) {
		t.Errorf("expected type discriminator in %s", data)
	}
	if !strings.Contains(string(data), `"prop-1":["yes"]`) {
		t.Errorf("expected yes/no votes as bare ids in %s", data)
	}
	if !strings.Contains(string(data), `"pageNumber":1`) {
		t.Errorf("expected flattened page number in %s", data)
	}

	var decoded PageInterpretationWithFiles
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(page, decoded); diff != "" {
		t.Errorf("decoded page mismatch (-want +got):\n%s", diff)
	}
}

func TestBlankPageJSON(t *testing.T) {
	data, err := json.Marshal(BlankPage{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"type":"BlankPage"}` {
		t.Errorf("Marshal(BlankPage) = %s", data)
	}
	p, err := UnmarshalPageInterpretation(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := p.(BlankPage); !ok {
		t.Errorf("got %T, want BlankPage", p)
	}
}

func TestUnmarshalPageInterpretation_UnknownType(t *testing.T) {
	if _, err := UnmarshalPageInterpretation([]byte(`{"type":"NotAPage"}`)); err == nil {
		t.Error("expected error for unknown page type")
	}
}

func TestPagePredicates(t *testing.T) {
	tests := []struct {
		page    PageInterpretation
		blank   bool
		hmpb    bool
		hasMeta bool
	}{
		{BlankPage{}, true, false, false},
		{UnreadablePage{}, true, false, false},
		{InterpretedBmdPage{}, false, false, false},
		{InterpretedHmpbPage{}, false, true, true},
		{UninterpretedHmpbPage{}, false, true, true},
		{InvalidPrecinctPage{}, false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.page.PageType()), func(t *testing.T) {
			if got := IsBlankOrUnreadable(tt.page); got != tt.blank {
				t.Errorf("IsBlankOrUnreadable() = %v, want %v", got, tt.blank)
			}
			if got := IsHmpb(tt.page); got != tt.hmpb {
				t.Errorf("IsHmpb() = %v, want %v", got, tt.hmpb)
			}
			if _, ok := HmpbMetadata(tt.page); ok != tt.hasMeta {
				t.Errorf("HmpbMetadata() ok = %v, want %v", ok, tt.hasMeta)
			}
		})
	}
}

func TestBallotTypeString(t *testing.T) {
	if StandardBallot.String() != "standard" || AbsenteeBallot.String() != "absentee" || ProvisionalBallot.String() != "provisional" {
		t.Error("unexpected ballot type names")
	}
	if BallotType(-1).String() != "BallotType(-1)" {
		t.Errorf("got %q", BallotType(-1).String())
	}
}
