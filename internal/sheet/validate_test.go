package sheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/testutil"
)

type pages = ballot.SheetOf[ballot.PageInterpretation]

func hmpbPair(t *testing.T) (ballot.InterpretedHmpbPage, ballot.InterpretedHmpbPage) {
	def := testutil.ElectionDefinition(t)
	meta := testutil.Metadata(def, "1", "6522")
	return testutil.HmpbPage(meta, 1, nil), testutil.HmpbPage(meta, 2, nil)
}

func TestValidate_HmpbSwapInvariant(t *testing.T) {
	p1, p2 := hmpbPair(t)

	for _, s := range []pages{ballot.NewSheet[ballot.PageInterpretation](p1, p2), ballot.NewSheet[ballot.PageInterpretation](p2, p1)} {
		got, err := Validate(s)
		require.NoError(t, err)
		front, _ := ballot.HmpbMetadata(got.Front)
		back, _ := ballot.HmpbMetadata(got.Back)
		assert.Equal(t, 1, front.PageNumber)
		assert.Equal(t, 2, back.PageNumber)
	}
}

func TestValidate_UninterpretedHmpbPairs(t *testing.T) {
	p1, p2 := hmpbPair(t)
	s := ballot.NewSheet[ballot.PageInterpretation](ballot.UninterpretedHmpbPage{Metadata: p2.Metadata}, p1)

	got, err := Validate(s)
	require.NoError(t, err)
	assert.IsType(t, ballot.InterpretedHmpbPage{}, got.Front)
}

func TestValidate_SingleFieldMismatch(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *ballot.HmpbPageMetadata)
		wantErr ValidationError
		message string
	}{
		{
			name:    "page number",
			mutate:  func(m *ballot.HmpbPageMetadata) { m.PageNumber = 3 },
			wantErr: &NonConsecutivePages{},
			message: "expected a sheet to have consecutive page numbers, but got front=1 back=3",
		},
		{
			name:    "ballot style",
			mutate:  func(m *ballot.HmpbPageMetadata) { m.BallotStyleID = "2" },
			wantErr: &MismatchedBallotStyle{},
			message: "expected a sheet to have the same ballot style, but got front=1 back=2",
		},
		{
			name:    "precinct",
			mutate:  func(m *ballot.HmpbPageMetadata) { m.PrecinctID = "6523" },
			wantErr: &MismatchedPrecinct{},
			message: "expected a sheet to have the same precinct, but got front=6522 back=6523",
		},
		{
			name:    "ballot type",
			mutate:  func(m *ballot.HmpbPageMetadata) { m.BallotType = ballot.AbsenteeBallot },
			wantErr: &MismatchedBallotType{},
			message: "expected a sheet to have the same ballot type, but got front=standard back=absentee",
		},
		{
			name:    "election hash",
			mutate:  func(m *ballot.HmpbPageMetadata) { m.ElectionHash = "deadbeef" },
			wantErr: &MismatchedElectionHash{},
		},
		{
			name:    "locales",
			mutate:  func(m *ballot.HmpbPageMetadata) { m.Locales = ballot.Locales{Primary: "en-US", Secondary: "es-US"} },
			wantErr: &MismatchedLocales{},
			message: "expected a sheet to have the same locales, but got front=en-US back=en-US/es-US",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p1, p2 := hmpbPair(t)
			tt.mutate(&p2.Metadata)

			for _, s := range []pages{ballot.NewSheet[ballot.PageInterpretation](p1, p2), ballot.NewSheet[ballot.PageInterpretation](p2, p1)} {
				_, err := Validate(s)
				require.Error(t, err)
				assert.IsType(t, tt.wantErr, err)
				if tt.message != "" {
					assert.Equal(t, tt.message, err.Error())
				}
				var verr ValidationError
				assert.True(t, errors.As(err, &verr))
			}
		})
	}
}

func TestValidate_ShortCircuitsOnFirstMismatch(t *testing.T) {
	p1, p2 := hmpbPair(t)
	p2.Metadata.BallotStyleID = "2"
	p2.Metadata.PrecinctID = "6523"

	_, err := Validate(ballot.NewSheet[ballot.PageInterpretation](p1, p2))
	assert.IsType(t, &MismatchedBallotStyle{}, err)
}

func TestValidate_Bmd(t *testing.T) {
	def := testutil.ElectionDefinition(t)
	bmd := testutil.BmdPage(testutil.Metadata(def, "1", "6522"), nil)
	p1, _ := hmpbPair(t)

	tests := []struct {
		name      string
		sheet     pages
		wantErr   bool
		wantFront ballot.PageType
	}{
		{"bmd then blank", ballot.NewSheet[ballot.PageInterpretation](bmd, ballot.BlankPage{}), false, ballot.InterpretedBmdPageType},
		{"blank then bmd", ballot.NewSheet[ballot.PageInterpretation](ballot.BlankPage{}, bmd), false, ballot.InterpretedBmdPageType},
		{"unreadable then bmd", ballot.NewSheet[ballot.PageInterpretation](ballot.UnreadablePage{}, bmd), false, ballot.InterpretedBmdPageType},
		{"bmd then hmpb", ballot.NewSheet[ballot.PageInterpretation](bmd, p1), true, ""},
		{"bmd then bmd", ballot.NewSheet[ballot.PageInterpretation](bmd, bmd), true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.sheet)
			if tt.wantErr {
				assert.IsType(t, &InvalidFrontBackPageTypes{}, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFront, got.Front.PageType())
		})
	}
}

func TestValidate_HmpbWithNonHmpbBack(t *testing.T) {
	p1, _ := hmpbPair(t)
	for _, s := range []pages{
		ballot.NewSheet[ballot.PageInterpretation](p1, ballot.BlankPage{}),
		ballot.NewSheet[ballot.PageInterpretation](ballot.BlankPage{}, p1),
	} {
		_, err := Validate(s)
		var typesErr *InvalidFrontBackPageTypes
		require.True(t, errors.As(err, &typesErr))
		assert.Equal(t, ballot.InterpretedHmpbPageType, typesErr.Types.Front)
		assert.Equal(t, ballot.BlankPageType, typesErr.Types.Back)
	}
}

func TestValidate_PermissiveForOtherCombinations(t *testing.T) {
	tests := []pages{
		ballot.NewSheet[ballot.PageInterpretation](ballot.BlankPage{}, ballot.BlankPage{}),
		ballot.NewSheet[ballot.PageInterpretation](ballot.UnreadablePage{}, ballot.BlankPage{}),
		ballot.NewSheet[ballot.PageInterpretation](ballot.InvalidPrecinctPage{}, ballot.BlankPage{}),
		ballot.NewSheet[ballot.PageInterpretation](ballot.InvalidElectionHashPage{}, ballot.InvalidTestModePage{}),
	}
	for _, s := range tests {
		got, err := Validate(s)
		assert.NoError(t, err)
		assert.Equal(t, s, got)
	}
}
