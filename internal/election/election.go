// Package election holds the read-only election definition shared by the
// scanner: contests, ballot styles, districts and the election hash that
// scanned ballots are checked against.
package election

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ContestType identifies the kind of a contest.
type ContestType string

const (
	CandidateContestType       ContestType = "candidate"
	YesNoContestType           ContestType = "yesno"
	MsEitherNeitherContestType ContestType = "ms-either-neither"
)

// WriteInIDPrefix is prepended to the id of write-in options in vote records.
const WriteInIDPrefix = "write-in-"

type Candidate struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PartyID   string `json:"partyId,omitempty"`
	IsWriteIn bool   `json:"isWriteIn,omitempty"`
}

type YesNoOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Contest is the union of every contest kind. Fields that do not apply to
// a contest's Type are left empty.
type Contest struct {
	ID         string      `json:"id"`
	Type       ContestType `json:"type"`
	DistrictID string      `json:"districtId"`
	PartyID    string      `json:"partyId,omitempty"`
	Section    string      `json:"section,omitempty"`
	Title      string      `json:"title"`

	// candidate
	Seats         int         `json:"seats,omitempty"`
	Candidates    []Candidate `json:"candidates,omitempty"`
	AllowWriteIns bool        `json:"allowWriteIns,omitempty"`

	// yesno
	Description string       `json:"description,omitempty"`
	YesOption   *YesNoOption `json:"yesOption,omitempty"`
	NoOption    *YesNoOption `json:"noOption,omitempty"`

	// ms-either-neither
	EitherNeitherContestID string       `json:"eitherNeitherContestId,omitempty"`
	PickOneContestID       string       `json:"pickOneContestId,omitempty"`
	EitherNeitherLabel     string       `json:"eitherNeitherLabel,omitempty"`
	PickOneLabel           string       `json:"pickOneLabel,omitempty"`
	EitherOption           *YesNoOption `json:"eitherOption,omitempty"`
	NeitherOption          *YesNoOption `json:"neitherOption,omitempty"`
	FirstOption            *YesNoOption `json:"firstOption,omitempty"`
	SecondOption           *YesNoOption `json:"secondOption,omitempty"`

	// parent is set on the yes/no contests produced by ExpandEitherNeither.
	parent string
}

// ParentID returns the id of the either/neither contest this contest was
// expanded from, or its own id.
func (c Contest) ParentID() string {
	if c.parent != "" {
		return c.parent
	}
	return c.ID
}

type BallotStyle struct {
	ID        string   `json:"id"`
	Precincts []string `json:"precincts"`
	Districts []string `json:"districts"`
	PartyID   string   `json:"partyId,omitempty"`
}

type Precinct struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type District struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Party struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Abbrev string `json:"abbrev,omitempty"`
}

type Election struct {
	Title        string          `json:"title"`
	State        string          `json:"state,omitempty"`
	County       json.RawMessage `json:"county,omitempty"`
	Date         string          `json:"date"`
	Districts    []District      `json:"districts"`
	Parties      []Party         `json:"parties"`
	Precincts    []Precinct      `json:"precincts"`
	BallotStyles []BallotStyle   `json:"ballotStyles"`
	Contests     []Contest       `json:"contests"`
}

// Definition is an election together with the raw bytes it was parsed from
// and their hash.
type Definition struct {
	Election     *Election
	ElectionData []byte
	ElectionHash string
}

var ErrNoBallotStyles = errors.New("election has no ballot styles")

// Parse decodes an election definition and computes its hash.
func Parse(data []byte) (*Definition, error) {
	var e Election
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse election JSON: %w", err)
	}
	if len(e.BallotStyles) == 0 {
		return nil, ErrNoBallotStyles
	}
	seen := make(map[string]bool, len(e.Contests))
	for _, c := range e.Contests {
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate contest %q found", c.ID)
		}
		seen[c.ID] = true
	}
	sum := sha256.Sum256(data)
	return &Definition{
		Election:     &e,
		ElectionData: data,
		ElectionHash: hex.EncodeToString(sum[:]),
	}, nil
}

// Load reads and parses an election definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read election file: %w", err)
	}
	return Parse(data)
}

// BallotStyle looks up a ballot style by id.
func (e *Election) BallotStyle(id string) (BallotStyle, bool) {
	for _, bs := range e.BallotStyles {
		if bs.ID == id {
			return bs, true
		}
	}
	return BallotStyle{}, false
}

func (e *Election) Precinct(id string) (Precinct, bool) {
	for _, p := range e.Precincts {
		if p.ID == id {
			return p, true
		}
	}
	return Precinct{}, false
}

// ContestsForBallotStyle returns the contests that appear on ballots of the
// given style, in election order. A contest applies when its district is one
// of the style's districts and its party matches the style's party.
func (e *Election) ContestsForBallotStyle(bs BallotStyle) []Contest {
	districts := make(map[string]bool, len(bs.Districts))
	for _, d := range bs.Districts {
		districts[d] = true
	}
	var contests []Contest
	for _, c := range e.Contests {
		if districts[c.DistrictID] && c.PartyID == bs.PartyID {
			contests = append(contests, c)
		}
	}
	return contests
}

// ExpandEitherNeither replaces each either/neither contest with the two yes/no
// contests voters actually mark: the either/neither question and the
// pick-one question.
func ExpandEitherNeither(contests []Contest) []Contest {
	out := make([]Contest, 0, len(contests))
	for _, c := range contests {
		if c.Type != MsEitherNeitherContestType {
			out = append(out, c)
			continue
		}
		out = append(out,
			Contest{
				ID:          c.EitherNeitherContestID,
				Type:        YesNoContestType,
				DistrictID:  c.DistrictID,
				PartyID:     c.PartyID,
				Section:     c.Section,
				Title:       c.Title,
				Description: c.Description,
				YesOption:   c.EitherOption,
				NoOption:    c.NeitherOption,
				parent:      c.ID,
			},
			Contest{
				ID:          c.PickOneContestID,
				Type:        YesNoContestType,
				DistrictID:  c.DistrictID,
				PartyID:     c.PartyID,
				Section:     c.Section,
				Title:       c.Title,
				Description: c.Description,
				YesOption:   c.FirstOption,
				NoOption:    c.SecondOption,
				parent:      c.ID,
			},
		)
	}
	return out
}
