// Package ballot describes what the interpreter found on each scanned page
// and the vote data carried by interpreted pages.
package ballot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BallotType is the legacy numeric ballot type carried in ballot metadata.
type BallotType int

const (
	StandardBallot BallotType = iota
	AbsenteeBallot
	ProvisionalBallot
)

func (t BallotType) String() string {
	switch t {
	case StandardBallot:
		return "standard"
	case AbsenteeBallot:
		return "absentee"
	case ProvisionalBallot:
		return "provisional"
	default:
		return fmt.Sprintf("BallotType(%d)", int(t))
	}
}

// Locales is the language pair a ballot was printed in.
type Locales struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
}

// BallotMetadata is decoded from the ballot's QR code or timing marks.
type BallotMetadata struct {
	ElectionHash  string     `json:"electionHash"`
	BallotStyleID string     `json:"ballotStyleId"`
	PrecinctID    string     `json:"precinctId"`
	BallotType    BallotType `json:"ballotType"`
	Locales       Locales    `json:"locales"`
	IsTestMode    bool       `json:"isTestMode"`
}

// HmpbPageMetadata adds the page number printed on hand-marked ballot pages.
type HmpbPageMetadata struct {
	BallotMetadata
	PageNumber int `json:"pageNumber"`
}

// AdjudicationReason is a reason a sheet may need human review.
type AdjudicationReason string

const (
	UninterpretableBallot AdjudicationReason = "UninterpretableBallot"
	MarginalMark          AdjudicationReason = "MarginalMark"
	Overvote              AdjudicationReason = "Overvote"
	Undervote             AdjudicationReason = "Undervote"
	WriteIn               AdjudicationReason = "WriteIn"
	UnmarkedWriteIn       AdjudicationReason = "UnmarkedWriteIn"
	BlankBallot           AdjudicationReason = "BlankBallot"
)

// AdjudicationReasonInfo is one occurrence of a reason, optionally tied to a
// contest and its options.
type AdjudicationReasonInfo struct {
	Type      AdjudicationReason `json:"type"`
	ContestID string             `json:"contestId,omitempty"`
	OptionID  string             `json:"optionId,omitempty"`
	OptionIDs []string           `json:"optionIds,omitempty"`
	Expected  int                `json:"expected,omitempty"`
}

type AdjudicationInfo struct {
	RequiresAdjudication bool                     `json:"requiresAdjudication"`
	EnabledReasons       []AdjudicationReason     `json:"enabledReasons"`
	EnabledReasonInfos   []AdjudicationReasonInfo `json:"enabledReasonInfos"`
	IgnoredReasonInfos   []AdjudicationReasonInfo `json:"ignoredReasonInfos,omitempty"`
}

// VoteOption is one marked option. Candidate votes carry a name; yes/no and
// either/neither votes are bare option ids.
type VoteOption struct {
	ID        string
	Name      string
	IsWriteIn bool
}

func (o VoteOption) isCandidate() bool {
	return o.Name != "" || o.IsWriteIn
}

func (o VoteOption) MarshalJSON() ([]byte, error) {
	if !o.isCandidate() {
		return json.Marshal(o.ID)
	}
	return json.Marshal(struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		IsWriteIn bool   `json:"isWriteIn,omitempty"`
	}{o.ID, o.Name, o.IsWriteIn})
}

func (o *VoteOption) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		*o = VoteOption{}
		return json.Unmarshal(data, &o.ID)
	}
	var c struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		IsWriteIn bool   `json:"isWriteIn"`
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	*o = VoteOption{ID: c.ID, Name: c.Name, IsWriteIn: c.IsWriteIn}
	return nil
}

// Votes maps a contest id to the options marked in that contest.
type Votes map[string][]VoteOption

// PageType discriminates the PageInterpretation variants.
type PageType string

const (
	InterpretedBmdPageType      PageType = "InterpretedBmdPage"
	InterpretedHmpbPageType     PageType = "InterpretedHmpbPage"
	UninterpretedHmpbPageType   PageType = "UninterpretedHmpbPage"
	InvalidElectionHashPageType PageType = "InvalidElectionHashPage"
	InvalidTestModePageType     PageType = "InvalidTestModePage"
	InvalidPrecinctPageType     PageType = "InvalidPrecinctPage"
	UnreadablePageType          PageType = "UnreadablePage"
	BlankPageType               PageType = "BlankPage"
)

// PageInterpretation is the interpreter's verdict on a single page. The set
// of implementations is closed.
type PageInterpretation interface {
	PageType() PageType
	isPageInterpretation()
}

type InterpretedBmdPage struct {
	BallotID string         `json:"ballotId"`
	Metadata BallotMetadata `json:"metadata"`
	Votes    Votes          `json:"votes"`
}

type InterpretedHmpbPage struct {
	BallotID         string           `json:"ballotId,omitempty"`
	Metadata         HmpbPageMetadata `json:"metadata"`
	AdjudicationInfo AdjudicationInfo `json:"adjudicationInfo"`
	Votes            Votes            `json:"votes"`
}

type UninterpretedHmpbPage struct {
	Metadata HmpbPageMetadata `json:"metadata"`
}

type InvalidElectionHashPage struct {
	ExpectedElectionHash string `json:"expectedElectionHash"`
	ActualElectionHash   string `json:"actualElectionHash"`
}

type InvalidTestModePage struct {
	Metadata HmpbPageMetadata `json:"metadata"`
}

type InvalidPrecinctPage struct {
	Metadata HmpbPageMetadata `json:"metadata"`
}

type UnreadablePage struct {
	Reason string `json:"reason,omitempty"`
}

type BlankPage struct{}

func (InterpretedBmdPage) PageType() PageType      { return InterpretedBmdPageType }
func (InterpretedHmpbPage) PageType() PageType     { return InterpretedHmpbPageType }
func (UninterpretedHmpbPage) PageType() PageType   { return UninterpretedHmpbPageType }
func (InvalidElectionHashPage) PageType() PageType { return InvalidElectionHashPageType }
func (InvalidTestModePage) PageType() PageType     { return InvalidTestModePageType }
func (InvalidPrecinctPage) PageType() PageType     { return InvalidPrecinctPageType }
func (UnreadablePage) PageType() PageType          { return UnreadablePageType }
func (BlankPage) PageType() PageType               { return BlankPageType }

func (InterpretedBmdPage) isPageInterpretation()      {}
func (InterpretedHmpbPage) isPageInterpretation()     {}
func (UninterpretedHmpbPage) isPageInterpretation()   {}
func (InvalidElectionHashPage) isPageInterpretation() {}
func (InvalidTestModePage) isPageInterpretation()     {}
func (InvalidPrecinctPage) isPageInterpretation()     {}
func (UnreadablePage) isPageInterpretation()          {}
func (BlankPage) isPageInterpretation()               {}

// IsBlankOrUnreadable reports whether p carries no usable ballot content.
func IsBlankOrUnreadable(p PageInterpretation) bool {
	switch p.(type) {
	case BlankPage, UnreadablePage:
		return true
	}
	return false
}

// IsHmpb reports whether p is a hand-marked page, interpreted or not.
func IsHmpb(p PageInterpretation) bool {
	switch p.(type) {
	case InterpretedHmpbPage, UninterpretedHmpbPage:
		return true
	}
	return false
}

// HmpbMetadata returns the page metadata of a hand-marked page.
func HmpbMetadata(p PageInterpretation) (HmpbPageMetadata, bool) {
	switch p := p.(type) {
	case InterpretedHmpbPage:
		return p.Metadata, true
	case UninterpretedHmpbPage:
		return p.Metadata, true
	}
	return HmpbPageMetadata{}, false
}

// withType flattens v into a JSON object and adds the "type" discriminator.
func withType(t PageType, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head := fmt.Sprintf(`{"type":%q`, t)
	if string(body) == "{}" {
		return []byte(head + "}"), nil
	}
	return []byte(head + "," + strings.TrimPrefix(string(body), "{")), nil
}

func (p InterpretedBmdPage) MarshalJSON() ([]byte, error) {
	type plain InterpretedBmdPage
	return withType(p.PageType(), plain(p))
}

func (p InterpretedHmpbPage) MarshalJSON() ([]byte, error) {
	type plain InterpretedHmpbPage
	return withType(p.PageType(), plain(p))
}

func (p UninterpretedHmpbPage) MarshalJSON() ([]byte, error) {
	type plain UninterpretedHmpbPage
	return withType(p.PageType(), plain(p))
}

func (p InvalidElectionHashPage) MarshalJSON() ([]byte, error) {
	type plain InvalidElectionHashPage
	return withType(p.PageType(), plain(p))
}

func (p InvalidTestModePage) MarshalJSON() ([]byte, error) {
	type plain InvalidTestModePage
	return withType(p.PageType(), plain(p))
}

func (p InvalidPrecinctPage) MarshalJSON() ([]byte, error) {
	type plain InvalidPrecinctPage
	return withType(p.PageType(), plain(p))
}

func (p UnreadablePage) MarshalJSON() ([]byte, error) {
	type plain UnreadablePage
	return withType(p.PageType(), plain(p))
}

func (p BlankPage) MarshalJSON() ([]byte, error) {
	return withType(p.PageType(), struct{}{})
}

// UnmarshalPageInterpretation decodes a page interpretation using its "type"
// field.
func UnmarshalPageInterpretation(data []byte) (PageInterpretation, error) {
	var head struct {
		Type PageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	var (
		p   PageInterpretation
		err error
	)
	switch head.Type {
	case InterpretedBmdPageType:
		var v InterpretedBmdPage
		err = json.Unmarshal(data, &v)
		p = v
	case InterpretedHmpbPageType:
		var v InterpretedHmpbPage
		err = json.Unmarshal(data, &v)
		p = v
	case UninterpretedHmpbPageType:
		var v UninterpretedHmpbPage
		err = json.Unmarshal(data, &v)
		p = v
	case InvalidElectionHashPageType:
		var v InvalidElectionHashPage
		err = json.Unmarshal(data, &v)
		p = v
	case InvalidTestModePageType:
		var v InvalidTestModePage
		err = json.Unmarshal(data, &v)
		p = v
	case InvalidPrecinctPageType:
		var v InvalidPrecinctPage
		err = json.Unmarshal(data, &v)
		p = v
	case UnreadablePageType:
		var v UnreadablePage
		err = json.Unmarshal(data, &v)
		p = v
	case BlankPageType:
		p = BlankPage{}
	default:
		return nil, fmt.Errorf("unknown page interpretation type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", head.Type, err)
	}
	return p, nil
}

// PageInterpretationWithFiles ties an interpretation to the image files it
// was produced from. ContestIDs lists the contests laid out on a hand-marked
// page, when the layout is known.
type PageInterpretationWithFiles struct {
	OriginalFilename   string             `json:"originalFilename"`
	NormalizedFilename string             `json:"normalizedFilename"`
	Interpretation     PageInterpretation `json:"interpretation"`
	ContestIDs         []string           `json:"contestIds,omitempty"`
	Layout             json.RawMessage    `json:"layout,omitempty"`
}

func (p *PageInterpretationWithFiles) UnmarshalJSON(data []byte) error {
	var raw struct {
		OriginalFilename   string          `json:"originalFilename"`
		NormalizedFilename string          `json:"normalizedFilename"`
		Interpretation     json.RawMessage `json:"interpretation"`
		ContestIDs         []string        `json:"contestIds"`
		Layout             json.RawMessage `json:"layout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Interpretation) == 0 {
		return fmt.Errorf("missing interpretation")
	}
	interp, err := UnmarshalPageInterpretation(raw.Interpretation)
	if err != nil {
		return err
	}
	*p = PageInterpretationWithFiles{
		OriginalFilename:   raw.OriginalFilename,
		NormalizedFilename: raw.NormalizedFilename,
		Interpretation:     interp,
		ContestIDs:         raw.ContestIDs,
		Layout:             raw.Layout,
	}
	return nil
}

// Interpretations drops the file names from a sheet of interpreted pages.
func Interpretations(s SheetOf[PageInterpretationWithFiles]) SheetOf[PageInterpretation] {
	return MapSheet(s, func(p PageInterpretationWithFiles) PageInterpretation {
		return p.Interpretation
	})
}
