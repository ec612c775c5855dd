package cvr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
)

// CastVoteRecord is one ballot's selections plus the metadata needed to
// tabulate it. It serializes to the flat legacy layout: metadata under
// "_"-prefixed keys and one key per contest.
type CastVoteRecord struct {
	BallotID      string
	BallotStyleID string
	BallotType    string
	BatchID       string
	BatchLabel    string
	PrecinctID    string
	ScannerID     string
	TestBallot    bool
	Locales       *ballot.Locales
	PageNumbers   []int
	Layouts       []json.RawMessage
	BallotImages  []InlineBallotImage

	// Votes maps contest id to the selected option ids.
	Votes map[string][]string
}

// InlineBallotImage is a data URL of a page image embedded in the record.
type InlineBallotImage struct {
	Normalized string `json:"normalized"`
}

const (
	keyBallotID      = "_ballotId"
	keyBallotStyleID = "_ballotStyleId"
	keyBallotType    = "_ballotType"
	keyBatchID       = "_batchId"
	keyBatchLabel    = "_batchLabel"
	keyPrecinctID    = "_precinctId"
	keyScannerID     = "_scannerId"
	keyTestBallot    = "_testBallot"
	keyLocales       = "_locales"
	keyPageNumbers   = "_pageNumbers"
	keyLayouts       = "_layouts"
	keyBallotImages  = "_ballotImages"
)

func (r CastVoteRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Votes)+12)
	for id, options := range r.Votes {
		if strings.HasPrefix(id, "_") {
			return nil, fmt.Errorf("contest id %q collides with record metadata", id)
		}
		if options == nil {
			options = []string{}
		}
		m[id] = options
	}
	m[keyBallotID] = r.BallotID
	m[keyBallotStyleID] = r.BallotStyleID
	m[keyBallotType] = r.BallotType
	m[keyBatchID] = r.BatchID
	m[keyBatchLabel] = r.BatchLabel
	m[keyPrecinctID] = r.PrecinctID
	m[keyScannerID] = r.ScannerID
	m[keyTestBallot] = r.TestBallot
	if r.Locales != nil {
		m[keyLocales] = r.Locales
	}
	if r.PageNumbers != nil {
		m[keyPageNumbers] = r.PageNumbers
	}
	if r.Layouts != nil {
		m[keyLayouts] = r.Layouts
	}
	if r.BallotImages != nil {
		m[keyBallotImages] = r.BallotImages
	}
	return json.Marshal(m)
}

func (r *CastVoteRecord) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := CastVoteRecord{Votes: make(map[string][]string)}
	fields := map[string]any{
		keyBallotID:      &out.BallotID,
		keyBallotStyleID: &out.BallotStyleID,
		keyBallotType:    &out.BallotType,
		keyBatchID:       &out.BatchID,
		keyBatchLabel:    &out.BatchLabel,
		keyPrecinctID:    &out.PrecinctID,
		keyScannerID:     &out.ScannerID,
		keyTestBallot:    &out.TestBallot,
		keyLocales:       &out.Locales,
		keyPageNumbers:   &out.PageNumbers,
		keyLayouts:       &out.Layouts,
		keyBallotImages:  &out.BallotImages,
	}
	for key, raw := range m {
		dst, ok := fields[key]
		if !ok {
			if strings.HasPrefix(key, "_") {
				continue
			}
			var options []string
			if err := json.Unmarshal(raw, &options); err != nil {
				return fmt.Errorf("contest %q: %w", key, err)
			}
			if options == nil {
				options = []string{}
			}
			out.Votes[key] = options
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	*r = out
	return nil
}
