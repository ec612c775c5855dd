package cvr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/db"
	"github.com/banshee-data/ballot.scanner/internal/election"
	"github.com/banshee-data/ballot.scanner/internal/monitoring"
)

// Store persists sheets and their records.
type Store interface {
	AddSheet(ctx context.Context, s db.Sheet, cvr []byte) error
}

// Recorder builds a record for every accepted sheet and stores the sheet
// outcome alongside it.
type Recorder struct {
	Election   *election.Definition
	Store      Store
	ScannerID  string
	BatchID    string
	BatchLabel string

	// InlineImages embeds scaled page images in each record.
	InlineImages bool
	ImageWidth   int
}

// RecordSheet stores the outcome of one sheet. Accepted sheets with votes
// also get a cast vote record.
func (r *Recorder) RecordSheet(ctx context.Context, rec ballot.SheetRecord) error {
	sheet := db.Sheet{
		ID:             rec.ID,
		BatchID:        r.BatchID,
		Accepted:       rec.Accepted,
		Reason:         rec.Reason,
		FrontImagePath: rec.Images.Front,
		BackImagePath:  rec.Images.Back,
	}
	if rec.Pages != nil {
		data, err := json.Marshal(rec.Pages)
		if err != nil {
			return fmt.Errorf("failed to encode interpretation of sheet %s: %w", rec.ID, err)
		}
		sheet.Interpretation = data
	}

	// The sheet row is stored even when no record can be built, so a counted
	// sheet is never missing from the workspace.
	var (
		cvrJSON  []byte
		buildErr error
	)
	if rec.Accepted && rec.Pages != nil && !blankSheet(*rec.Pages) {
		cvrJSON, buildErr = r.encode(rec)
		if buildErr != nil {
			sheet.CVRError = buildErr.Error()
		}
	}

	if err := r.Store.AddSheet(ctx, sheet, cvrJSON); err != nil {
		return err
	}
	monitoring.Logf("recorded sheet %s accepted=%v reason=%q", rec.ID, rec.Accepted, rec.Reason)
	if buildErr != nil {
		return fmt.Errorf("sheet %s was stored without a cast vote record: %w", rec.ID, buildErr)
	}
	return nil
}

func (r *Recorder) encode(rec ballot.SheetRecord) ([]byte, error) {
	cvr, err := r.build(rec)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(cvr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cast vote record: %w", err)
	}
	return data, nil
}

// blankSheet reports whether neither page carries votes, as with blank paper
// accepted after review.
func blankSheet(pages ballot.SheetOf[ballot.PageInterpretationWithFiles]) bool {
	return ballot.IsBlankOrUnreadable(pages.Front.Interpretation) &&
		ballot.IsBlankOrUnreadable(pages.Back.Interpretation)
}

func (r *Recorder) build(rec ballot.SheetRecord) (*CastVoteRecord, error) {
	var e *election.Election
	if r.Election != nil {
		e = r.Election.Election
	}
	cvr, err := Build(BuildInput{
		Election:   e,
		BallotID:   rec.ID,
		BatchID:    r.BatchID,
		BatchLabel: r.BatchLabel,
		ScannerID:  r.ScannerID,
		Sheet:      *rec.Pages,
	})
	if err != nil {
		return nil, err
	}
	if r.InlineImages {
		images, err := LoadImages(imagePaths(*rec.Pages, rec.Images))
		if err != nil {
			return nil, err
		}
		if err := AddBallotImages(cvr, images, r.ImageWidth); err != nil {
			return nil, err
		}
	}
	return cvr, nil
}

// imagePaths prefers the normalized image of each page, falling back to the
// original scan.
func imagePaths(pages ballot.SheetOf[ballot.PageInterpretationWithFiles], scanned ballot.SheetOf[string]) ballot.SheetOf[string] {
	pick := func(p ballot.PageInterpretationWithFiles, fallback string) string {
		switch {
		case p.NormalizedFilename != "":
			return p.NormalizedFilename
		case p.OriginalFilename != "":
			return p.OriginalFilename
		}
		return fallback
	}
	return ballot.NewSheet(pick(pages.Front, scanned.Front), pick(pages.Back, scanned.Back))
}

// WriteJSONL writes each record on its own line.
func WriteJSONL(w io.Writer, records []json.RawMessage) error {
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}
