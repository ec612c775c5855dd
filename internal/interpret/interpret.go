// Package interpret defines the contract of the ballot interpretation
// pipeline and a fixture interpreter that replays recorded interpretations.
package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
	"github.com/banshee-data/ballot.scanner/internal/security"
)

// Interpreter turns the two images of a scanned sheet into page
// interpretations. Implementations must be safe for concurrent use and must
// honour ctx.
type Interpreter interface {
	Interpret(ctx context.Context, sheetID string, sheet ballot.SheetOf[string]) (ballot.SheetOf[ballot.PageInterpretationWithFiles], error)
}

// Func adapts a function to the Interpreter interface.
type Func func(ctx context.Context, sheetID string, sheet ballot.SheetOf[string]) (ballot.SheetOf[ballot.PageInterpretationWithFiles], error)

func (f Func) Interpret(ctx context.Context, sheetID string, sheet ballot.SheetOf[string]) (ballot.SheetOf[ballot.PageInterpretationWithFiles], error) {
	return f(ctx, sheetID, sheet)
}

// FixtureInterpreter reads a recorded interpretation for each image from a
// JSON sidecar file named after the image: scan-0001.jpg is interpreted by
// scan-0001.json. With Dir set the sidecar is looked up there by base name,
// otherwise next to the image. Sidecars under Dir may not link outside it.
type FixtureInterpreter struct {
	Dir string
}

// SidecarPath returns the sidecar file that holds the interpretation of
// imagePath.
func (f *FixtureInterpreter) SidecarPath(imagePath string) string {
	base := strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".json"
	if f.Dir == "" {
		return base
	}
	return filepath.Join(f.Dir, filepath.Base(base))
}

func (f *FixtureInterpreter) Interpret(ctx context.Context, sheetID string, sheet ballot.SheetOf[string]) (ballot.SheetOf[ballot.PageInterpretationWithFiles], error) {
	front, err := f.page(ctx, sheet.Front)
	if err != nil {
		return ballot.SheetOf[ballot.PageInterpretationWithFiles]{}, fmt.Errorf("sheet %s front: %w", sheetID, err)
	}
	back, err := f.page(ctx, sheet.Back)
	if err != nil {
		return ballot.SheetOf[ballot.PageInterpretationWithFiles]{}, fmt.Errorf("sheet %s back: %w", sheetID, err)
	}
	return ballot.NewSheet(front, back), nil
}

func (f *FixtureInterpreter) page(ctx context.Context, imagePath string) (ballot.PageInterpretationWithFiles, error) {
	if err := ctx.Err(); err != nil {
		return ballot.PageInterpretationWithFiles{}, err
	}
	path := f.SidecarPath(imagePath)
	if f.Dir != "" {
		if err := security.ValidatePathWithinDirectory(path, f.Dir); err != nil {
			return ballot.PageInterpretationWithFiles{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ballot.PageInterpretationWithFiles{}, fmt.Errorf("failed to read interpretation: %w", err)
	}
	var page ballot.PageInterpretationWithFiles
	if err := json.Unmarshal(data, &page); err != nil {
		return ballot.PageInterpretationWithFiles{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if page.OriginalFilename == "" {
		page.OriginalFilename = imagePath
	}
	if page.NormalizedFilename == "" {
		page.NormalizedFilename = imagePath
	}
	return page, nil
}
