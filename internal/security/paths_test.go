package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	fixtures := filepath.Join(tmpDir, "fixtures")
	elsewhere := filepath.Join(tmpDir, "elsewhere")
	for _, d := range []string{fixtures, elsewhere} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(elsewhere, "scan.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.Symlink(elsewhere, filepath.Join(fixtures, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(elsewhere, "scan.json"), filepath.Join(fixtures, "scan.json")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"file in directory", filepath.Join(fixtures, "front.json"), false},
		{"nested file", filepath.Join(fixtures, "day1", "front.json"), false},
		{"dot dot", filepath.Join(fixtures, "..", "front.json"), true},
		{"relative escape", "../../../etc/passwd", true},
		{"absolute elsewhere", "/etc/passwd", true},
		{"through symlinked directory", filepath.Join(fixtures, "link", "scan.json"), true},
		{"new file through symlinked directory", filepath.Join(fixtures, "link", "new.json"), true},
		{"symlinked file", filepath.Join(fixtures, "scan.json"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, fixtures)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinDirectory_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	if err := ValidatePathWithinDirectory(filepath.Join(dir, "front.json"), dir); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
