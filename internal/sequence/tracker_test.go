package sequence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/photokiosk/photokiosk/internal/photo"
)

func TestTracker_AddAndFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shown.txt")
	tr := NewTracker(path, nil)

	tr.Add("a.jpg")
	tr.Add("b.jpg")
	tr.Add("a.jpg") // logical duplicate, set membership is authoritative

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("tracker file missing: %v", err)
	}
	if string(data) != "a.jpg\nb.jpg\n" {
		t.Errorf("unexpected file content %q", string(data))
	}

	items := []photo.Item{{Path: "a.jpg"}, {Path: "b.jpg"}, {Path: "c.jpg"}}
	filtered := tr.Filter(items)
	if len(filtered) != 1 || filtered[0].Path != "c.jpg" {
		t.Errorf("expected [c.jpg], got %v", filtered)
	}
}

func TestTracker_Reset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shown.txt")
	tr := NewTracker(path, nil)

	tr.Add("a.jpg")
	tr.Reset()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("tracker file missing after reset: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("reset did not truncate, content %q", string(data))
	}

	items := []photo.Item{{Path: "a.jpg"}}
	if filtered := tr.Filter(items); len(filtered) != 1 {
		t.Errorf("reset did not clear the set, filtered %v", filtered)
	}
}

func TestTracker_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shown.txt")

	tr := NewTracker(path, nil)
	tr.Add("a.jpg")

	// A fresh tracker loads the file lazily.
	tr2 := NewTracker(path, nil)
	filtered := tr2.Filter([]photo.Item{{Path: "a.jpg"}, {Path: "b.jpg"}})
	if len(filtered) != 1 || filtered[0].Path != "b.jpg" {
		t.Errorf("expected [b.jpg], got %v", filtered)
	}
}

func TestTracker_DuplicateLinesInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shown.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("a.jpg\n", 3)), 0o644); err != nil {
		t.Fatal(err)
	}

	tr := NewTracker(path, nil)
	filtered := tr.Filter([]photo.Item{{Path: "a.jpg"}, {Path: "b.jpg"}})
	if len(filtered) != 1 || filtered[0].Path != "b.jpg" {
		t.Errorf("duplicate lines should collapse, got %v", filtered)
	}
}
