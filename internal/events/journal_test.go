package events

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJournal_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	j, err := NewJournal(path, "run-1", 0)
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}

	evs := []Event{
		{Type: ProjectStarted, ProjectID: "demo", Message: "run started"},
		{Type: PhaseStarted, ProjectID: "demo", PhaseID: "design"},
		{Type: PhaseCompleted, ProjectID: "demo", PhaseID: "design", Details: map[string]any{"duration_seconds": 1.5}},
	}
	for _, ev := range evs {
		if err := j.Append(ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Event != ProjectStarted {
		t.Errorf("entry 0 event: got %s", entries[0].Event)
	}
	if entries[1].PhaseID != "design" {
		t.Errorf("entry 1 phase_id: got %q", entries[1].PhaseID)
	}
	for i, e := range entries {
		if e.RunID != "run-1" {
			t.Errorf("entry %d run_id: got %q", i, e.RunID)
		}
		if e.Timestamp.IsZero() {
			t.Errorf("entry %d has zero timestamp", i)
		}
	}
}

func TestJournal_RotatesAtMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	j, err := NewJournal(path, "run-1", 256)
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}
	defer j.Close()

	for i := 0; i < 20; i++ {
		ev := Event{
			Type:      PhaseStarted,
			Timestamp: time.Now().UTC(),
			ProjectID: "demo",
			PhaseID:   "design",
			Message:   "padding padding padding padding",
		}
		if err := j.Append(ev); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	archives, err := os.ReadDir(filepath.Join(dir, archiveDirName))
	if err != nil {
		t.Fatalf("expected archive directory: %v", err)
	}
	if len(archives) == 0 {
		t.Fatal("expected at least one rotated journal")
	}

	// The live journal must still be readable after rotation.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("live journal missing after rotation: %v", err)
	}
}

func TestReadEntries_SkipsTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	content := `{"timestamp":"2026-03-01T10:00:00Z","event":"project_started","project_id":"demo"}
{"timestamp":"2026-03-01T10:00:01Z","event":"phase_started","phase_id":"design"}
{"timestamp":"2026-03-01T10:00:02Z","event":"phase_comp`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 intact entries, got %d", len(entries))
	}
}
