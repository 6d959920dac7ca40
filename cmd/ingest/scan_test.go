package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/WessleyAI/wessley-garage/engine/ingest"
	"github.com/WessleyAI/wessley-garage/pkg/metrics"
	"github.com/google/go-cmp/cmp"
)

type stubIndexer struct {
	uploads []ingest.Upload
	fail    map[string]bool
}

func (s *stubIndexer) Ingest(_ context.Context, up ingest.Upload) (ingest.Result, error) {
	s.uploads = append(s.uploads, up)
	if s.fail[up.Title] {
		return ingest.Result{}, errors.New("qdrant down")
	}
	return ingest.Result{DocID: ingest.DocID(up), Chunks: 1}, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestUploadFromFile(t *testing.T) {
	tests := []struct {
		name, file, content string
		want                ingest.Upload
	}{
		{
			name: "title names make and year",
			file: "2015_honda-civic_service.md",
			want: ingest.Upload{Title: "2015 honda civic service", Make: "Honda", Year: 2015, System: true},
		},
		{
			name:    "falls back to the text",
			file:    "brake-bleeding.txt",
			content: "Applies to '08 Subaru Outback models.",
			want:    ingest.Upload{Title: "brake bleeding", Content: "Applies to '08 Subaru Outback models.", Make: "Subaru", Year: 2008, System: true},
		},
		{
			name:    "untagged",
			file:    "torque specs.txt",
			content: "general guidance",
			want:    ingest.Upload{Title: "torque specs", Content: "general guidance", System: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := uploadFromFile(tt.file, tt.content)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("upload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScanIndexesNewManualsOnce(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, ".ingest-state.json")
	writeFile(t, dir, "civic.md", "Honda Civic brake service.")
	writeFile(t, dir, "notes.pdf", "binary")
	writeFile(t, dir, ".hidden.txt", "skip me")
	if err := os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	idx := &stubIndexer{}
	reg := metrics.New()
	s := newScanner(dir, state, idx, reg, quietLogger())

	indexed, failed := s.scan(context.Background())
	if indexed != 1 || failed != 0 {
		t.Fatalf("first scan: indexed=%d failed=%d", indexed, failed)
	}
	if len(idx.uploads) != 1 || idx.uploads[0].Title != "civic" || !idx.uploads[0].System {
		t.Fatalf("unexpected uploads %+v", idx.uploads)
	}

	if indexed, _ := s.scan(context.Background()); indexed != 0 {
		t.Fatalf("unchanged file re-indexed")
	}

	// A restarted worker reads the saved state.
	again := newScanner(dir, state, idx, metrics.New(), quietLogger())
	if indexed, _ := again.scan(context.Background()); indexed != 0 {
		t.Fatalf("state not persisted")
	}
	if reg.Counter("garage_ingest_files_indexed_total", "").Value() != 1 {
		t.Fatal("indexed counter not incremented")
	}
}

func TestScanRetriesFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wiring.txt", "Ford F-150 wiring.")
	idx := &stubIndexer{fail: map[string]bool{"wiring": true}}
	reg := metrics.New()
	s := newScanner(dir, "", idx, reg, quietLogger())

	if _, failed := s.scan(context.Background()); failed != 1 {
		t.Fatalf("expected a failure")
	}
	idx.fail = nil
	if indexed, _ := s.scan(context.Background()); indexed != 1 {
		t.Fatalf("failed file should be retried")
	}
	if reg.Counter("garage_ingest_files_failed_total", "").Value() != 1 {
		t.Fatal("failed counter not incremented")
	}
}

func TestLoadStateCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeFile(t, filepath.Dir(path), "state.json", "{not json")
	if got := loadState(path, quietLogger()); len(got) != 0 {
		t.Fatalf("expected empty state, got %v", got)
	}
	if got := loadState(filepath.Join(t.TempDir(), "missing.json"), quietLogger()); len(got) != 0 {
		t.Fatalf("expected empty state, got %v", got)
	}
}
