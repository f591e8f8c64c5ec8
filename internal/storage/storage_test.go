package storage

import (
	"path/filepath"
	"testing"
)

func TestRunHistoryRoundTrip(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	if err := s.RecordRunQueued(RunRecord{ID: "rf-1", RunType: "reformat", Status: "queued", InputPath: "raw.fits", OutputPath: "r1.fits", Camera: "r1"}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.RecordRunQueued(RunRecord{ID: "ll-1", RunType: "linelist", Status: "queued", OutputPath: "lines.txt"}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.RecordRunStart("rf-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RecordRunResult("rf-1", "completed", map[string]any{"camera": "R1", "flipped": true}, ""); err != nil {
		t.Fatalf("result: %v", err)
	}
	if err := s.RecordRunResult("ll-1", "failed", nil, "no catalogs"); err != nil {
		t.Fatalf("result: %v", err)
	}

	runs, err := s.RecentRuns(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	byID := map[string]RunRecord{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	rf := byID["rf-1"]
	if rf.Status != "completed" || rf.Camera != "r1" || rf.StartedAt == nil || rf.CompletedAt == nil {
		t.Fatalf("unexpected reformat record %+v", rf)
	}
	if byID["ll-1"].Error != "no catalogs" || byID["ll-1"].StartedAt != nil {
		t.Fatalf("unexpected linelist record %+v", byID["ll-1"])
	}

	meta, err := s.RunMeta("rf-1")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta["camera"] != "R1" || meta["flipped"] != true {
		t.Fatalf("unexpected meta %v", meta)
	}

	counts, err := s.CountByStatus()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[[2]string{"reformat", "completed"}] != 1 || counts[[2]string{"linelist", "failed"}] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordRunQueued(RunRecord{ID: "x"}); err != nil {
		t.Fatalf("nil store should ignore writes: %v", err)
	}
	if err := s.RecordRunResult("x", "completed", nil, ""); err != nil {
		t.Fatalf("nil store should ignore writes: %v", err)
	}
	if _, err := s.RecentRuns(1); err == nil {
		t.Fatalf("expected error reading from nil store")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
