package qa

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ghchrono/internal/ports"
)

type memoryGapStore struct {
	gaps    []ports.Gap
	reports []ports.QAReport
}

func (m *memoryGapStore) RecordGap(_ context.Context, gap ports.Gap) error {
	m.gaps = append(m.gaps, gap)
	return nil
}

func (m *memoryGapStore) CountGapsByResource(_ context.Context, runID string) (map[string]int, error) {
	counts := map[string]int{}
	for _, g := range m.gaps {
		if g.RunID == runID {
			counts[g.Resource]++
		}
	}
	return counts, nil
}

func (m *memoryGapStore) SaveQAReport(_ context.Context, report ports.QAReport) error {
	m.reports = append(m.reports, report)
	return nil
}

func (m *memoryGapStore) LatestQAReport(_ context.Context) (ports.QAReport, error) {
	if len(m.reports) == 0 {
		return ports.QAReport{}, ports.ErrNotFound
	}
	return m.reports[len(m.reports)-1], nil
}

func TestWriteAggregatesGapsOfRun(t *testing.T) {
	store := &memoryGapStore{}
	ctx := context.Background()
	for _, g := range []ports.Gap{
		{RunID: "run-1", Resource: "issues"},
		{RunID: "run-1", Resource: "issues"},
		{RunID: "run-1", Resource: "pulls"},
		{RunID: "run-0", Resource: "commits"},
	} {
		_ = store.RecordGap(ctx, g)
	}

	dir := t.TempDir()
	svc := NewService(store, dir)
	svc.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	report, path, err := svc.Write(ctx, WriteInput{RunID: "run-1", Mode: "incremental", Repo: "octo/hello"})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if report.TotalGaps != 3 {
		t.Fatalf("TotalGaps = %d, want 3", report.TotalGaps)
	}
	if report.GapCounts["issues"] != 2 || report.GapCounts["pulls"] != 1 {
		t.Fatalf("GapCounts = %v", report.GapCounts)
	}
	if want := filepath.Join(dir, "octo_hello", "run-1.json"); path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded["total_gaps"] != float64(3) {
		t.Fatalf("total_gaps = %v", decoded["total_gaps"])
	}
	if _, ok := decoded["gap_counts"].(map[string]any); !ok {
		t.Fatalf("gap_counts missing: %v", decoded)
	}

	latest, err := svc.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.RunID != "run-1" {
		t.Fatalf("Latest().RunID = %q", latest.RunID)
	}
}

func TestWriteWithoutGapsOrDirectory(t *testing.T) {
	svc := NewService(&memoryGapStore{}, "")
	report, path, err := svc.Write(context.Background(), WriteInput{RunID: "run-2", Mode: "backfill"})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if report.TotalGaps != 0 || len(report.GapCounts) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if path != "" {
		t.Fatalf("path = %q, want empty", path)
	}
}

func TestWriteRequiresRunID(t *testing.T) {
	svc := NewService(&memoryGapStore{}, "")
	if _, _, err := svc.Write(context.Background(), WriteInput{}); err == nil {
		t.Fatalf("Write() expected error without run id")
	}
}
