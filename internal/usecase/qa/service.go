package qa

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/errs"
	"ghchrono/internal/ports"
)

// Service aggregates ingestion gaps recorded during one run into a report.
type Service struct {
	store ports.GapStore
	dir   string
	now   func() time.Time
}

// NewService writes report files under dir; an empty dir keeps reports in
// the database only.
func NewService(store ports.GapStore, dir string) *Service {
	return &Service{store: store, dir: dir, now: func() time.Time { return time.Now().UTC() }}
}

type WriteInput struct {
	RunID string
	Mode  string
	Repo  string
}

// Write builds the report for one run, stores it and, when a directory is
// configured, writes it as {dir}/{owner}__{name}/{run_id}.json.
func (s *Service) Write(ctx context.Context, in WriteInput) (ports.QAReport, string, error) {
	if ctx == nil {
		return ports.QAReport{}, "", errors.New("context is required")
	}
	if in.RunID == "" {
		return ports.QAReport{}, "", errors.New("run id is required")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.qa"), slog.String("run_id", in.RunID))

	counts, err := s.store.CountGapsByResource(ctx, in.RunID)
	if err != nil {
		return ports.QAReport{}, "", errs.Wrap(err, "count gaps")
	}
	report := ports.QAReport{
		RunID:     in.RunID,
		Mode:      in.Mode,
		Repo:      in.Repo,
		GapCounts: counts,
		CreatedAt: s.now(),
	}
	for _, n := range counts {
		report.TotalGaps += n
	}

	if err := s.store.SaveQAReport(ctx, report); err != nil {
		return ports.QAReport{}, "", errs.Wrap(err, "save qa report")
	}

	path := ""
	if s.dir != "" {
		path, err = s.writeFile(report)
		if err != nil {
			return ports.QAReport{}, "", err
		}
	}

	if report.TotalGaps > 0 {
		logging.Warn(logCtx, "ingestion gaps recorded", slog.Int("total_gaps", report.TotalGaps), slog.Any("gap_counts", counts))
	} else {
		logging.Info(logCtx, "qa report written", slog.String("path", path))
	}
	return report, path, nil
}

func (s *Service) Latest(ctx context.Context) (ports.QAReport, error) {
	return s.store.LatestQAReport(ctx)
}

func (s *Service) writeFile(report ports.QAReport) (string, error) {
	dir := filepath.Join(s.dir, repoDirName(report.Repo))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrapf(err, "create qa directory %s", dir)
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", errs.Wrap(err, "marshal qa report")
	}
	path := filepath.Join(dir, report.RunID+".json")
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return "", errs.Wrapf(err, "write qa report %s", path)
	}
	return path, nil
}

func repoDirName(fullName string) string {
	if fullName == "" {
		return "_"
	}
	out := []rune(fullName)
	for i, r := range out {
		if r == '/' {
			out[i] = '_'
		}
	}
	return string(out)
}
