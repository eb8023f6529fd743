package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/domain/activity"
	"ghchrono/internal/errs"
	"ghchrono/internal/ports"
)

// Stage is one resumable step of an ingestion run.
type Stage string

const (
	StageRepo          Stage = "repo"
	StageCommits       Stage = "commits"
	StageRefs          Stage = "refs"
	StageIssues        Stage = "issues"
	StagePulls         Stage = "pulls"
	StageIssueActivity Stage = "issue_activity"
	StagePullActivity  Stage = "pull_activity"
	StageRebuild       Stage = "rebuild"
	StageQA            Stage = "qa"
)

func Stages() []Stage {
	return []Stage{
		StageRepo, StageCommits, StageRefs, StageIssues, StagePulls,
		StageIssueActivity, StagePullActivity, StageRebuild, StageQA,
	}
}

// StageOutput is what a finished stage hands to later stages. Issue and pull
// stages carry the numbers they touched and the watermark still to be saved;
// activity stages carry the subjects whose events they inserted.
type StageOutput struct {
	Numbers   []int              `json:"numbers,omitempty"`
	Subjects  []activity.Subject `json:"subjects,omitempty"`
	Watermark *ports.Watermark   `json:"watermark,omitempty"`
}

// Checkpoints is the set of completed stages of a run with their outputs.
type Checkpoints map[Stage]StageOutput

// ShouldSkip reports whether stage was already completed.
func ShouldSkip(completed Checkpoints, stage Stage) bool {
	_, ok := completed[stage]
	return ok
}

func checkpointPrefix(repo activity.RepoRef, mode Mode) string {
	return "checkpoint:" + repo.FullName() + ":" + string(mode) + ":"
}

func checkpointKey(repo activity.RepoRef, mode Mode, stage Stage) string {
	return checkpointPrefix(repo, mode) + string(stage)
}

func (s *Service) loadCheckpoints(ctx context.Context, mode Mode) (Checkpoints, error) {
	completed := Checkpoints{}
	for _, stage := range Stages() {
		raw, found, err := s.cache.Get(ctx, checkpointKey(s.repo, mode, stage))
		if err != nil {
			return nil, errs.Wrapf(err, "read checkpoint %s", stage)
		}
		if !found {
			continue
		}
		var out StageOutput
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			logging.Warn(ctx, "discard unreadable checkpoint", slog.String("stage", string(stage)), slog.Any("err", errs.Loggable(err)))
			continue
		}
		completed[stage] = out
	}
	return completed, nil
}

func (s *Service) saveCheckpoint(ctx context.Context, mode Mode, stage Stage, out StageOutput) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return errs.Wrapf(err, "marshal checkpoint %s", stage)
	}
	if err := s.cache.Set(ctx, checkpointKey(s.repo, mode, stage), string(raw), 0); err != nil {
		return errs.Wrapf(err, "write checkpoint %s", stage)
	}
	return nil
}

func (s *Service) clearCheckpoints(ctx context.Context, mode Mode) error {
	if _, err := s.cache.DeletePrefix(ctx, checkpointPrefix(s.repo, mode)); err != nil {
		return errs.Wrap(err, "clear checkpoints")
	}
	return nil
}
