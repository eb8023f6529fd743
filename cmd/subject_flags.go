package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/errs"
)

type subjectFinder interface {
	FindSubjectByNumber(ctx context.Context, number int) (activity.Subject, error)
}

type subjectFlags struct {
	kind   string
	number int
	id     int64
}

func (f *subjectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "subject-type", "", "Subject type (issue, pull_request, comment, review_comment, review, release)")
	cmd.Flags().IntVar(&f.number, "number", 0, "Issue or pull request number")
	cmd.Flags().Int64Var(&f.id, "subject-id", 0, "GitHub id of the subject")
}

func (f subjectFlags) set() bool {
	return f.number > 0 || f.id > 0
}

// resolve prefers an explicit id; a number is looked up in the issue and
// pull request tables.
func (f subjectFlags) resolve(ctx context.Context, finder subjectFinder) (activity.Subject, error) {
	return resolveSubject(ctx, finder, f.kind, f.number, f.id)
}

func resolveSubject(ctx context.Context, finder subjectFinder, kind string, number int, id int64) (activity.Subject, error) {
	kind = strings.TrimSpace(kind)
	if id > 0 {
		if kind == "" {
			return activity.Subject{}, errs.Configf("subject type is required with a subject id")
		}
		return activity.Subject{Type: kind, ID: id}, nil
	}
	if number <= 0 {
		return activity.Subject{}, errs.Configf("a subject number or id is required")
	}
	subject, err := finder.FindSubjectByNumber(ctx, number)
	if err != nil {
		return activity.Subject{}, err
	}
	if kind != "" && kind != subject.Type {
		return activity.Subject{}, errs.Configf("#%d is a %s, not a %s", number, subject.Type, kind)
	}
	return subject, nil
}

// parseInstant accepts RFC 3339 timestamps and bare dates (midnight UTC).
func parseInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q, want RFC 3339 or YYYY-MM-DD", raw)
}

func optionalInstant(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := parseInstant(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
