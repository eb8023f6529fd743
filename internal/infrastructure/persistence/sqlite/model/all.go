package model

// All lists every table of the per-repository store in migration order.
func All() []any {
	return []any{
		&Repo{},
		&User{},
		&Team{},
		&Label{},
		&Milestone{},
		&Issue{},
		&PullRequest{},
		&PullRequestFile{},
		&Review{},
		&Comment{},
		&Commit{},
		&Ref{},
		&Release{},
		&Event{},
		&Watermark{},
		&IngestionGap{},
		&QAReport{},
		&IngestKV{},
		&IssueStateInterval{},
		&IssueContentInterval{},
		&IssueLabelInterval{},
		&IssueAssigneeInterval{},
		&IssueMilestoneInterval{},
		&PRDraftInterval{},
		&PRHeadInterval{},
		&PRReviewRequestInterval{},
		&CommentContentInterval{},
		&ReviewContentInterval{},
	}
}
