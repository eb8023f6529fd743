package interval

import "ghchrono/internal/domain/activity"

// Family is one tracked attribute with its own interval table.
type Family string

const (
	IssueState      Family = "issue_state"
	IssueContent    Family = "issue_content"
	IssueLabel      Family = "issue_label"
	IssueAssignee   Family = "issue_assignee"
	IssueMilestone  Family = "issue_milestone"
	PRDraft         Family = "pr_draft"
	PRHead          Family = "pr_head"
	PRReviewRequest Family = "pr_review_request"
	CommentContent  Family = "comment_content"
	ReviewContent   Family = "review_content"
)

var families = []Family{
	IssueState,
	IssueContent,
	IssueLabel,
	IssueAssignee,
	IssueMilestone,
	PRDraft,
	PRHead,
	PRReviewRequest,
	CommentContent,
	ReviewContent,
}

func Families() []Family {
	out := make([]Family, len(families))
	copy(out, families)
	return out
}

func (f Family) Valid() bool {
	for _, known := range families {
		if f == known {
			return true
		}
	}
	return false
}

// SetValued reports whether several values may be open at once for one subject.
func (f Family) SetValued() bool {
	switch f {
	case IssueLabel, IssueAssignee, PRReviewRequest:
		return true
	}
	return false
}

// SubjectTypes lists the subject types whose events feed the family.
func (f Family) SubjectTypes() []string {
	switch f {
	case IssueState, IssueContent, IssueLabel, IssueAssignee, IssueMilestone:
		return []string{activity.SubjectIssue, activity.SubjectPullRequest}
	case PRDraft, PRHead, PRReviewRequest:
		return []string{activity.SubjectPullRequest}
	case CommentContent:
		return []string{activity.SubjectComment, activity.SubjectReviewComment}
	case ReviewContent:
		return []string{activity.SubjectReview}
	}
	return nil
}

func order(f Family) int {
	for i, known := range families {
		if f == known {
			return i
		}
	}
	return len(families)
}
