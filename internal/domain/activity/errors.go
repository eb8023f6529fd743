package activity

import "errors"

var (
	ErrRepoRefRequired    = errors.New("repository ref is required")
	ErrInvalidRepoRef     = errors.New("invalid repository ref")
	ErrInvalidTimeline    = errors.New("invalid timeline event")
	ErrUnsupportedWebhook = errors.New("unsupported webhook payload")
)
