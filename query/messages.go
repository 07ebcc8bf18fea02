package query

import (
	"strings"

	"github.com/goliatone/go-payhooks/core"
)

const (
	TypeGetJob          = "payhooks.query.job.get"
	TypeListDeadLetters = "payhooks.query.dead_letter.list"
	TypeDeadLetterDepth = "payhooks.query.dead_letter.depth"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

type GetJobMessage struct {
	JobID string
}

func (GetJobMessage) Type() string { return TypeGetJob }

func (m GetJobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return queryValidationError("job_id", "job id is required")
	}
	return nil
}

type ListDeadLettersMessage struct {
	Filter core.DeadLetterFilter
}

func (ListDeadLettersMessage) Type() string { return TypeListDeadLetters }

func (m ListDeadLettersMessage) Validate() error {
	if m.Filter.Limit < 0 || m.Filter.Limit > MaxPageSize {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}

type DeadLetterDepthMessage struct{}

func (DeadLetterDepthMessage) Type() string { return TypeDeadLetterDepth }
