package query

import (
	"context"

	"github.com/goliatone/go-payhooks/core"
)

type GetJobQuery struct {
	reader core.DeadLetterQueue
}

func NewGetJobQuery(reader core.DeadLetterQueue) *GetJobQuery {
	return &GetJobQuery{reader: reader}
}

func (q *GetJobQuery) Query(ctx context.Context, msg GetJobMessage) (core.QueuedJob, error) {
	if q == nil || q.reader == nil {
		return core.QueuedJob{}, queryDependencyError("query: dead letter queue is required")
	}
	if err := msg.Validate(); err != nil {
		return core.QueuedJob{}, err
	}
	job, err := q.reader.GetJob(ctx, msg.JobID)
	if err != nil {
		return core.QueuedJob{}, core.MapError(err)
	}
	return job, nil
}

type ListDeadLettersQuery struct {
	reader core.DeadLetterQueue
}

func NewListDeadLettersQuery(reader core.DeadLetterQueue) *ListDeadLettersQuery {
	return &ListDeadLettersQuery{reader: reader}
}

// Query pages through dead letters oldest first; a zero limit means DefaultPageSize.
func (q *ListDeadLettersQuery) Query(ctx context.Context, msg ListDeadLettersMessage) ([]core.QueuedJob, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: dead letter queue is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	filter := msg.Filter
	if filter.Limit == 0 {
		filter.Limit = DefaultPageSize
	}
	jobs, err := q.reader.ListDeadLetters(ctx, filter)
	if err != nil {
		return nil, core.MapError(err)
	}
	return jobs, nil
}

type DeadLetterDepthQuery struct {
	reader core.DeadLetterQueue
}

func NewDeadLetterDepthQuery(reader core.DeadLetterQueue) *DeadLetterDepthQuery {
	return &DeadLetterDepthQuery{reader: reader}
}

func (q *DeadLetterDepthQuery) Query(ctx context.Context, _ DeadLetterDepthMessage) (int, error) {
	if q == nil || q.reader == nil {
		return 0, queryDependencyError("query: dead letter queue is required")
	}
	return q.reader.DeadLetterDepth(ctx)
}
