package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-payhooks/core"
)

var (
	_ gocmd.Querier[GetJobMessage, core.QueuedJob]            = (*GetJobQuery)(nil)
	_ gocmd.Querier[ListDeadLettersMessage, []core.QueuedJob] = (*ListDeadLettersQuery)(nil)
	_ gocmd.Querier[DeadLetterDepthMessage, int]              = (*DeadLetterDepthQuery)(nil)
)
