package command

import (
	"strings"

	"github.com/goliatone/go-payhooks/core"
)

const (
	TypeReplayDeadLetter  = "payhooks.command.dead_letter.replay"
	TypeReplayDeadLetters = "payhooks.command.dead_letter.replay_batch"
	TypeSweep             = "payhooks.command.retention.sweep"
)

// MaxReplayBatch bounds one batch replay.
const MaxReplayBatch = 500

type ReplayDeadLetterMessage struct {
	JobID string
}

func (ReplayDeadLetterMessage) Type() string { return TypeReplayDeadLetter }

func (m ReplayDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return commandValidationError("job_id", "job id is required")
	}
	return nil
}

// ReplayDeadLettersMessage replays every dead letter matching the filter.
type ReplayDeadLettersMessage struct {
	Filter core.DeadLetterFilter
}

func (ReplayDeadLettersMessage) Type() string { return TypeReplayDeadLetters }

func (m ReplayDeadLettersMessage) Validate() error {
	if m.Filter.Limit < 0 || m.Filter.Limit > MaxReplayBatch {
		return commandValidationError("limit", "limit must be between 0 and 500")
	}
	if m.Filter.Offset < 0 {
		return commandValidationError("offset", "offset must be >= 0")
	}
	if m.Filter.Since != nil && m.Filter.Before != nil && !m.Filter.Since.Before(*m.Filter.Before) {
		return commandValidationError("since", "since must be before before")
	}
	return nil
}

type SweepMessage struct{}

func (SweepMessage) Type() string { return TypeSweep }

func (SweepMessage) Validate() error { return nil }
