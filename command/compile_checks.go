package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ReplayDeadLetterMessage]  = (*ReplayDeadLetterCommand)(nil)
	_ gocmd.Commander[ReplayDeadLettersMessage] = (*ReplayDeadLettersCommand)(nil)
	_ gocmd.Commander[SweepMessage]             = (*SweepCommand)(nil)
)
