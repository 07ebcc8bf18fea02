package command

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-payhooks/core"
)

func TestReplayDeadLetterMessage_ValidateReturnsRichError(t *testing.T) {
	err := (ReplayDeadLetterMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
	}
}

func TestReplayDeadLettersMessage_RejectsInvertedWindow(t *testing.T) {
	since := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	before := since.Add(-time.Hour)
	if err := (ReplayDeadLettersMessage{Filter: core.DeadLetterFilter{Since: &since, Before: &before}}).Validate(); err == nil {
		t.Fatalf("expected inverted window to be rejected")
	}
	if err := (ReplayDeadLettersMessage{Filter: core.DeadLetterFilter{Limit: MaxReplayBatch + 1}}).Validate(); err == nil {
		t.Fatalf("expected oversized batch to be rejected")
	}
}

func TestReplayDeadLetterCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *ReplayDeadLetterCommand
	err := cmd.Execute(context.Background(), ReplayDeadLetterMessage{JobID: "job_1"})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.ErrorInternal, rich.TextCode)
	}
}
