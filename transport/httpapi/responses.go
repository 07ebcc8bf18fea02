package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-payhooks/core"
)

type errorBody struct {
	Category  string         `json:"category"`
	Code      int            `json:"code"`
	TextCode  string         `json:"text_code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// writeError answers with the status carried by the mapped error envelope.
func writeError(c *gin.Context, err error) {
	mapped := core.MapError(err)
	body := errorBody{
		Category: string(mapped.Category),
		Code:     mapped.Code,
		TextCode: mapped.TextCode,
		Message:  mapped.Message,
		Metadata: mapped.Metadata,
	}
	if requestID, ok := core.RequestIDFromContext(c.Request.Context()); ok {
		body.RequestID = requestID
	}
	c.JSON(mapped.Code, gin.H{"error": body})
}

type jobResponse struct {
	ID             string     `json:"id"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	Status         string     `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	FailureKind    string     `json:"failure_kind,omitempty"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	VisibleAfter   time.Time  `json:"visible_after"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	DeadLetteredAt *time.Time `json:"dead_lettered_at,omitempty"`
	ReplayedAt     *time.Time `json:"replayed_at,omitempty"`
}

func toJobResponse(job core.QueuedJob) jobResponse {
	return jobResponse{
		ID:             job.ID,
		EventID:        job.EventID,
		EventType:      job.EventType,
		Status:         string(job.Status),
		AttemptCount:   job.AttemptCount,
		Attempts:       job.Attempts(),
		LastError:      job.LastError,
		FailureKind:    string(job.FailureKind),
		EnqueuedAt:     job.EnqueuedAt,
		VisibleAfter:   job.VisibleAfter,
		ProcessedAt:    job.ProcessedAt,
		DeadLetteredAt: job.DeadLetteredAt,
		ReplayedAt:     job.ReplayedAt,
	}
}

func toJobResponses(jobs []core.QueuedJob) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobResponse(job))
	}
	return out
}
