package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-payhooks/command"
	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/query"
	"github.com/goliatone/go-payhooks/webhooks"
)

type webhookHandler struct {
	ingress Ingress
}

// Receive reads at most one byte past the limit so oversized bodies are
// rejected by the receiver without buffering them whole.
func (h *webhookHandler) Receive(c *gin.Context) {
	limit := h.ingress.MaxBodyBytes()
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		writeError(c, goerrors.Wrap(err, goerrors.CategoryBadInput, "httpapi: read request body").
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorBadInput))
		return
	}
	headers := make(map[string]string, len(c.Request.Header))
	for key := range c.Request.Header {
		headers[key] = c.Request.Header.Get(key)
	}
	receipt, err := h.ingress.Receive(c.Request.Context(), webhooks.Request{
		Provider: c.Param("provider"),
		Headers:  headers,
		Body:     body,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(receipt.StatusCode, gin.H{
		"received":   true,
		"event_id":   receipt.EventID,
		"event_type": receipt.EventType,
		"job_id":     receipt.JobID,
	})
}

type healthHandler struct {
	check HealthCheck
}

func (h *healthHandler) Check(c *gin.Context) {
	if h.check != nil {
		if err := h.check(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type adminHandler struct {
	getJob      *query.GetJobQuery
	listDead    *query.ListDeadLettersQuery
	depth       *query.DeadLetterDepthQuery
	replay      *command.ReplayDeadLetterCommand
	replayBatch *command.ReplayDeadLettersCommand
	sweep       *command.SweepCommand
}

func (h *adminHandler) ListDeadLetters(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	jobs, err := h.listDead.Query(c.Request.Context(), query.ListDeadLettersMessage{Filter: filter})
	if err != nil {
		writeError(c, err)
		return
	}
	depth, err := h.depth.Query(c.Request.Context(), query.DeadLetterDepthMessage{})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dead_letters": toJobResponses(jobs),
		"depth":        depth,
	})
}

func (h *adminHandler) GetJob(c *gin.Context) {
	job, err := h.getJob.Query(c.Request.Context(), query.GetJobMessage{JobID: c.Param("id")})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

func (h *adminHandler) ReplayDeadLetter(c *gin.Context) {
	collector := gocmd.NewResult[core.QueuedJob]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	if err := h.replay.Execute(ctx, command.ReplayDeadLetterMessage{JobID: c.Param("id")}); err != nil {
		writeError(c, err)
		return
	}
	job, _ := collector.Load()
	c.JSON(http.StatusOK, toJobResponse(job))
}

func (h *adminHandler) ReplayDeadLetters(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	collector := gocmd.NewResult[command.ReplayBatchResult]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	if err := h.replayBatch.Execute(ctx, command.ReplayDeadLettersMessage{Filter: filter}); err != nil {
		writeError(c, err)
		return
	}
	result, _ := collector.Load()
	skipped := result.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"replayed": toJobResponses(result.Replayed),
		"skipped":  skipped,
	})
}

func (h *adminHandler) Sweep(c *gin.Context) {
	if h.sweep == nil {
		writeError(c, goerrors.New("httpapi: retention sweeper is not configured", goerrors.CategoryNotFound).
			WithCode(http.StatusNotFound).
			WithTextCode(core.ErrorNotFound))
		return
	}
	collector := gocmd.NewResult[core.SweepResult]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	if err := h.sweep.Execute(ctx, command.SweepMessage{}); err != nil {
		writeError(c, err)
		return
	}
	result, _ := collector.Load()
	c.JSON(http.StatusOK, gin.H{
		"processed_events": result.ProcessedEvents,
		"processed_jobs":   result.ProcessedJobs,
		"dead_letters":     result.DeadLetters,
		"expired_locks":    result.ExpiredLocks,
		"archived":         result.Archived,
	})
}

func filterFromQuery(c *gin.Context) (core.DeadLetterFilter, error) {
	filter := core.DeadLetterFilter{EventType: strings.TrimSpace(c.Query("event_type"))}
	for name, target := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return core.DeadLetterFilter{}, badQueryParam(name, err)
		}
		*target = value
	}
	for name, target := range map[string]**time.Time{"since": &filter.Since, "before": &filter.Before} {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			continue
		}
		value, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return core.DeadLetterFilter{}, badQueryParam(name, err)
		}
		value = value.UTC()
		*target = &value
	}
	return filter, nil
}

func badQueryParam(name string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "httpapi: invalid query parameter "+name).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}
