package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-payhooks/command"
	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/query"
	"github.com/goliatone/go-payhooks/webhooks"
)

// Ingress is the receiver surface the webhook route needs.
type Ingress interface {
	Receive(ctx context.Context, req webhooks.Request) (webhooks.Receipt, error)
	MaxBodyBytes() int64
}

// HealthCheck reports whether the service can accept traffic.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Ingress     Ingress
	DeadLetters core.DeadLetterQueue
	Sweeper     command.RetentionRunner
	Metrics     http.Handler
	Health      HealthCheck
	// AdminToken guards the dead-letter routes; they are not mounted without it.
	AdminToken      string
	Mode            string
	Instrumentation *core.Instrumentation
}

type Router struct {
	engine *gin.Engine
	instr  core.Instrumentation
}

func NewRouter(opts Options) (*Router, error) {
	if opts.Ingress == nil {
		return nil, fmt.Errorf("httpapi: ingress is required")
	}
	switch opts.Mode {
	case gin.ReleaseMode, gin.TestMode, gin.DebugMode:
		gin.SetMode(opts.Mode)
	case "":
	default:
		return nil, fmt.Errorf("httpapi: unknown gin mode %q", opts.Mode)
	}

	instr := core.NewInstrumentation("payhooks.http", nil, nil, nil)
	if opts.Instrumentation != nil {
		instr = *opts.Instrumentation
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestIDMiddleware())
	engine.Use(LoggingMiddleware(instr))

	r := &Router{engine: engine, instr: instr}
	webhookHandler := &webhookHandler{ingress: opts.Ingress}
	engine.POST("/webhooks/:provider", webhookHandler.Receive)

	health := &healthHandler{check: opts.Health}
	engine.GET("/healthz", health.Check)

	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	if token := strings.TrimSpace(opts.AdminToken); token != "" && opts.DeadLetters != nil {
		admin := &adminHandler{
			getJob:      query.NewGetJobQuery(opts.DeadLetters),
			listDead:    query.NewListDeadLettersQuery(opts.DeadLetters),
			depth:       query.NewDeadLetterDepthQuery(opts.DeadLetters),
			replay:      command.NewReplayDeadLetterCommand(opts.DeadLetters, command.WithDepthGauge(instr.Metrics())),
			replayBatch: command.NewReplayDeadLettersCommand(opts.DeadLetters, command.WithDepthGauge(instr.Metrics())),
		}
		if opts.Sweeper != nil {
			admin.sweep = command.NewSweepCommand(opts.Sweeper)
		}
		group := engine.Group("/admin", AdminAuthMiddleware(token))
		{
			group.GET("/dead-letters", admin.ListDeadLetters)
			group.POST("/dead-letters/replay", admin.ReplayDeadLetters)
			group.POST("/dead-letters/:id/replay", admin.ReplayDeadLetter)
			group.GET("/jobs/:id", admin.GetJob)
			group.POST("/sweep", admin.Sweep)
		}
	}
	return r, nil
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}
