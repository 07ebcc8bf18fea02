package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

type PoolOptions struct {
	Workers      int
	PollInterval time.Duration
	// DrainTimeout bounds how long in-flight jobs may keep running after
	// shutdown begins; unfinished claims are returned to pending.
	DrainTimeout time.Duration
}

// Pool runs independent worker loops over one processor. Each worker handles
// one job at a time to completion before claiming the next.
type Pool struct {
	processor *Processor
	opts      PoolOptions
	instr     core.Instrumentation
}

func NewPool(processor *Processor, opts PoolOptions) (*Pool, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor: pool requires a processor")
	}
	defaults := core.DefaultConfig().Queue
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaults.DrainTimeout
	}
	return &Pool{
		processor: processor,
		opts:      opts,
		instr:     processor.instr,
	}, nil
}

func PoolOptionsFromConfig(cfg core.Config) PoolOptions {
	return PoolOptions{
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval,
		DrainTimeout: cfg.Queue.DrainTimeout,
	}
}

// Run blocks until ctx is cancelled and every worker has drained.
func (p *Pool) Run(ctx context.Context) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	drained := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-drained:
			return
		}
		timer := time.NewTimer(p.opts.DrainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			p.instr.Warn(ctx, "worker drain timeout reached, cancelling in-flight jobs", map[string]any{
				"drain_timeout_ms": p.opts.DrainTimeout.Milliseconds(),
			})
			cancelWork()
		case <-drained:
		}
	}()

	p.instr.Info(ctx, "webhook worker pool started", map[string]any{
		"workers": p.opts.Workers,
		"owner":   p.processor.Owner(),
	})

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.loop(ctx, workCtx, worker)
		}(i)
	}
	wg.Wait()
	close(drained)

	p.instr.Info(context.WithoutCancel(ctx), "webhook worker pool stopped", map[string]any{
		"owner": p.processor.Owner(),
	})
	return nil
}

func (p *Pool) loop(ctx context.Context, workCtx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		result, ok, err := p.processor.ProcessNext(workCtx)
		if err != nil {
			p.instr.Error(workCtx, "webhook worker dequeue failed", map[string]any{
				"worker": worker,
				"error":  err.Error(),
			})
		}
		if ok && result.Status != StatusError {
			continue
		}
		if !p.wait(ctx) {
			return
		}
	}
}

func (p *Pool) wait(ctx context.Context) bool {
	timer := time.NewTimer(p.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Drain processes visible jobs until the queue reports nothing visible or
// limit jobs were handled. It is meant for one-shot CLI runs and tests.
func (p *Processor) Drain(ctx context.Context, limit int) ([]Result, error) {
	results := []Result{}
	for limit <= 0 || len(results) < limit {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, ok, err := p.ProcessNext(ctx)
		if err != nil {
			return results, err
		}
		if !ok {
			return results, nil
		}
		results = append(results, result)
	}
	return results, nil
}
