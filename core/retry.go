package core

import (
	"math"
	"time"
)

type RetryPolicy interface {
	// NextDelay returns the delay before the next attempt, or false once the
	// attempt that just failed was the last one allowed.
	NextDelay(attempt int) (time.Duration, bool)
}

type ExponentialRetryPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() ExponentialRetryPolicy {
	return ExponentialRetryPolicy{
		BaseDelay:   5 * time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Minute,
		MaxAttempts: 5,
	}
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) (time.Duration, bool) {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	next := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if math.IsInf(next, 0) || next < 0 || next > float64(p.MaxDelay) {
		return p.MaxDelay, true
	}
	return time.Duration(next), true
}

func (p ExponentialRetryPolicy) normalized() ExponentialRetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaults.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	return p
}
