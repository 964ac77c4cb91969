// Package simulation paces the client at the server's tick rate.
package simulation

import (
	"context"
	"sync/atomic"
	"time"
)

// maxCatchUp bounds how many ticks run back to back after a stall; the rest
// are skipped so a slow host drops ticks instead of spiralling.
const maxCatchUp = 5

// StepFunc runs one client tick.
type StepFunc func(ctx context.Context, tick uint64)

// Loop calls a StepFunc at a fixed rate and records how long each call took.
type Loop struct {
	step    time.Duration
	fn      StepFunc
	monitor *TickMonitor

	ticks   atomic.Uint64
	skipped atomic.Uint64

	ticker *time.Ticker
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop configures a loop at targetHz. A nil monitor disables timing.
func NewLoop(targetHz float64, fn StepFunc, monitor *TickMonitor) *Loop {
	if fn == nil {
		fn = func(context.Context, uint64) {}
	}
	return &Loop{step: StepFor(targetHz), fn: fn, monitor: monitor}
}

// StepFor converts a tick rate into the interval between ticks.
func StepFor(targetHz float64) time.Duration {
	if targetHz <= 0 {
		targetHz = 35
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 35
	}
	return interval
}

// Start runs the loop on its own goroutine until ctx is cancelled or Stop.
func (l *Loop) Start(ctx context.Context) {
	if l == nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.ticker = time.NewTicker(l.step)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		l.run(ctx)
	}()
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	if l == nil {
		return
	}
	l.ticker = time.NewTicker(l.step)
	l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer l.ticker.Stop()
	last := time.Now()
	var accumulator time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-l.ticker.C:
			accumulator += now.Sub(last)
			last = now
			//1.- Run the ticks that are due, dropping the backlog beyond the cap.
			for ran := 0; accumulator >= l.step; ran++ {
				if ran == maxCatchUp {
					l.skipped.Add(uint64(accumulator / l.step))
					accumulator %= l.step
					break
				}
				l.runOne(ctx)
				accumulator -= l.step
			}
		}
	}
}

func (l *Loop) runOne(ctx context.Context) {
	start := time.Now()
	l.fn(ctx, l.ticks.Add(1))
	l.monitor.Observe(time.Since(start))
}

// Stop halts a loop started with Start and waits for its goroutine.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
		l.done = nil
	}
}

// StepDuration exposes the tick interval.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}

// Ticks counts the ticks run so far.
func (l *Loop) Ticks() uint64 {
	if l == nil {
		return 0
	}
	return l.ticks.Load()
}

// Skipped counts ticks dropped because the host fell behind.
func (l *Loop) Skipped() uint64 {
	if l == nil {
		return 0
	}
	return l.skipped.Load()
}
