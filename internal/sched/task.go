// Package sched runs recurring jobs behind a handle that can be stopped
// exactly once.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "ownclock/internal/log"
)

// Job is the unit of work run on every tick. ctx is cancelled when the task
// is stopped, which also aborts any fetch still in flight.
type Job func(ctx context.Context)

// Task is a running recurring job.
type Task struct {
	name   string
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Every runs job every interval. cron rounds the interval down to whole
// seconds and never runs more often than once per second.
func Every(name string, interval time.Duration, job Job) (*Task, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sched: %s: interval must be positive, got %s", name, interval)
	}
	return start(name, cron.Every(interval), time.UTC, job)
}

// Cron runs job on a standard 5-field cron spec evaluated in loc.
func Cron(name, spec string, loc *time.Location, job Job) (*Task, error) {
	if loc == nil {
		return nil, errors.New("sched: location is required")
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("sched: %s: parse %q: %w", name, spec, err)
	}
	return start(name, schedule, loc, job)
}

func start(name string, schedule cron.Schedule, loc *time.Location, job Job) (*Task, error) {
	if job == nil {
		return nil, errors.New("sched: job is nil")
	}
	logger := appLog.CronLogger()
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{name: name, c: c, ctx: ctx, cancel: cancel}

	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	}))
	c.Start()

	appLog.Debug("task started", "task", name)
	return t, nil
}

// Stop prevents any further run and cancels the context of a run in
// progress. It does not wait for that run to return. Calling Stop more than
// once, or on a nil Task, is a no-op.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.cancel()
		t.c.Stop()
		appLog.Debug("task stopped", "task", t.name)
	})
}

// Done is closed once the task has been stopped.
func (t *Task) Done() <-chan struct{} {
	return t.ctx.Done()
}
