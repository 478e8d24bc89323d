package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryRejectsBadInput(t *testing.T) {
	_, err := Every("zero", 0, func(context.Context) {})
	assert.Error(t, err)

	_, err = Every("nil", time.Second, nil)
	assert.Error(t, err)
}

func TestCronRejectsBadSpec(t *testing.T) {
	_, err := Cron("bad", "every five minutes", time.UTC, func(context.Context) {})
	assert.Error(t, err)

	_, err = Cron("noloc", "*/5 * * * *", nil, func(context.Context) {})
	assert.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	task, err := Every("idle", time.Hour, func(context.Context) {})
	require.NoError(t, err)

	task.Stop()
	task.Stop()

	select {
	case <-task.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	var nilTask *Task
	nilTask.Stop()
}

func TestStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan error, 1)
	var runs int32

	task, err := Every("blocking", time.Second, func(ctx context.Context) {
		if atomic.AddInt32(&runs, 1) > 1 {
			return
		}
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}

	task.Stop()

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("job context not cancelled by Stop")
	}

	count := atomic.LoadInt32(&runs)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, count, atomic.LoadInt32(&runs), "job ran after Stop")
}
