package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRegister(t *testing.T) {
	s := NewScheduler(nil, time.Second)

	require.NoError(t, s.Register("seat-reconcile", "0 2 * * *", func(ctx context.Context) error { return nil }))
	require.NoError(t, s.Register("disabled", "", func(ctx context.Context) error { return nil }))
	assert.Equal(t, 1, s.Len())

	assert.Error(t, s.Register("broken", "not a cron spec", func(ctx context.Context) error { return nil }))
}

func TestSchedulerRunsTask(t *testing.T) {
	s := NewScheduler(nil, time.Second)
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Register("relay", "@every 1s", func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled task did not run")
	}
}

type fakeLocker struct {
	held     map[string]bool
	err      error
	released []string
}

func (l *fakeLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	if l.err != nil {
		return func() {}, false, l.err
	}
	if l.held[name] {
		return func() {}, false, nil
	}
	l.held[name] = true
	return func() {
		delete(l.held, name)
		l.released = append(l.released, name)
	}, true, nil
}

func TestSchedulerRunHonoursLocker(t *testing.T) {
	s := NewScheduler(nil, time.Second)
	locker := &fakeLocker{held: map[string]bool{"job:reminders": true}}
	s.UseLocker(locker)
	runs := 0
	task := func(ctx context.Context) error {
		runs++
		return nil
	}

	s.run("reminders", task)
	assert.Equal(t, 0, runs)

	s.run("reconcile", task)
	assert.Equal(t, 1, runs)
	assert.Equal(t, []string{"job:reconcile"}, locker.released)
	assert.NotContains(t, locker.held, "job:reconcile")

	locker.err = errors.New("redis down")
	s.run("reminders", task)
	assert.Equal(t, 2, runs)
}
