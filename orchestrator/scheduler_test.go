package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0

	s := NewScheduler(func(ctx context.Context) (*Result, error) {
		calls++
		close(started)
		<-release
		return &Result{RunID: "r1"}, nil
	}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.True(t, s.Tick(context.Background()))
	}()

	<-started
	assert.False(t, s.Tick(context.Background()), "second tick must not start a run")
	close(release)
	wg.Wait()

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, s.Skipped())
	res, err := s.Last()
	require.NoError(t, err)
	assert.Equal(t, "r1", res.RunID)
}

func TestSchedulerRecordsFailure(t *testing.T) {
	boom := &StageError{Stage: StageEmbedded, Err: errors.New("provider down")}
	s := NewScheduler(func(ctx context.Context) (*Result, error) { return nil, boom }, nil)

	assert.True(t, s.Tick(context.Background()))
	_, err := s.Last()
	assert.ErrorIs(t, err, boom)

	// a failed run does not block the next tick
	assert.True(t, s.Tick(context.Background()))
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(func(ctx context.Context) (*Result, error) { return nil, nil }, nil)
	assert.Error(t, s.Start(context.Background(), "every now and then"))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(func(ctx context.Context) (*Result, error) { return nil, nil }, nil)
	require.NoError(t, s.Start(context.Background(), "*/5 * * * *"))
	s.Stop()
}
