package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flood_etl/internal/domain"
)

type countingSyncer struct {
	mu        sync.Mutex
	calls     int
	deadlines []time.Time
	err       error
	ran       chan struct{}
}

func newCountingSyncer() *countingSyncer {
	return &countingSyncer{ran: make(chan struct{}, 10)}
}

func (c *countingSyncer) Sync(ctx context.Context) (*domain.RunStats, error) {
	c.mu.Lock()
	c.calls++
	if d, ok := ctx.Deadline(); ok {
		c.deadlines = append(c.deadlines, d)
	}
	c.mu.Unlock()
	c.ran <- struct{}{}
	return &domain.RunStats{}, c.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartRunsImmediatelyWithTimeout(t *testing.T) {
	syncer := newCountingSyncer()
	s := NewScheduler(syncer, "@every 1h", time.Minute, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- s.Start(ctx) }()

	select {
	case <-syncer.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("initial sync did not run")
	}
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	assert.Equal(t, 1, syncer.calls)
	require.Len(t, syncer.deadlines, 1)
	assert.WithinDuration(t, start.Add(time.Minute), syncer.deadlines[0], 5*time.Second)
}

func TestStartSurvivesSyncErrors(t *testing.T) {
	syncer := newCountingSyncer()
	syncer.err = errors.New("upstream down")
	s := NewScheduler(syncer, "@every 1s", time.Minute, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-syncer.ran:
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d did not happen", i+1)
		}
	}
	cancel()
	<-done
}

func TestStartRejectsBadSchedule(t *testing.T) {
	syncer := newCountingSyncer()
	s := NewScheduler(syncer, "every now and then", time.Minute, discardLogger())

	err := s.Start(context.Background())

	require.Error(t, err)
	assert.Zero(t, syncer.calls)
}
