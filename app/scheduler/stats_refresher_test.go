package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) RefreshCategoryStats(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestStatsRefresherRunsImmediatelyAndOnTick(t *testing.T) {
	flow := &countingRefresher{}
	stop := NewStatsRefresher(flow, 10*time.Millisecond, zaptest.NewLogger(t)).Start(context.Background())

	assert.Eventually(t, func() bool { return flow.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	stop()
	after := flow.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, flow.calls.Load(), "no refresh after stop")
}

func TestStatsRefresherKeepsRunningOnError(t *testing.T) {
	flow := &countingRefresher{err: errors.New("redis down")}
	stop := NewStatsRefresher(flow, 10*time.Millisecond, zaptest.NewLogger(t)).Start(context.Background())
	defer stop()

	assert.Eventually(t, func() bool { return flow.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestStatsRefresherStopsWithParent(t *testing.T) {
	flow := &countingRefresher{}
	ctx, cancel := context.WithCancel(context.Background())
	stop := NewStatsRefresher(flow, time.Hour, nil).Start(ctx)

	assert.Eventually(t, func() bool { return flow.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	stop()
	assert.Equal(t, int32(1), flow.calls.Load())
}

func TestNewStatsRefresherDefaults(t *testing.T) {
	r := NewStatsRefresher(&countingRefresher{}, 0, nil)
	assert.Equal(t, 5*time.Minute, r.interval)
	assert.Equal(t, time.Minute, r.timeout)
}
