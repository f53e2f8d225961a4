package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/config"
	"coinbot/internal/game"
	"coinbot/internal/store"
)

type recordingAnnouncer struct {
	mu      sync.Mutex
	reports map[string][]any
}

func (a *recordingAnnouncer) Announce(_ context.Context, job string, report any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reports == nil {
		a.reports = map[string][]any{}
	}
	a.reports[job] = append(a.reports[job], report)
	return nil
}

func (a *recordingAnnouncer) count(job string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reports[job])
}

type jobCounter struct {
	mu   sync.Mutex
	runs map[string]int
}

func (c *jobCounter) JobDone(job string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[job+"/"+game.ErrorKind(err)]++
}

func TestRegisterValidation(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) (any, error) { return nil, nil }

	require.Error(t, s.Register(Job{Name: "", Every: time.Second, Run: noop}))
	require.Error(t, s.Register(Job{Name: "x", Every: 0, Run: noop}))
	require.NoError(t, s.Register(Job{Name: "x", Every: time.Second, Run: noop}))
	require.Error(t, s.Register(Job{Name: "x", Every: time.Second, Run: noop}))
}

func TestRunOnceUpdatesStatusAndAnnounces(t *testing.T) {
	ann := &recordingAnnouncer{}
	obs := &jobCounter{runs: map[string]int{}}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New(nil, WithAnnouncer(ann), WithObserver(obs), WithClock(func() time.Time { return now }))

	fail := true
	require.NoError(t, s.Register(Job{Name: "flaky", Every: time.Hour, Run: func(context.Context) (any, error) {
		if fail {
			return nil, errors.New("store offline")
		}
		return game.InterestReport{Accounts: 1, Paid: 5}, nil
	}}))
	require.NoError(t, s.Register(Job{Name: "quiet", Every: time.Hour, Run: func(context.Context) (any, error) {
		return game.RestockReport{Added: map[string]int64{}}, nil
	}}))

	_, err := s.RunOnce(context.Background(), "flaky")
	require.Error(t, err)
	fail = false
	report, err := s.RunOnce(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, int64(5), report.(game.InterestReport).Paid)

	_, err = s.RunOnce(context.Background(), "quiet")
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownJob)

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "flaky", jobs[0].Name)
	assert.Equal(t, 2, jobs[0].Runs)
	assert.Empty(t, jobs[0].LastErr)
	assert.Equal(t, now.Add(time.Hour), jobs[0].NextRun)

	assert.Equal(t, 1, ann.count("flaky"))
	assert.Equal(t, 0, ann.count("quiet"), "empty reports are not announced")
	assert.Equal(t, 1, obs.runs["flaky/error"])
	assert.Equal(t, 1, obs.runs["flaky/ok"])
}

func TestPanickingJobIsRecorded(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register(Job{Name: "bad", Every: time.Hour, Run: func(context.Context) (any, error) {
		panic("nil map")
	}}))
	_, err := s.RunOnce(context.Background(), "bad")
	require.ErrorContains(t, err, "panicked")
	assert.Contains(t, s.Jobs()[0].LastErr, "nil map")
}

func TestRunTicksJobsIndependently(t *testing.T) {
	s := New(nil)
	var fast, slow atomic.Int32
	require.NoError(t, s.Register(Job{Name: "fast", Every: 5 * time.Millisecond, Run: func(context.Context) (any, error) {
		fast.Add(1)
		return nil, nil
	}}))
	require.NoError(t, s.Register(Job{Name: "blocked", Every: 5 * time.Millisecond, Run: func(ctx context.Context) (any, error) {
		slow.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return fast.Load() >= 3 }, time.Second, time.Millisecond,
		"a blocked job does not hold up the others")
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), slow.Load())
}

func TestEconomyJobsDriveTheEngine(t *testing.T) {
	ctx := context.Background()
	svc, err := game.Open(ctx, game.NewDocumentStore(store.NewMemoryBlob()), nil)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "saver", game.All)
	require.NoError(t, err)

	s := New(nil)
	require.NoError(t, s.RegisterAll(EconomyJobs(svc, config.Intervals{
		Interest: time.Hour, Dividends: 24 * time.Hour, Restock: 5 * time.Minute, Market: 5 * time.Minute,
	})))
	assert.Len(t, s.Jobs(), 4)

	_, err = s.RunOnce(ctx, JobInterest)
	require.NoError(t, err)
	a, err := svc.Balance(ctx, "saver")
	require.NoError(t, err)
	assert.Equal(t, int64(102), a.Bank)

	report, err := s.RunOnce(ctx, JobMarket)
	require.NoError(t, err)
	assert.Len(t, report.(game.MarketReport).Moves, 5)
}
