package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"coinbot/internal/config"
	"coinbot/internal/game"
)

const (
	JobInterest  = "interest"
	JobDividends = "dividends"
	JobRestock   = "restock"
	JobMarket    = "market"
)

var ErrUnknownJob = errors.New("unknown job")

// Job is one periodic task. Run returns a report handed to the announcer
// when it is non-empty.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) (any, error)
}

// Announcer publishes job reports, e.g. to a chat channel.
type Announcer interface {
	Announce(ctx context.Context, job string, report any) error
}

type Observer interface {
	JobDone(job string, err error)
}

type Status struct {
	Name    string        `json:"name"`
	Every   time.Duration `json:"every"`
	Runs    int           `json:"runs"`
	LastRun time.Time     `json:"last_run"`
	LastErr string        `json:"last_err,omitempty"`
	NextRun time.Time     `json:"next_run"`
}

type entry struct {
	job Job

	// run serializes executions of one job; ticks and RunOnce never overlap.
	run sync.Mutex

	mu      sync.Mutex
	runs    int
	lastRun time.Time
	lastErr error
	nextRun time.Time
}

type Scheduler struct {
	log       *slog.Logger
	now       func() time.Time
	announcer Announcer
	observer  Observer
	timeout   time.Duration

	mu   sync.RWMutex
	jobs map[string]*entry
}

type Option func(*Scheduler)

func WithAnnouncer(a Announcer) Option { return func(s *Scheduler) { s.announcer = a } }

func WithObserver(o Observer) Option { return func(s *Scheduler) { s.observer = o } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithTimeout bounds a single job execution. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(s *Scheduler) { s.timeout = d } }

func New(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		log:     logger,
		now:     time.Now,
		timeout: 2 * time.Minute,
		jobs:    map[string]*entry{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run func")
	}
	if job.Every <= 0 {
		return fmt.Errorf("job %s: interval must be > 0", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = &entry{job: job, nextRun: s.now().UTC().Add(job.Every)}
	return nil
}

// Run starts one ticker loop per job and blocks until ctx is done and every
// in-flight execution has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	s.log.Info("scheduler started", "jobs", len(entries))
	wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	ticker := time.NewTicker(e.job.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.execute(ctx, e)
		}
	}
}

// RunOnce executes the named job immediately, outside its schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (any, error) {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, e)
}

func (s *Scheduler) execute(ctx context.Context, e *entry) (report any, err error) {
	e.run.Lock()
	defer e.run.Unlock()

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.now().UTC()
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v", e.job.Name, r)
			}
		}()
		report, err = e.job.Run(runCtx)
	}()
	elapsed := s.now().Sub(start)

	e.mu.Lock()
	e.runs++
	e.lastRun = start
	e.lastErr = err
	e.nextRun = s.now().UTC().Add(e.job.Every)
	e.mu.Unlock()

	if s.observer != nil {
		s.observer.JobDone(e.job.Name, err)
	}
	if err != nil {
		s.log.Error("job failed", "job", e.job.Name, "err", err, "elapsed", elapsed)
		return nil, err
	}
	s.log.Info("job complete", "job", e.job.Name, "elapsed", elapsed)

	if s.announcer != nil && !isEmpty(report) {
		if aerr := s.announcer.Announce(context.WithoutCancel(ctx), e.job.Name, report); aerr != nil {
			s.log.Warn("announce failed", "job", e.job.Name, "err", aerr)
		}
	}
	return report, nil
}

func isEmpty(report any) bool {
	if report == nil {
		return true
	}
	if r, ok := report.(interface{ Empty() bool }); ok {
		return r.Empty()
	}
	return false
}

// Jobs returns the status of every registered job ordered by name.
func (s *Scheduler) Jobs() []Status {
	s.mu.RLock()
	out := make([]Status, 0, len(s.jobs))
	for _, e := range s.jobs {
		e.mu.Lock()
		st := Status{
			Name:    e.job.Name,
			Every:   e.job.Every,
			Runs:    e.runs,
			LastRun: e.lastRun,
			NextRun: e.nextRun,
		}
		if e.lastErr != nil {
			st.LastErr = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Economy is the part of the engine the periodic jobs drive.
type Economy interface {
	AccrueInterest(ctx context.Context) (game.InterestReport, error)
	PayDividends(ctx context.Context) (game.DividendReport, error)
	RestockShop(ctx context.Context) (game.RestockReport, error)
	TickMarket(ctx context.Context) (game.MarketReport, error)
}

// EconomyJobs builds the four economy jobs with the configured periods.
func EconomyJobs(eco Economy, every config.Intervals) []Job {
	return []Job{
		{Name: JobInterest, Every: every.Interest, Run: func(ctx context.Context) (any, error) {
			return eco.AccrueInterest(ctx)
		}},
		{Name: JobDividends, Every: every.Dividends, Run: func(ctx context.Context) (any, error) {
			return eco.PayDividends(ctx)
		}},
		{Name: JobRestock, Every: every.Restock, Run: func(ctx context.Context) (any, error) {
			return eco.RestockShop(ctx)
		}},
		{Name: JobMarket, Every: every.Market, Run: func(ctx context.Context) (any, error) {
			return eco.TickMarket(ctx)
		}},
	}
}

// RegisterAll registers every job, stopping at the first error.
func (s *Scheduler) RegisterAll(jobs []Job) error {
	for _, j := range jobs {
		if err := s.Register(j); err != nil {
			return err
		}
	}
	return nil
}
