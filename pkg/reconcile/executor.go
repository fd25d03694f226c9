package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Mode selects whether the executor mutates anything
type Mode int

const (
	// ModePlan renders changes without calling the mutating API
	ModePlan Mode = iota
	// ModeExecute applies changes
	ModeExecute
)

func (m Mode) String() string {
	if m == ModeExecute {
		return "execute"
	}
	return "plan"
}

// Status is the outcome of one change
type Status string

const (
	StatusPlanned Status = "planned"
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// ChangeResult is the outcome of one change in a run
type ChangeResult struct {
	Change   Change
	Status   Status
	Attempts int
	Err      error
}

// Reason returns the failure or skip reason, empty for successful changes
func (r ChangeResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ExecutionReport lists every change of a run with its status, in change set order
type ExecutionReport struct {
	RunID      string
	Mode       Mode
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []ChangeResult

	// Cancelled is set when the run stopped before every change was issued
	Cancelled bool
}

func (r *ExecutionReport) filter(status Status) []ChangeResult {
	var out []ChangeResult
	for _, res := range r.Results {
		if res.Status == status {
			out = append(out, res)
		}
	}
	return out
}

// Applied returns the changes that took effect
func (r *ExecutionReport) Applied() []ChangeResult { return r.filter(StatusApplied) }

// Failed returns the changes that failed
func (r *ExecutionReport) Failed() []ChangeResult { return r.filter(StatusFailed) }

// Skipped returns the changes suppressed by cancellation
func (r *ExecutionReport) Skipped() []ChangeResult { return r.filter(StatusSkipped) }

// PartialFailure reports whether at least one change failed
func (r *ExecutionReport) PartialFailure() bool {
	return len(r.Failed()) > 0
}

// Err summarizes failures as a PartialFailureError, nil when nothing failed
func (r *ExecutionReport) Err() error {
	if !r.PartialFailure() {
		return nil
	}
	var succeeded []string
	failed := make(map[string]error)
	for i, res := range r.Results {
		switch res.Status {
		case StatusApplied:
			succeeded = append(succeeded, res.Change.Description)
		case StatusFailed:
			key := res.Change.Description
			if _, dup := failed[key]; dup {
				key = fmt.Sprintf("%s (#%d)", key, i+1)
			}
			failed[key] = res.Err
		}
	}
	return NewPartialFailureError(succeeded, failed)
}

// RetryConfig bounds retries of rate limited and transient failures
type RetryConfig struct {
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxRateLimitWait caps how long a rate limited change waits for the
	// budget to reset before its next attempt
	MaxRateLimitWait time.Duration
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		InitialDelay:     time.Second,
		MaxDelay:         30 * time.Second,
		MaxRateLimitWait: 5 * time.Minute,
	}
}

func (c RetryConfig) backoff() retry.Backoff {
	initial := c.InitialDelay
	if initial <= 0 {
		initial = time.Millisecond
	}
	b := retry.NewExponential(initial)
	if c.MaxDelay > 0 {
		b = retry.WithCappedDuration(c.MaxDelay, b)
	}
	return retry.WithMaxRetries(c.MaxRetries, b)
}

// Executor applies change sets
type Executor interface {
	Apply(ctx context.Context, cs *ChangeSet, mode Mode) *ExecutionReport
}

// ExecutorOption configures an Executor
type ExecutorOption func(*executor)

// WithConcurrency sets how many ordering domains run at the same time
func WithConcurrency(n int) ExecutorOption {
	return func(e *executor) {
		if n < 1 {
			n = 1
		}
		e.concurrency = n
	}
}

// WithRetry sets the retry configuration
func WithRetry(config RetryConfig) ExecutorOption {
	return func(e *executor) {
		e.retry = config
	}
}

// WithRateLimiter throttles mutating calls
func WithRateLimiter(limiter *rate.Limiter) ExecutorOption {
	return func(e *executor) {
		if limiter != nil {
			e.limiter = limiter
		}
	}
}

// WithProgress reports every finished change
func WithProgress(p Progress) ExecutorOption {
	return func(e *executor) {
		if p != nil {
			e.progress = p
		}
	}
}

// WithExecutorLogger sets the logger
func WithExecutorLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *executor) {
		e.log = logger
	}
}

type executor struct {
	writer      StateWriter
	concurrency int
	retry       RetryConfig
	limiter     *rate.Limiter
	progress    Progress
	log         zerolog.Logger
}

// NewExecutor creates an executor that applies changes through writer
func NewExecutor(writer StateWriter, opts ...ExecutorOption) Executor {
	e := &executor{
		writer:      writer,
		concurrency: 1,
		retry:       DefaultRetryConfig(),
		limiter:     rate.NewLimiter(rate.Inf, 0),
		progress:    noopProgress{},
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type queue struct {
	name    string
	indexes []int
}

// queues groups the changes of one stage by ordering domain, keeping the
// order in which domains first appear
func queues(changes []Change, stage Stage) []*queue {
	var out []*queue
	byName := make(map[string]*queue)
	for i, c := range changes {
		if c.Stage != stage {
			continue
		}
		q, ok := byName[c.Queue]
		if !ok {
			q = &queue{name: c.Queue}
			byName[c.Queue] = q
			out = append(out, q)
		}
		q.indexes = append(q.indexes, i)
	}
	return out
}

func (e *executor) Apply(ctx context.Context, cs *ChangeSet, mode Mode) *ExecutionReport {
	report := &ExecutionReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now(),
	}

	var changes []Change
	if cs != nil {
		changes = cs.Executable()
	}
	report.Results = make([]ChangeResult, len(changes))
	for i, c := range changes {
		report.Results[i] = ChangeResult{Change: c, Status: StatusPlanned}
	}

	if mode == ModePlan || len(changes) == 0 {
		report.FinishedAt = time.Now()
		return report
	}

	e.log.Info().Str("run", report.RunID).Int("changes", len(changes)).Msg("executing change set")
	e.progress.Start("applying changes", len(changes))
	defer e.progress.Finish()

	for _, stage := range Stages {
		g := new(errgroup.Group)
		g.SetLimit(e.concurrency)
		for _, q := range queues(changes, stage) {
			g.Go(func() error {
				for _, i := range q.indexes {
					report.Results[i] = e.applyOne(ctx, changes[i])
					e.progress.Step(changes[i].Description)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	report.Cancelled = ctx.Err() != nil
	report.FinishedAt = time.Now()
	e.log.Info().
		Str("run", report.RunID).
		Int("applied", len(report.Applied())).
		Int("failed", len(report.Failed())).
		Int("skipped", len(report.Skipped())).
		Msg("change set executed")
	return report
}

func (e *executor) applyOne(ctx context.Context, c Change) ChangeResult {
	if err := ctx.Err(); err != nil {
		return ChangeResult{Change: c, Status: StatusSkipped, Err: err}
	}

	attempts := 0
	issued := false
	err := retry.Do(ctx, e.retry.backoff(), func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		attempts++
		issued = true

		err := c.Apply(ctx, e.writer)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		e.log.Warn().Err(err).Str("change", c.Description).Int("attempt", attempts).Msg("retryable failure")
		var retryAfter RetryAfterError
		if errors.As(err, &retryAfter) {
			if wait := retryAfter.RetryAfter(); wait > 0 && wait <= e.retry.MaxRateLimitWait {
				if err := sleep(ctx, wait); err != nil {
					return err
				}
			}
		}
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		e.log.Debug().Str("change", c.Description).Int("attempts", attempts).Msg("change applied")
		return ChangeResult{Change: c, Status: StatusApplied, Attempts: attempts}
	case !issued:
		return ChangeResult{Change: c, Status: StatusSkipped, Err: err}
	default:
		e.log.Error().Err(err).Str("change", c.Description).Int("attempts", attempts).Msg("change failed")
		return ChangeResult{
			Change:   c,
			Status:   StatusFailed,
			Attempts: attempts,
			Err:      &ApplyError{Change: c, Kind: KindOf(err), Attempts: attempts, Err: err},
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
