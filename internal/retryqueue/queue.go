package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/shiprouter/internal/telemetry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler runs one attempt of a job. A nil error completes the job.
type Handler func(ctx context.Context, job *Job) error

// Config configures polling and backoff.
type Config struct {
	PollInterval time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Jitter       float64 // fraction of the delay, 0.10 = up to 10%
	MaxAttempts  int
	BatchSize    int
	Concurrency  int
}

// DefaultConfig returns a 5s poll, 1s base delay doubling up to 60s with 10%
// jitter, 5 attempts and batches of 20.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		Jitter:       0.10,
		MaxAttempts:  5,
		BatchSize:    20,
		Concurrency:  4,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	return c
}

// Queue dispatches due jobs to handlers registered per job type. Enqueue is
// safe to call while the scheduler is running.
type Queue struct {
	config  Config
	store   Store
	logger  *otelzap.Logger
	metrics *telemetry.Metrics
	clock   clockz.Clock
	rand    func() float64

	mu       sync.RWMutex
	handlers map[string]Handler

	runMu   sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// New creates a Queue over store.
func New(cfg Config, store Store, logger *otelzap.Logger) *Queue {
	return &Queue{
		config:   cfg.withDefaults(),
		store:    store,
		logger:   logger,
		clock:    clockz.RealClock,
		rand:     rand.Float64,
		handlers: make(map[string]Handler),
	}
}

// WithClock sets the clock used for scheduling.
func (q *Queue) WithClock(clock clockz.Clock) *Queue {
	q.clock = clock
	return q
}

// WithMetrics sets the metrics recorder.
func (q *Queue) WithMetrics(m *telemetry.Metrics) *Queue {
	q.metrics = m
	return q
}

// WithRand sets the jitter source. It must return values in [0, 1).
func (q *Queue) WithRand(fn func() float64) *Queue {
	q.rand = fn
	return q
}

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.config
}

// Register sets the handler for a job type.
func (q *Queue) Register(jobType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

func (q *Queue) handler(jobType string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Enqueue stores a new pending job due immediately. payload is encoded as JSON.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, lastErr string) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", jobType, err)
	}

	now := q.clock.Now().UTC()
	job := &Job{
		ID:            uuid.NewString(),
		Type:          jobType,
		Payload:       raw,
		MaxAttempts:   q.config.MaxAttempts,
		NextAttemptAt: now,
		LastError:     lastErr,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueuing %s job: %w", jobType, err)
	}

	q.logger.Ctx(ctx).Info("Retry job enqueued",
		zap.String("job_id", job.ID),
		zap.String("type", jobType),
	)
	q.metrics.RecordRetryJob(jobType, "enqueued")
	return job, nil
}

// Get returns a job by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// List returns jobs filtered by status.
func (q *Queue) List(ctx context.Context, status Status) ([]*Job, error) {
	return q.store.List(ctx, status)
}

// Backoff returns the delay before the next attempt after the given number
// of failed attempts: BaseDelay doubled per attempt plus up to Jitter of
// itself, capped at MaxDelay.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(q.config.BaseDelay) * math.Pow(2, float64(attempt-1))
	d := base * (1 + q.config.Jitter*q.rand())
	if d > float64(q.config.MaxDelay) {
		return q.config.MaxDelay
	}
	return time.Duration(d)
}

// ProcessDue runs one polling step: claims every due job in the batch and
// dispatches it. It returns the number of jobs processed.
func (q *Queue) ProcessDue(ctx context.Context) (int, error) {
	due, err := q.store.Due(ctx, q.clock.Now().UTC(), q.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("selecting due jobs: %w", err)
	}

	var (
		g         errgroup.Group
		mu        sync.Mutex
		processed int
	)
	g.SetLimit(q.config.Concurrency)
	for _, job := range due {
		g.Go(func() error {
			claimed, err := q.store.Claim(ctx, job.ID, q.clock.Now().UTC())
			if err != nil {
				q.logger.Ctx(ctx).Error("Claiming retry job failed", zap.String("job_id", job.ID), zap.Error(err))
				return nil
			}
			if !claimed {
				return nil
			}
			job.Status = StatusProcessing
			q.run(ctx, job)

			mu.Lock()
			processed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return processed, nil
}

func (q *Queue) run(ctx context.Context, job *Job) {
	var err error
	h, ok := q.handler(job.Type)
	if !ok {
		err = fmt.Errorf("%w: %s", ErrNoHandler, job.Type)
	} else {
		err = h(WithRetryExecution(ctx, job.ID), job.Clone())
	}

	now := q.clock.Now().UTC()
	job.UpdatedAt = now
	job.Attempts++

	if err == nil {
		job.Status = StatusCompleted
		job.LastError = ""
		q.logger.Ctx(ctx).Info("Retry job completed",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempts", job.Attempts),
		)
		q.metrics.RecordRetryJob(job.Type, "completed")
		q.save(ctx, job)
		return
	}

	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		q.logger.Ctx(ctx).Error("Retry job failed permanently",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempts", job.Attempts),
			zap.Error(err),
		)
		q.metrics.RecordRetryJob(job.Type, "failed")
	} else {
		job.Status = StatusPending
		job.NextAttemptAt = now.Add(q.Backoff(job.Attempts))
		q.logger.Ctx(ctx).Warn("Retry job rescheduled",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempts", job.Attempts),
			zap.Time("next_attempt_at", job.NextAttemptAt),
			zap.Error(err),
		)
		q.metrics.RecordRetryJob(job.Type, "retried")
	}
	q.save(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *Job) {
	if err := q.store.Update(ctx, job); err != nil {
		q.logger.Ctx(ctx).Error("Saving retry job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Start launches the polling loop. It is a no-op when already running.
func (q *Queue) Start(ctx context.Context) {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.stop != nil {
		return
	}
	q.stop = make(chan struct{})
	q.stopped = make(chan struct{})
	go q.loop(ctx, q.stop, q.stopped)

	q.logger.Ctx(ctx).Info("Retry scheduler started", zap.Duration("poll_interval", q.config.PollInterval))
}

// Stop halts the polling loop and waits for the current step to finish.
// The queue may be started again afterwards.
func (q *Queue) Stop() {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.stop == nil {
		return
	}
	close(q.stop)
	<-q.stopped
	q.stop, q.stopped = nil, nil
	q.logger.Info("Retry scheduler stopped")
}

// Running reports whether the polling loop is active.
func (q *Queue) Running() bool {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	return q.stop != nil
}

func (q *Queue) loop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		if _, err := q.ProcessDue(ctx); err != nil {
			q.logger.Ctx(ctx).Error("Retry poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-q.clock.After(q.config.PollInterval):
		}
	}
}
