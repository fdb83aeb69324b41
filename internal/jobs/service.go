package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/hope-orderflow/internal/apperr"
	"github.com/imrishuroy/hope-orderflow/internal/aws"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("job service already started")
	// ErrJobInProgress is returned by Execute for a job another worker is still running.
	ErrJobInProgress = errors.New("job in progress")
)

const (
	outcomeAttempts = 4
	stopGrace       = 2 * time.Second
)

// Options tune a Service.
type Options struct {
	// Workers is the number of concurrent workers started by Start. Defaults to 1.
	Workers int
	// Timeout bounds each handler's context; 0 disables it.
	Timeout time.Duration
	// Lease is how long a job may stay running before it is presumed lost and failed.
	// 0 never expires running jobs.
	Lease   time.Duration
	Cache   *StatusCache
	Metrics *aws.MetricsClient
}

// Service owns the job queue and worker pool. Construct one per process; after Stop
// it cannot be started again.
type Service struct {
	store    Repository
	queue    Queue
	registry *Registry
	cache    *StatusCache
	metrics  *aws.MetricsClient
	log      *zap.Logger
	workers  int
	timeout  time.Duration
	lease    time.Duration
	backoff  time.Duration
	newID    func() string
	nowFunc  func() time.Time

	started atomic.Bool
	closing atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewService(store Repository, queue Queue, registry *Registry, log *zap.Logger, opts Options) *Service {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Service{
		store:    store,
		queue:    queue,
		registry: registry,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		log:      log,
		workers:  opts.Workers,
		timeout:  opts.Timeout,
		lease:    opts.Lease,
		backoff:  50 * time.Millisecond,
		newID:    func() string { return uuid.New().String() },
		nowFunc:  time.Now,
	}
}

// Enqueue records a queued job and hands it to the workers. It returns as soon as the
// job row exists; the row write is retried briefly, and a job that cannot be queued is
// marked failed.
func (s *Service) Enqueue(ctx context.Context, t Type, orderID string, metadata map[string]string) (string, error) {
	job := &Job{
		JobID:     s.newID(),
		JobType:   t,
		Status:    StatusQueued,
		OrderID:   orderID,
		Metadata:  metadata,
		CreatedAt: s.nowFunc().UTC(),
	}
	// job ids are fresh, so an existing row means an earlier attempt landed
	_, err := s.retry(ctx, func() (*Job, error) {
		if err := s.store.Create(ctx, job); err != nil && !errors.Is(err, ErrJobExists) {
			return nil, err
		}
		return job, nil
	})
	if err != nil {
		return "", apperr.Persistence("Failed to record job", err)
	}
	s.cache.Put(ctx, job)

	fields := []zap.Field{zap.String("job_id", job.JobID), zap.String("job_type", string(t)), zap.String("order_id", orderID)}
	if err := s.queue.Push(ctx, job.Descriptor()); err != nil {
		s.log.Error("job enqueue failed", append(fields, zap.Error(err))...)
		failed, ferr := s.store.MarkFailed(ctx, job.JobID, "enqueue failed: "+err.Error())
		if ferr != nil {
			s.log.Error("mark unqueued job failed", append(fields, zap.Error(ferr))...)
		}
		s.cache.Put(ctx, failed)
		return job.JobID, nil
	}

	s.log.Info("job enqueued", fields...)
	return job.JobID, nil
}

// Status returns the latest known state of jobID.
func (s *Service) Status(ctx context.Context, jobID string) (*Job, error) {
	if j, ok := s.cache.Get(ctx, jobID); ok {
		return j, nil
	}
	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, apperr.Persistence("Failed to load job", err)
	}
	if j == nil {
		return nil, apperr.NotFound("Job %s not found", jobID)
	}
	s.cache.Put(ctx, j)
	return j, nil
}

// Start fails jobs whose lease expired, re-queues jobs left queued by a previous process
// and launches the workers.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CAS(false, true) {
		return ErrAlreadyStarted
	}

	if s.lease > 0 {
		staleBefore := s.nowFunc().Add(-s.lease)
		stale, err := s.store.ListStale(ctx, staleBefore)
		if err != nil {
			s.log.Warn("could not list stale jobs", zap.Error(err))
		}
		for i := range stale {
			s.expire(ctx, stale[i].JobID, staleBefore)
		}
	}

	pending, err := s.store.ListQueued(ctx)
	if err != nil {
		s.log.Warn("could not recover queued jobs", zap.Error(err))
	}
	for i := range pending {
		if err := s.queue.Push(ctx, pending[i].Descriptor()); err != nil {
			s.log.Error("re-queue job failed", zap.String("job_id", pending[i].JobID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.log.Info("recovered queued jobs", zap.Int("count", len(pending)))
	}

	wctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work(wctx, i)
	}
	s.log.Info("job workers started", zap.Int("workers", s.workers))
	return nil
}

// Stop lets each worker finish its current job and exit; queued jobs stay queued. If ctx
// ends first the in-flight handlers' contexts are cancelled and ctx's error is returned.
func (s *Service) Stop(ctx context.Context) error {
	if !s.started.Load() || !s.closing.CAS(false, true) {
		return nil
	}
	s.queue.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.log.Info("job workers stopped")
		return nil
	case <-ctx.Done():
		// handlers that honour cancellation get a moment to record their outcome
		s.cancel()
		select {
		case <-done:
		case <-time.After(stopGrace):
			s.log.Warn("job workers still running after cancel")
		}
		return ctx.Err()
	}
}

// Running reports whether the worker pool is draining the queue.
func (s *Service) Running() bool {
	return s.started.Load() && !s.closing.Load()
}

func (s *Service) work(ctx context.Context, n int) {
	defer s.wg.Done()
	for {
		d, ok := s.queue.Pop(ctx)
		if !ok {
			return
		}
		if err := s.Execute(ctx, d); err != nil {
			s.log.Error("job bookkeeping failed", zap.Int("worker", n), zap.String("job_id", d.JobID), zap.Error(err))
		}
	}
}

// Execute runs one job through its lifecycle. Handler failures are recorded on the job
// and not returned; the error covers status-store failures and jobs another worker still
// holds, both of which are worth redelivering. A job that already finished is skipped.
func (s *Service) Execute(ctx context.Context, d Descriptor) error {
	fields := []zap.Field{zap.String("job_id", d.JobID), zap.String("job_type", string(d.JobType)), zap.String("order_id", d.OrderID)}

	job, err := s.store.MarkRunning(ctx, d.JobID)
	if errors.Is(err, ErrStatusMismatch) {
		return s.claimed(ctx, d.JobID, fields)
	}
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	s.cache.Put(ctx, job)
	s.log.Info("job started", fields...)

	start := s.nowFunc()
	runErr := s.run(ctx, job)
	elapsed := s.nowFunc().Sub(start)

	// the outcome is recorded even when ctx was cancelled under the handler
	job, err = s.recordOutcome(context.WithoutCancel(ctx), d.JobID, runErr)
	if err != nil {
		s.log.Error("job outcome not recorded", append(fields, zap.Error(err))...)
		return fmt.Errorf("record job outcome: %w", err)
	}
	if job == nil {
		s.log.Warn("job finished elsewhere before its outcome was recorded", fields...)
		return nil
	}

	dims := map[string]string{"job_type": string(d.JobType)}
	if job.Status == StatusFailed {
		s.log.Error("job failed", append(fields, zap.Duration("elapsed", elapsed), zap.String("reason", job.Error))...)
		_ = s.metrics.RecordCount(ctx, aws.MetricJobsFailed, dims)
	} else {
		s.log.Info("job completed", append(fields, zap.Duration("elapsed", elapsed))...)
		_ = s.metrics.RecordCount(ctx, aws.MetricJobsCompleted, dims)
	}
	_ = s.metrics.RecordLatency(ctx, aws.MetricJobLatency, elapsed, dims)
	s.cache.Put(ctx, job)
	return nil
}

// claimed handles a job MarkRunning could not take.
func (s *Service) claimed(ctx context.Context, jobID string, fields []zap.Field) error {
	current, err := s.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load claimed job: %w", err)
	}
	switch {
	case current == nil:
		s.log.Warn("job not found, dropping", fields...)
		return nil
	case current.Status.Terminal():
		s.log.Info("job already finished", fields...)
		return nil
	}

	if s.lease > 0 && current.StartedAt != nil {
		staleBefore := s.nowFunc().Add(-s.lease)
		if current.StartedAt.Before(staleBefore) {
			s.expire(ctx, jobID, staleBefore)
			return nil
		}
	}
	return fmt.Errorf("job %s is %s: %w", jobID, current.Status, ErrJobInProgress)
}

// expire fails a job whose worker stopped reporting. The handler may or may not have run,
// so it is not retried.
func (s *Service) expire(ctx context.Context, jobID string, staleBefore time.Time) {
	reason := fmt.Sprintf("lease of %s expired before the job finished", s.lease)
	job, err := s.store.ExpireRunning(ctx, jobID, staleBefore, reason)
	switch {
	case errors.Is(err, ErrStatusMismatch):
		return
	case err != nil:
		s.log.Error("expire stale job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	s.log.Warn("stale job failed", zap.String("job_id", jobID), zap.Timep("started_at", job.StartedAt))
	_ = s.metrics.RecordCount(ctx, aws.MetricJobsFailed, map[string]string{"job_type": string(job.JobType)})
	s.cache.Put(ctx, job)
}

// recordOutcome moves a running job to done, or to failed when runErr is set or done
// cannot be written. It returns (nil, nil) if the job left running in the meantime.
func (s *Service) recordOutcome(ctx context.Context, jobID string, runErr error) (*Job, error) {
	if runErr == nil {
		job, err := s.retry(ctx, func() (*Job, error) { return s.store.MarkDone(ctx, jobID) })
		if err == nil || errors.Is(err, ErrStatusMismatch) {
			return job, nil
		}
		runErr = fmt.Errorf("record completion: %w", err)
	}
	job, err := s.retry(ctx, func() (*Job, error) { return s.store.MarkFailed(ctx, jobID, runErr.Error()) })
	if errors.Is(err, ErrStatusMismatch) {
		return nil, nil
	}
	return job, err
}

// retry calls fn up to outcomeAttempts times with doubling backoff. A status mismatch is final.
func (s *Service) retry(ctx context.Context, fn func() (*Job, error)) (*Job, error) {
	wait := s.backoff
	var err error
	for attempt := 1; ; attempt++ {
		var job *Job
		job, err = fn()
		if err == nil || errors.Is(err, ErrStatusMismatch) || attempt == outcomeAttempts {
			return job, err
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, err
		}
		wait *= 2
	}
}

func (s *Service) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	h, err := s.registry.Lookup(job.JobType)
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err = h(ctx, job)
	if err != nil && s.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.New(apperr.ErrJobTimeout.Code, apperr.ErrJobTimeout.Kind,
			fmt.Sprintf("Job handler timed out after %s", s.timeout), err)
	}
	return err
}
