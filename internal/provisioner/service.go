// Package provisioner runs backend operations for every planned instance
// with bounded parallelism and per-instance outcomes.
package provisioner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/terabiome/clusterup/internal/backend"
	"github.com/terabiome/clusterup/internal/plan"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxParallelism caps the implicit worker count.
	DefaultMaxParallelism = 8
	// MaxParallelism caps an explicitly configured worker count.
	MaxParallelism = 64

	DefaultRetryDelay = 2 * time.Second
)

const instrumentationName = "clusterup/provisioner"

type Options struct {
	// Parallelism bounds concurrently running instance tasks. Zero picks
	// min(instances, DefaultMaxParallelism).
	Parallelism int
	// RetryDelay is the pause before the single retry of a transient error.
	RetryDelay time.Duration
}

type Service struct {
	backend backend.Backend
	opts    Options
	logger  *slog.Logger

	tracer            trace.Tracer
	operationCounter  metric.Int64Counter
	operationDuration metric.Float64Histogram
	retryCounter      metric.Int64Counter
}

func NewService(b backend.Backend, opts Options, logger *slog.Logger) *Service {
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}

	meter := otel.Meter(instrumentationName)

	operationCounter, _ := meter.Int64Counter(
		"clusterup.instance.operations",
		metric.WithDescription("Number of per-instance operations by outcome"),
		metric.WithUnit("{operation}"),
	)

	operationDuration, _ := meter.Float64Histogram(
		"clusterup.instance.duration",
		metric.WithDescription("Duration of per-instance operations"),
		metric.WithUnit("s"),
	)

	retryCounter, _ := meter.Int64Counter(
		"clusterup.backend.retries",
		metric.WithDescription("Number of backend calls retried after a transient error"),
		metric.WithUnit("{call}"),
	)

	return &Service{
		backend:           b,
		opts:              opts,
		logger:            logger.With(slog.String("service", "provisioner"), slog.String("backend", b.Name())),
		tracer:            otel.Tracer(instrumentationName),
		operationCounter:  operationCounter,
		operationDuration: operationDuration,
		retryCounter:      retryCounter,
	}
}

// Parallelism returns the worker count used for n instances.
func (s *Service) Parallelism(n int) int {
	p := s.opts.Parallelism
	if p <= 0 {
		p = min(n, DefaultMaxParallelism)
	}
	return max(min(p, MaxParallelism), 1)
}

// Provision creates and then starts every instance.
func (s *Service) Provision(ctx context.Context, plans []plan.InstancePlan) *Report {
	return s.run(ctx, "provision", plans, s.provisionOne)
}

// Halt stops every instance that exists.
func (s *Service) Halt(ctx context.Context, plans []plan.InstancePlan) *Report {
	return s.run(ctx, "halt", plans, s.haltOne)
}

// Destroy removes every instance that exists, disks included.
func (s *Service) Destroy(ctx context.Context, plans []plan.InstancePlan) *Report {
	return s.run(ctx, "destroy", plans, s.destroyOne)
}

type task func(runCtx context.Context, spec plan.InstancePlan, res *Result)

// run dispatches one task per instance in plan order. Once ctx is done no
// further task is dispatched and the remaining instances are skipped;
// dispatched tasks run to completion.
func (s *Service) run(ctx context.Context, operation string, plans []plan.InstancePlan, fn task) *Report {
	ctx, span := s.tracer.Start(ctx, operation)
	defer span.End()

	started := time.Now()
	parallelism := s.Parallelism(len(plans))
	span.SetAttributes(
		attribute.Int("instance.count", len(plans)),
		attribute.Int("parallelism", parallelism),
	)

	s.logger.Info("dispatching instances",
		slog.String("operation", operation),
		slog.Int("instances", len(plans)),
		slog.Int("parallelism", parallelism),
	)

	report := &Report{Operation: operation, Results: make([]Result, len(plans))}
	var mu sync.Mutex
	record := func(i int, res Result) {
		mu.Lock()
		defer mu.Unlock()
		report.Results[i] = res
	}

	sem := semaphore.NewWeighted(int64(parallelism))
	var group errgroup.Group

	for i, spec := range plans {
		err := sem.Acquire(ctx, 1)
		if err == nil && ctx.Err() != nil {
			sem.Release(1)
			err = ctx.Err()
		}
		if err != nil {
			for j, rest := range plans[i:] {
				s.logger.Warn("instance not dispatched",
					slog.String("operation", operation),
					slog.String("vm", rest.Name),
					slog.String("error", err.Error()),
				)
				res := Result{Index: rest.Index, Instance: rest.Name, Status: StatusSkipped, Err: err}
				s.observe(ctx, operation, res)
				record(i+j, res)
			}
			break
		}

		group.Go(func() error {
			defer sem.Release(1)
			record(i, s.execute(ctx, operation, spec, fn))
			return nil
		})
	}

	_ = group.Wait()
	report.Duration = time.Since(started)

	span.SetAttributes(
		attribute.Int("instance.succeeded", report.Succeeded()),
		attribute.Int("instance.failed", report.Failed()),
		attribute.Int("instance.skipped", report.Skipped()),
	)
	if !report.OK() {
		span.SetStatus(codes.Error, "not every instance succeeded")
	}

	s.logger.Info("operation finished",
		slog.String("operation", operation),
		slog.Int("succeeded", report.Succeeded()),
		slog.Int("failed", report.Failed()),
		slog.Int("skipped", report.Skipped()),
		slog.Duration("duration", report.Duration),
	)
	return report
}

func (s *Service) execute(ctx context.Context, operation string, spec plan.InstancePlan, fn task) Result {
	ctx, span := s.tracer.Start(ctx, operation+".instance", trace.WithAttributes(
		attribute.String("vm.name", spec.Name),
		attribute.Int("vm.index", spec.Index),
	))
	defer span.End()

	started := time.Now()
	res := Result{Index: spec.Index, Instance: spec.Name}
	fn(ctx, spec, &res)
	res.Duration = time.Since(started)

	span.SetAttributes(
		attribute.String("status", string(res.Status)),
		attribute.Int("attempts", res.Attempts),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	if res.Status == StatusFailed {
		span.SetStatus(codes.Error, res.Err.Error())
	}

	s.observe(ctx, operation, res)

	attrs := []any{
		slog.String("operation", operation),
		slog.String("vm", spec.Name),
		slog.String("status", string(res.Status)),
		slog.Int("attempts", res.Attempts),
		slog.Duration("duration", res.Duration),
	}
	switch res.Status {
	case StatusFailed:
		s.logger.Error("instance failed", append(attrs, slog.String("error", res.Err.Error()))...)
	case StatusSkipped:
		s.logger.Warn("instance skipped", append(attrs, slog.String("error", res.Err.Error()))...)
	default:
		s.logger.Info("instance done", attrs...)
	}
	return res
}

func (s *Service) observe(ctx context.Context, operation string, res Result) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", string(res.Status)),
	)
	s.operationCounter.Add(ctx, 1, attrs)
	if res.Status != StatusSkipped || res.Attempts > 0 {
		s.operationDuration.Record(ctx, res.Duration.Seconds(), attrs)
	}
}

func (s *Service) provisionOne(runCtx context.Context, spec plan.InstancePlan, res *Result) {
	ctx := context.WithoutCancel(runCtx)

	handle, err := retry(ctx, s, res, "create", spec.Name, func(ctx context.Context) (backend.Handle, error) {
		return s.backend.Create(ctx, spec)
	})
	if err != nil && res.Attempts > 1 && backend.KindOf(err) == backend.KindAlreadyExists {
		// The first attempt defined the instance before reporting a transient error.
		s.logger.Info("instance defined by the failed attempt, adopting it", slog.String("vm", spec.Name))
		handle, err = retry(ctx, s, res, "lookup", spec.Name, func(ctx context.Context) (backend.Handle, error) {
			return s.backend.Lookup(ctx, spec.Name)
		})
	}
	if err != nil {
		res.fail(err, backend.KindAlreadyExists)
		return
	}
	res.Handle = handle

	// Create finished; a cancelled run does not start the instance.
	if err := runCtx.Err(); err != nil {
		res.Status, res.Err = StatusSkipped, err
		return
	}

	if _, err := retry(ctx, s, res, "start", spec.Name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Start(ctx, handle)
	}); err != nil {
		res.fail(err)
		return
	}
	res.Status = StatusCreated
}

func (s *Service) haltOne(runCtx context.Context, spec plan.InstancePlan, res *Result) {
	ctx := context.WithoutCancel(runCtx)

	handle, ok := s.lookup(ctx, spec, res)
	if !ok {
		return
	}

	if _, err := retry(ctx, s, res, "stop", spec.Name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Stop(ctx, handle)
	}); err != nil {
		res.fail(err)
		return
	}
	res.Status = StatusStopped
}

func (s *Service) destroyOne(runCtx context.Context, spec plan.InstancePlan, res *Result) {
	ctx := context.WithoutCancel(runCtx)

	handle, ok := s.lookup(ctx, spec, res)
	if !ok {
		return
	}

	if _, err := retry(ctx, s, res, "destroy", spec.Name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Destroy(ctx, handle)
	}); err != nil {
		res.fail(err, backend.KindNotFound)
		return
	}
	res.Status = StatusDestroyed
}

func (s *Service) lookup(ctx context.Context, spec plan.InstancePlan, res *Result) (backend.Handle, bool) {
	handle, err := retry(ctx, s, res, "lookup", spec.Name, func(ctx context.Context) (backend.Handle, error) {
		return s.backend.Lookup(ctx, spec.Name)
	})
	if err != nil {
		res.fail(err, backend.KindNotFound)
		return backend.Handle{}, false
	}
	res.Handle = handle
	return handle, true
}

// fail records err as the outcome. Errors of one of the skip kinds mark
// the instance skipped instead of failed.
func (r *Result) fail(err error, skip ...backend.ErrorKind) {
	r.Status, r.Err = StatusFailed, err
	kind := backend.KindOf(err)
	for _, k := range skip {
		if kind == k {
			r.Status = StatusSkipped
		}
	}
}

// retry calls fn and, when the error is transient, calls it exactly once
// more after the configured delay.
func retry[T any](ctx context.Context, s *Service, res *Result, op, instance string, fn func(context.Context) (T, error)) (T, error) {
	res.Attempts++
	value, err := fn(ctx)
	if err == nil || !backend.IsTransient(err) {
		return value, err
	}

	s.logger.Warn("transient backend error, retrying",
		slog.String("op", op),
		slog.String("vm", instance),
		slog.Duration("delay", s.opts.RetryDelay),
		slog.String("error", err.Error()),
	)
	s.retryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", string(backend.KindOf(err))),
	))

	if s.opts.RetryDelay > 0 {
		timer := time.NewTimer(s.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, err
		case <-timer.C:
		}
	}

	res.Attempts++
	return fn(ctx)
}
