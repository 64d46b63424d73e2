package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the job metrics.
const MeterName = "github.com/joshu-sajeev/jobqueue"

const (
	MetricDuration = "jobqueue.job.duration"
	MetricAttempts = "jobqueue.job.attempts"

	AttrJobType = "job_type"
	AttrStatus  = "status"
)

// Next invokes the rest of the chain.
type Next func(ctx context.Context) (any, error)

// Middleware wraps a handler invocation.
type Middleware func(ctx context.Context, job *models.Job, next Next) (any, error)

// Chain composes middleware; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, job *models.Job, next Next) (any, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			inner := h
			h = func(ctx context.Context) (any, error) {
				return mw(ctx, job, inner)
			}
		}
		return h(ctx)
	}
}

func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, job *models.Job, next Next) (any, error) {
		logger.Info("job started",
			slog.String("job_id", job.ID),
			slog.String("job_type", job.Type),
			slog.Int("attempt", job.AttemptsMade),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("job attempt failed",
				slog.String("job_id", job.ID),
				slog.String("job_type", job.Type),
				slog.Int("attempt", job.AttemptsMade),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job attempt succeeded",
				slog.String("job_id", job.ID),
				slog.String("job_type", job.Type),
				slog.Duration("elapsed", elapsed),
			)
		}
		return result, err
	}
}

// Recover turns a handler panic into an attempt failure.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, job *models.Job, next Next) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job handler panicked",
					slog.String("job_id", job.ID),
					slog.String("job_type", job.Type),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				result = nil
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return next(ctx)
	}
}

// MetricsWithMeter records jobqueue.job.duration (seconds) and
// jobqueue.job.attempts, both tagged with job_type and status.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// instrument errors fall back to noop instruments
	duration, _ := meter.Float64Histogram(
		MetricDuration,
		metric.WithDescription("Duration of job attempts in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		MetricAttempts,
		metric.WithDescription("Total number of job attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, job *models.Job, next Next) (any, error) {
		start := time.Now()
		result, err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String(AttrJobType, job.Type),
			attribute.String(AttrStatus, status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		attempts.Add(ctx, 1, attrs)

		return result, err
	}
}
