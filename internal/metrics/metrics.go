// Package metrics owns the process MeterProvider. A manual reader keeps
// the job attempt metrics readable from inside the process, so the api
// can serve them without an external collector.
package metrics

import (
	"context"
	"fmt"
	"sort"

	"github.com/joshu-sajeev/jobqueue/internal/dto"
	"github.com/joshu-sajeev/jobqueue/internal/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type Provider struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

func NewProvider() *Provider {
	reader := sdkmetric.NewManualReader()
	return &Provider{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:   reader,
	}
}

// Install makes p the global MeterProvider.
func (p *Provider) Install() {
	otel.SetMeterProvider(p.provider)
}

func (p *Provider) Meter(name string) metric.Meter {
	return p.provider.Meter(name)
}

// Attempts collects the attempt counter and duration histogram, grouped
// by job type and outcome.
func (p *Provider) Attempts(ctx context.Context) ([]dto.AttemptMetricsDTO, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	type key struct{ jobType, status string }
	byKey := map[key]*dto.AttemptMetricsDTO{}
	entry := func(set attribute.Set) *dto.AttemptMetricsDTO {
		jobType, _ := set.Value(attribute.Key(worker.AttrJobType))
		status, _ := set.Value(attribute.Key(worker.AttrStatus))
		k := key{jobType.AsString(), status.AsString()}
		e, ok := byKey[k]
		if !ok {
			e = &dto.AttemptMetricsDTO{JobType: k.jobType, Status: k.status}
			byKey[k] = e
		}
		return e
	}

	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != worker.MeterName {
			continue
		}
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name != worker.MetricAttempts {
					continue
				}
				for _, dp := range data.DataPoints {
					entry(dp.Attributes).Attempts += dp.Value
				}
			case metricdata.Histogram[float64]:
				if m.Name != worker.MetricDuration {
					continue
				}
				for _, dp := range data.DataPoints {
					e := entry(dp.Attributes)
					e.DurationCount += dp.Count
					e.DurationSeconds += dp.Sum
				}
			}
		}
	}

	out := make([]dto.AttemptMetricsDTO, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].JobType != out[k].JobType {
			return out[i].JobType < out[k].JobType
		}
		return out[i].Status < out[k].Status
	})
	return out, nil
}

// Shutdown flushes and stops the provider. Attempts fails afterwards.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}
