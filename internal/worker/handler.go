package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/dto"
	"github.com/joshu-sajeev/jobqueue/internal/models"
)

// Builtins holds the handlers for the job types shipped with the
// service. StepDelay simulates the work between progress reports.
type Builtins struct {
	StepDelay time.Duration
	Logger    *slog.Logger
}

// Register installs every built-in handler on r.
func (b *Builtins) Register(r *Registry) {
	RegisterTyped(r, config.JobTypeDataProcessing, b.DataProcessing)
	RegisterTyped(r, config.JobTypeImageProcessing, b.ImageProcessing)
	RegisterTyped(r, config.JobTypeEmailSending, b.EmailSending)
	RegisterTyped(r, config.JobTypeReportGeneration, b.ReportGeneration)
}

// DataProcessing simulates a three step data pipeline
func (b *Builtins) DataProcessing(ctx context.Context, job *models.Job, p dto.DataProcessingPayload, progress Progress) (any, error) {
	input := p.Input
	if input == "" {
		input = "no input"
	}

	if err := b.run(ctx, job, progress, 10, 30, 60, 100); err != nil {
		return nil, err
	}

	return map[string]any{
		"processed": true,
		"result":    "Processed data: " + input,
	}, nil
}

func (b *Builtins) ImageProcessing(ctx context.Context, job *models.Job, p dto.ImageProcessingPayload, progress Progress) (any, error) {
	path := p.ImagePath
	if path == "" {
		path = "unknown"
	}

	if err := b.run(ctx, job, progress, 20, 50, 100); err != nil {
		return nil, err
	}

	return map[string]any{
		"processed": true,
		"result":    "Processed image: " + path,
	}, nil
}

// EmailSending simulates handing a message to a mail relay
func (b *Builtins) EmailSending(ctx context.Context, job *models.Job, p dto.EmailSendingPayload, progress Progress) (any, error) {
	recipient := p.Recipient
	if recipient == "" {
		recipient = "unknown recipient"
	}

	if err := b.run(ctx, job, progress, 50, 100); err != nil {
		return nil, err
	}

	b.logger().Info("email sent", slog.String("job_id", job.ID), slog.String("recipient", recipient))

	return map[string]any{
		"processed": true,
		"result":    "Email sent to: " + recipient,
	}, nil
}

func (b *Builtins) ReportGeneration(ctx context.Context, job *models.Job, p dto.ReportGenerationPayload, progress Progress) (any, error) {
	reportType := p.ReportType
	if reportType == "" {
		reportType = "standard"
	}

	if err := b.run(ctx, job, progress, 25, 50, 75, 100); err != nil {
		return nil, err
	}

	return map[string]any{
		"processed": true,
		"result":    "Generated report: " + reportType,
		"reportUrl": fmt.Sprintf("/reports/%s", job.ID),
	}, nil
}

// Generic handles job types with no registered handler.
func (b *Builtins) Generic(ctx context.Context, job *models.Job, progress Progress) (any, error) {
	if err := progress.Report(ctx, 10); err != nil {
		return nil, err
	}
	if err := b.sleep(ctx); err != nil {
		return nil, err
	}

	var data any
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &data); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}

	return map[string]any{
		"processed": true,
		"message":   "Processed with generic handler: " + job.Type,
		"data":      data,
	}, nil
}

// run reports the first step immediately and every later step after a
// simulated delay.
func (b *Builtins) run(ctx context.Context, job *models.Job, progress Progress, steps ...int) error {
	for i, pct := range steps {
		if i > 0 {
			if err := b.sleep(ctx); err != nil {
				return err
			}
		}
		if err := progress.Report(ctx, pct); err != nil {
			return err
		}
		b.logger().Debug("job progress", slog.String("job_id", job.ID), slog.Int("progress", pct))
	}
	return nil
}

func (b *Builtins) sleep(ctx context.Context) error {
	if b.StepDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.StepDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Builtins) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}
