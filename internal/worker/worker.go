package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/notifications"
	"github.com/jidokhae/backend/pkg/queue"
)

// JobQueue is the subset of queue.Queue the processor uses.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Deliverer sends one queued notification. notifications.Service satisfies it.
type Deliverer interface {
	DeliverPayload(ctx context.Context, p queue.NotificationPayload) notifications.Outcome
}

// NotificationProcessor drains notification jobs: decode, deliver, retry on gateway failure.
type NotificationProcessor struct {
	deliverer Deliverer
	queue     JobQueue
	logger    *zap.Logger
	backoff   time.Duration
}

// NewNotificationProcessor creates a notification job processor.
func NewNotificationProcessor(deliverer Deliverer, q JobQueue, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{deliverer: deliverer, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one job. Duplicates and members without a phone are done, not failed, so they
// are never retried.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeNotification(job)
	if err != nil {
		return err
	}
	out := p.deliverer.DeliverPayload(ctx, payload)
	switch out.Status {
	case notifications.OutcomeSent:
		return nil
	case notifications.OutcomeFailed:
		return fmt.Errorf("deliver %s to %s: %w", payload.Type, payload.UserID, out.Err)
	default:
		p.logger.Info("notification job skipped",
			zap.String("job_id", job.ID),
			zap.String("status", string(out.Status)),
			zap.String("user_id", payload.UserID.String()),
		)
		return nil
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *NotificationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *NotificationProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RunEvery calls fn every interval until ctx is cancelled. The worker uses it for scheduler
// ticks when no external cron is configured.
func RunEvery(ctx context.Context, interval time.Duration, logger *zap.Logger, fn func(ctx context.Context, now time.Time)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("ticker stopping")
			return
		case now := <-t.C:
			fn(ctx, now.UTC())
		}
	}
}
