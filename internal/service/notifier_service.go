package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/pkg/config"
	"github.com/sgescolar/sge-api/pkg/jobs"
	"github.com/sgescolar/sge-api/pkg/mailer"
)

const jobTypeEmail = "email"

// NotifierService delivers best-effort email through a background queue.
// Notify never reports failure to the caller: delivery is advisory and
// must not change the outcome of the surrounding workflow. Transient SMTP
// errors get the queue's bounded retries; terminal failures are logged.
type NotifierService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotifierService constructs the notifier with its delivery queue.
func NewNotifierService(m mailer.Mailer, cfg config.NotifierConfig, metrics *MetricsService, logger *zap.Logger) *NotifierService {
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(mailer.Message)
		if !ok {
			logger.Error("notifier received unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		err := m.Send(msg)
		metrics.RecordMailDelivery(err == nil)
		return err
	}

	queue := jobs.NewQueue("notifier", handler, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})

	return &NotifierService{queue: queue, logger: logger}
}

// Start launches the delivery workers.
func (s *NotifierService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotifierService) Stop() {
	s.queue.Stop()
}

// Notify enqueues a message for delivery. Messages without a recipient
// are dropped; enqueue failures are logged and swallowed.
func (s *NotifierService) Notify(to, subject, body string) {
	if to == "" {
		return
	}

	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypeEmail,
		Payload: mailer.Message{To: to, Subject: subject, Body: body},
	})
	if err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
