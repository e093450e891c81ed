// Package monitor reacts to compute job state-change events: it classifies
// the outcome, logs the attempt, and routes failures.
//
//   - Retryable failures (e.g. spot interruptions) with the backend's
//     internal retry budget exhausted go to the retry queue.
//   - Retryable failures with budget remaining take no routing action; the
//     backend's own retry is still in flight and must not be raced.
//   - Non-retryable failures (nonzero exit) go to the DLQ for triage.
//   - Successes are logged only.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"granule-reprocessing/internal/attemptlog"
	"granule-reprocessing/internal/batch"
	"granule-reprocessing/internal/config"
	"granule-reprocessing/internal/models"
	"granule-reprocessing/internal/queue"
	"granule-reprocessing/internal/telemetry"
)

// FailureTypeAttribute tags routed messages for queue-side filtering.
const FailureTypeAttribute = "FailureType"

type workQueue interface {
	Send(ctx context.Context, queueURL, body string, attrs map[string]string) error
	Receive(ctx context.Context, queueURL string, max int, wait time.Duration) ([]queue.Message, error)
	DeleteBatch(ctx context.Context, queueURL string, messages []queue.Message) ([]string, error)
}

// Monitor handles job state-change events for one processing pipeline.
type Monitor struct {
	logs                *attemptlog.Store
	queue               workQueue
	retryQueueURL       string
	dlqURL              string
	maxInternalAttempts int
	log                 *logrus.Logger
}

// New builds a monitor.
func New(cfg config.Config, logs *attemptlog.Store, q workQueue, log *logrus.Logger) *Monitor {
	return &Monitor{
		logs:                logs,
		queue:               q,
		retryQueueURL:       cfg.RetryQueueURL,
		dlqURL:              cfg.DeadLetterQueueURL,
		maxInternalAttempts: cfg.MaxInternalAttempts,
		log:                 log,
	}
}

// HandleEvent processes one raw state-change event envelope.
func (m *Monitor) HandleEvent(ctx context.Context, body []byte) error {
	var envelope batch.StateChangeEvent
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parse state change event: %w", err)
	}
	detail, err := batch.ParseJobDetail(envelope.Detail)
	if err != nil {
		return err
	}
	return m.Handle(ctx, detail)
}

// Handle classifies, logs, and routes one job detail. Every outcome is
// logged; only failures route.
func (m *Monitor) Handle(ctx context.Context, detail *batch.JobDetail) error {
	event, err := detail.GranuleEvent()
	if err != nil {
		return err
	}
	outcome := detail.Outcome()

	logger := m.log.WithFields(logrus.Fields{
		"job_id":     detail.JobID,
		"granule_id": event.GranuleID,
		"attempt":    event.Attempt,
		"outcome":    outcome,
	})
	logger.Info("job state change")

	if err := m.logs.Put(ctx, detail); err != nil {
		return fmt.Errorf("log attempt for %s: %w", event.GranuleID, err)
	}

	switch outcome {
	case models.JobSuccess:
		telemetry.JobsSucceeded.Inc()
		return nil

	case models.JobFailureRetryable:
		telemetry.JobsFailedRetryable.Inc()
		if detail.AttemptCount() < m.maxInternalAttempts {
			logger.WithField("internal_attempts", detail.AttemptCount()).
				Info("backend retry budget remaining, not requeuing")
			return nil
		}
		if err := m.route(ctx, m.retryQueueURL, event, "RETRYABLE"); err != nil {
			return err
		}
		telemetry.RetriesEnqueued.Inc()
		logger.Info("routed to retry queue")
		return nil

	case models.JobFailureNonretryable:
		telemetry.JobsFailedNonretryable.Inc()
		if err := m.route(ctx, m.dlqURL, event, "NONRETRYABLE"); err != nil {
			return err
		}
		telemetry.DeadLettered.Inc()
		logger.Warn("routed to dead-letter queue for triage")
		return nil
	}
	return fmt.Errorf("unhandled outcome %s for job %s", outcome, detail.JobID)
}

func (m *Monitor) route(ctx context.Context, queueURL string, event models.GranuleProcessingEvent, failureType string) error {
	body, err := json.Marshal(event.NewAttempt())
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", event.GranuleID, err)
	}
	if err := m.queue.Send(ctx, queueURL, string(body), map[string]string{
		FailureTypeAttribute: failureType,
	}); err != nil {
		return fmt.Errorf("route %s: %w", event.GranuleID, err)
	}
	return nil
}

// Poll drains one batch of state-change events from the monitor queue.
// Events that fail to handle are left for redelivery; only handled ones are
// deleted. Returns how many events were handled.
func (m *Monitor) Poll(ctx context.Context, queueURL string, batchSize int, wait time.Duration) (int, error) {
	messages, err := m.queue.Receive(ctx, queueURL, batchSize, wait)
	if err != nil {
		return 0, err
	}

	var handled []queue.Message
	for _, msg := range messages {
		if err := m.HandleEvent(ctx, []byte(msg.Body)); err != nil {
			m.log.WithField("message_id", msg.ID).WithError(err).Error("handling state change event")
			continue
		}
		handled = append(handled, msg)
	}

	failed, err := m.queue.DeleteBatch(ctx, queueURL, handled)
	if err != nil {
		return len(handled), err
	}
	for _, id := range failed {
		m.log.WithField("message_id", id).Warn("delete failed, event will redeliver")
	}
	return len(handled), nil
}
