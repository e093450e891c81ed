// Package requeuer resubmits retryable failures: it drains the retry queue
// and submits each event as a fresh job attempt.
package requeuer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"granule-reprocessing/internal/config"
	"granule-reprocessing/internal/models"
	"granule-reprocessing/internal/queue"
	"granule-reprocessing/internal/telemetry"
)

type submitter interface {
	Submit(ctx context.Context, event models.GranuleProcessingEvent) (string, error)
}

type workQueue interface {
	Receive(ctx context.Context, queueURL string, max int, wait time.Duration) ([]queue.Message, error)
	DeleteBatch(ctx context.Context, queueURL string, messages []queue.Message) ([]string, error)
}

// Requeuer drains the retry queue into the compute backend.
type Requeuer struct {
	backend       submitter
	queue         workQueue
	retryQueueURL string
	batchSize     int
	receiveWait   time.Duration
	log           *logrus.Logger
}

// New builds a requeuer.
func New(cfg config.Config, backend submitter, q workQueue, log *logrus.Logger) *Requeuer {
	return &Requeuer{
		backend:       backend,
		queue:         q,
		retryQueueURL: cfg.RetryQueueURL,
		batchSize:     cfg.ReceiveBatchSize,
		receiveWait:   cfg.ReceiveWait,
		log:           log,
	}
}

// DrainOnce receives one batch from the retry queue and resubmits each
// event as a new attempt. Messages that fail to parse or submit stay on the
// queue for redelivery; only resubmitted ones are deleted. Returns how many
// events were resubmitted.
func (r *Requeuer) DrainOnce(ctx context.Context) (int, error) {
	messages, err := r.queue.Receive(ctx, r.retryQueueURL, r.batchSize, r.receiveWait)
	if err != nil {
		return 0, err
	}

	var resubmitted []queue.Message
	for _, msg := range messages {
		var event models.GranuleProcessingEvent
		if err := json.Unmarshal([]byte(msg.Body), &event); err != nil {
			telemetry.RequeueFailures.Inc()
			r.log.WithField("message_id", msg.ID).WithError(err).Error("parsing retry message")
			continue
		}

		next := event.NewAttempt()
		jobID, err := r.backend.Submit(ctx, next)
		if err != nil {
			telemetry.RequeueFailures.Inc()
			r.log.WithFields(logrus.Fields{
				"granule_id": next.GranuleID,
				"attempt":    next.Attempt,
			}).WithError(err).Error("resubmitting granule")
			continue
		}

		r.log.WithFields(logrus.Fields{
			"granule_id": next.GranuleID,
			"attempt":    next.Attempt,
			"job_id":     jobID,
		}).Info("granule resubmitted")
		resubmitted = append(resubmitted, msg)
	}

	failed, err := r.queue.DeleteBatch(ctx, r.retryQueueURL, resubmitted)
	if err != nil {
		return len(resubmitted), err
	}
	for _, id := range failed {
		r.log.WithField("message_id", id).Warn("delete failed, retry message will redeliver")
	}
	return len(resubmitted), nil
}

// Run drains the retry queue on the configured interval until the context is
// canceled.
func (r *Requeuer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.DrainOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.WithError(err).Error("draining retry queue")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
