// Package feeder drives admission-controlled granule submission: on each
// run it checks backend capacity, draws the next batch of granule IDs from
// the progress ledger, submits them, and commits the advanced cursor.
package feeder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"granule-reprocessing/internal/blobstore"
	"granule-reprocessing/internal/config"
	"granule-reprocessing/internal/ledger"
	"granule-reprocessing/internal/models"
	"granule-reprocessing/internal/telemetry"
)

type submitter interface {
	HasCapacity(ctx context.Context, threshold int) (bool, error)
	Submit(ctx context.Context, event models.GranuleProcessingEvent) (string, error)
}

// RunRequest overrides the defaults for one feeder run. The zero value runs
// with the configured submit count in normal mode.
type RunRequest struct {
	// GranuleSubmitCount caps the granules drawn this run; zero means the
	// configured default.
	GranuleSubmitCount int64 `json:"granule_submit_count"`
	// Debug submits with output redirected to the debug bucket and leaves
	// the ledger cursor unchanged, so the same granules resubmit next run.
	Debug bool `json:"debug"`
}

// RunResult summarizes one feeder run.
type RunResult struct {
	RunID     string `json:"run_id"`
	Submitted int    `json:"submitted"`
	Skipped   bool   `json:"skipped"`
	Complete  bool   `json:"complete"`
}

// Feeder submits granules from the catalog in ledger order.
type Feeder struct {
	ledger        *ledger.Service
	backend       submitter
	maxActiveJobs int
	submitCount   int64
	debugBucket   string
	log           *logrus.Logger
}

// New builds a feeder.
func New(cfg config.Config, svc *ledger.Service, backend submitter, log *logrus.Logger) *Feeder {
	return &Feeder{
		ledger:        svc,
		backend:       backend,
		maxActiveJobs: cfg.MaxActiveJobs,
		submitCount:   int64(cfg.GranuleSubmitCount),
		debugBucket:   cfg.DebugBucket,
		log:           log,
	}
}

// Run performs one feeder invocation. When the backend is at capacity the
// run is skipped before any ledger I/O. In debug mode the cursor advance is
// not committed. A ledger commit lost to a concurrent writer aborts the run
// with an error wrapping blobstore.ErrConflict; the submitted jobs are
// already in flight and the next run re-reads the committed cursor.
func (f *Feeder) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	result := RunResult{RunID: uuid.NewString()}
	logger := f.log.WithField("run_id", result.RunID)

	count := req.GranuleSubmitCount
	if count <= 0 {
		count = f.submitCount
	}

	ok, err := f.backend.HasCapacity(ctx, f.maxActiveJobs)
	if err != nil {
		return result, fmt.Errorf("check capacity: %w", err)
	}
	if !ok {
		telemetry.CapacitySkips.Inc()
		logger.WithField("max_active_jobs", f.maxActiveJobs).Info("backend at capacity, skipping run")
		result.Skipped = true
		return result, nil
	}

	tracking, err := f.ledger.Get(ctx)
	if errors.Is(err, blobstore.ErrNotFound) {
		logger.Info("no ledger found, enumerating catalog")
		tracking, err = f.ledger.Create(ctx)
	}
	if err != nil {
		return result, err
	}

	if tracking.IsComplete() {
		logger.Info("all inventories drained, nothing to submit")
		result.Complete = true
		return result, nil
	}

	ids, err := f.ledger.NextGranuleIDs(ctx, tracking, count)
	if err != nil {
		return result, err
	}

	for _, id := range ids {
		event := models.GranuleProcessingEvent{GranuleID: id}
		if req.Debug {
			event.DebugBucket = f.debugBucket
		}
		jobID, err := f.backend.Submit(ctx, event)
		if err != nil {
			return result, err
		}
		telemetry.GranulesSubmitted.Inc()
		logger.WithFields(logrus.Fields{
			"granule_id": id,
			"job_id":     jobID,
		}).Debug("granule submitted")
		result.Submitted++
	}

	if req.Debug {
		logger.WithField("submitted", result.Submitted).
			Info("debug run, ledger not advanced")
		return result, nil
	}

	if err := f.ledger.Update(ctx, tracking); err != nil {
		if errors.Is(err, blobstore.ErrConflict) {
			telemetry.LedgerConflicts.Inc()
			logger.Warn("ledger advanced by a concurrent writer, aborting run")
		}
		return result, err
	}

	result.Complete = tracking.IsComplete()
	logger.WithFields(logrus.Fields{
		"submitted": result.Submitted,
		"complete":  result.Complete,
	}).Info("run committed")
	return result, nil
}
