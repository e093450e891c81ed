package batch

import (
	"encoding/json"
	"errors"
	"fmt"

	"granule-reprocessing/internal/models"
)

// ErrMalformedJobDetail marks a job state-change payload missing the
// granule event parameters this system writes at submission time. It should
// never fire for jobs we submitted; when it does it indicates a
// cross-version incompatibility and must be surfaced, not swallowed.
var ErrMalformedJobDetail = errors.New("job detail missing granule event parameters")

// StateChangeEvent is the envelope delivered for compute job state changes.
type StateChangeEvent struct {
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
}

// KeyValuePair is one container environment entry.
type KeyValuePair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ContainerDetail is the container slice of a job detail. A missing exit
// code means the container never reported one: the job was torn down by
// infrastructure (e.g. a spot interruption) rather than exiting on its own.
type ContainerDetail struct {
	ExitCode    *int           `json:"exitCode"`
	Environment []KeyValuePair `json:"environment"`
}

// JobDetail is the subset of a job state-change detail this system reads.
// The raw payload is retained verbatim for audit logging.
type JobDetail struct {
	JobID     string            `json:"jobId"`
	JobName   string            `json:"jobName"`
	JobQueue  string            `json:"jobQueue"`
	Status    string            `json:"status"`
	Attempts  []json.RawMessage `json:"attempts"`
	Container ContainerDetail   `json:"container"`

	raw json.RawMessage
}

// ParseJobDetail decodes a raw job detail payload, keeping the original
// bytes for audit.
func ParseJobDetail(raw json.RawMessage) (*JobDetail, error) {
	var detail JobDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("parse job detail: %w", err)
	}
	detail.raw = append(json.RawMessage(nil), raw...)
	return &detail, nil
}

// Raw returns the verbatim detail payload.
func (d *JobDetail) Raw() json.RawMessage {
	return d.raw
}

// AttemptCount is the number of attempts the backend has run internally.
func (d *JobDetail) AttemptCount() int {
	return len(d.Attempts)
}

// Outcome classifies the job attempt: exit code 0 is success, a missing
// exit code is an infrastructure-level termination and retryable, and any
// nonzero exit code is a defect and not retryable.
func (d *JobDetail) Outcome() models.JobOutcome {
	switch {
	case d.Container.ExitCode == nil:
		return models.JobFailureRetryable
	case *d.Container.ExitCode == 0:
		return models.JobSuccess
	default:
		return models.JobFailureNonretryable
	}
}

// GranuleEvent recovers the processing event embedded in the job's
// container environment at submission time.
func (d *JobDetail) GranuleEvent() (models.GranuleProcessingEvent, error) {
	env := make(map[string]string, len(d.Container.Environment))
	for _, kv := range d.Container.Environment {
		env[kv.Name] = kv.Value
	}
	event, err := models.EventFromEnv(env)
	if err != nil {
		return models.GranuleProcessingEvent{}, fmt.Errorf("job %s: %w: %v", d.JobID, ErrMalformedJobDetail, err)
	}
	return event, nil
}
