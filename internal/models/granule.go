package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Granule identifiers embed their acquisition time as year + day-of-year,
// e.g. "2019059T213751".
const granuleTimeLayout = "2006002T150405"

// GranuleID is the structured form of a granule identifier string such as
// "HLS.S30.T01GEL.2019059T213751.v2.0". Parsing and formatting round-trip
// losslessly.
type GranuleID struct {
	Product       string
	Platform      string
	Tile          string
	BeginDateTime time.Time
	Version       string
}

// ParseGranuleID parses the dotted identifier string into its components.
func ParseGranuleID(s string) (GranuleID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 6 {
		return GranuleID{}, fmt.Errorf("granule id %q: want 6 dot-separated parts, got %d", s, len(parts))
	}
	begin, err := time.Parse(granuleTimeLayout, parts[3])
	if err != nil {
		return GranuleID{}, fmt.Errorf("granule id %q: parse acquisition time: %w", s, err)
	}
	return GranuleID{
		Product:       parts[0],
		Platform:      parts[1],
		Tile:          parts[2],
		BeginDateTime: begin,
		Version:       parts[4] + "." + parts[5],
	}, nil
}

// String recombines the components into the identifier string.
func (g GranuleID) String() string {
	return strings.Join([]string{
		g.Product,
		g.Platform,
		g.Tile,
		g.BeginDateTime.Format(granuleTimeLayout),
		g.Version,
	}, ".")
}

// AcquisitionDate is the calendar date used for log partitioning.
func (g GranuleID) AcquisitionDate() string {
	return g.BeginDateTime.Format("2006-01-02")
}

// Environment variable names carrying the processing event through the
// compute backend and back out of its job state-change events.
const (
	EnvGranuleID   = "GRANULE_ID"
	EnvAttempt     = "ATTEMPT"
	EnvDebugBucket = "DEBUG_BUCKET"
)

// GranuleProcessingEvent describes one processing attempt for a granule.
// Values are immutable; NewAttempt derives the successor event.
type GranuleProcessingEvent struct {
	GranuleID string `json:"granule_id"`
	Attempt   int    `json:"attempt"`
	// DebugBucket redirects job output when set; it is carried through
	// every subsequent attempt.
	DebugBucket string `json:"debug_bucket,omitempty"`
}

// NewAttempt returns the event for the next attempt of the same granule.
func (e GranuleProcessingEvent) NewAttempt() GranuleProcessingEvent {
	return GranuleProcessingEvent{
		GranuleID:   e.GranuleID,
		Attempt:     e.Attempt + 1,
		DebugBucket: e.DebugBucket,
	}
}

// ToEnv formats the event as environment variables for a job container.
func (e GranuleProcessingEvent) ToEnv() map[string]string {
	env := map[string]string{
		EnvGranuleID: e.GranuleID,
		EnvAttempt:   strconv.Itoa(e.Attempt),
	}
	if e.DebugBucket != "" {
		env[EnvDebugBucket] = e.DebugBucket
	}
	return env
}

// EventFromEnv recovers an event from job container environment variables.
// It is the inverse of ToEnv.
func EventFromEnv(env map[string]string) (GranuleProcessingEvent, error) {
	id, ok := env[EnvGranuleID]
	if !ok {
		return GranuleProcessingEvent{}, fmt.Errorf("missing %s", EnvGranuleID)
	}
	rawAttempt, ok := env[EnvAttempt]
	if !ok {
		return GranuleProcessingEvent{}, fmt.Errorf("missing %s", EnvAttempt)
	}
	attempt, err := strconv.Atoi(rawAttempt)
	if err != nil {
		return GranuleProcessingEvent{}, fmt.Errorf("parse %s: %w", EnvAttempt, err)
	}
	return GranuleProcessingEvent{
		GranuleID:   id,
		Attempt:     attempt,
		DebugBucket: env[EnvDebugBucket],
	}, nil
}

// ProcessingOutcome is the coarse outcome used for log partitioning. A
// granule's processing ultimately either succeeded or failed, regardless of
// how individual job attempts failed.
type ProcessingOutcome string

const (
	OutcomeSuccess ProcessingOutcome = "success"
	OutcomeFailure ProcessingOutcome = "failure"
)

// Outcomes lists the processing outcomes in partition-scan order.
var Outcomes = []ProcessingOutcome{OutcomeSuccess, OutcomeFailure}

// JobOutcome classifies one compute job attempt. Failures are split by
// whether the cause was infrastructure (retryable) or the job itself
// (not retryable).
type JobOutcome string

const (
	JobSuccess             JobOutcome = "SUCCESS"
	JobFailureRetryable    JobOutcome = "FAILURE_RETRYABLE"
	JobFailureNonretryable JobOutcome = "FAILURE_NONRETRYABLE"
)

// ProcessingOutcome projects the job outcome onto success/failure.
func (o JobOutcome) ProcessingOutcome() ProcessingOutcome {
	if o == JobSuccess {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
