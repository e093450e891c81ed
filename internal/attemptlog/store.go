// Package attemptlog stores the outcome of every granule processing attempt
// in the blob store, partitioned by outcome first: operators scan failures
// far more often than successes, so failures stay cheap to enumerate.
//
// Keys follow
//
//	{prefix}/outcome={o}/platform={p}/acquisition_date={d}/granule_id={g}/attempt={n}.json
//
// Once a granule eventually succeeds, its failure logs are promoted into
// the success partition and deleted from the failure partition. Promotion
// is best-effort cleanup (copy then delete is not atomic); the success
// partition remains the durable record regardless.
package attemptlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"granule-reprocessing/internal/batch"
	"granule-reprocessing/internal/blobstore"
	"granule-reprocessing/internal/models"
)

// Record is one logged attempt. JobInfo is the backend's detail payload,
// stored verbatim for audit.
type Record struct {
	GranuleID string            `json:"granule_id"`
	Attempt   int               `json:"attempt"`
	Outcome   models.JobOutcome `json:"outcome"`
	JobInfo   json.RawMessage   `json:"job_info"`
}

var (
	logKeyRegexp = regexp.MustCompile(strings.Join([]string{
		`outcome=(?P<outcome>\w+)`,
		`platform=(?P<platform>\w+)`,
		`acquisition_date=(?P<date>[\d-]+)`,
		`granule_id=(?P<granule_id>[\w\.]+)`,
		`attempt=(?P<attempt>[0-9]+)\.json$`,
	}, "/"))
	attemptNameRegexp = regexp.MustCompile(`^attempt=[0-9]+\.json$`)
)

// Store reads and writes attempt logs under one prefix.
type Store struct {
	blobs  blobstore.Store
	prefix string
}

// NewStore builds an attempt log store.
func NewStore(blobs blobstore.Store, prefix string) *Store {
	return &Store{blobs: blobs, prefix: strings.TrimSuffix(prefix, "/")}
}

func (s *Store) granulePrefix(id models.GranuleID, outcome models.ProcessingOutcome) string {
	return strings.Join([]string{
		s.prefix,
		"outcome=" + string(outcome),
		"platform=" + id.Platform,
		"acquisition_date=" + id.AcquisitionDate(),
		"granule_id=" + id.String(),
	}, "/") + "/"
}

func (s *Store) keyFor(event models.GranuleProcessingEvent, outcome models.ProcessingOutcome) (string, error) {
	id, err := models.ParseGranuleID(event.GranuleID)
	if err != nil {
		return "", err
	}
	return s.granulePrefix(id, outcome) + "attempt=" + strconv.Itoa(event.Attempt) + ".json", nil
}

// eventFromKey is the inverse of keyFor.
func (s *Store) eventFromKey(key string) (models.GranuleProcessingEvent, models.ProcessingOutcome, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
	match := logKeyRegexp.FindStringSubmatch(rel)
	if match == nil {
		return models.GranuleProcessingEvent{}, "", fmt.Errorf("cannot parse attempt log key %q", key)
	}
	groups := make(map[string]string, len(match))
	for i, name := range logKeyRegexp.SubexpNames() {
		if name != "" {
			groups[name] = match[i]
		}
	}
	attempt, err := strconv.Atoi(groups["attempt"])
	if err != nil {
		return models.GranuleProcessingEvent{}, "", fmt.Errorf("attempt log key %q: %w", key, err)
	}
	return models.GranuleProcessingEvent{GranuleID: groups["granule_id"], Attempt: attempt},
		models.ProcessingOutcome(groups["outcome"]), nil
}

// Put logs the attempt described by a job detail under its outcome
// partition. A successful attempt then promotes any failure logs for the
// same granule into the success partition.
func (s *Store) Put(ctx context.Context, detail *batch.JobDetail) error {
	event, err := detail.GranuleEvent()
	if err != nil {
		return err
	}
	outcome := detail.Outcome()

	key, err := s.keyFor(event, outcome.ProcessingOutcome())
	if err != nil {
		return err
	}
	body, err := json.Marshal(Record{
		GranuleID: event.GranuleID,
		Attempt:   event.Attempt,
		Outcome:   outcome,
		JobInfo:   detail.Raw(),
	})
	if err != nil {
		return fmt.Errorf("marshal attempt log: %w", err)
	}
	if err := s.blobs.Put(ctx, key, body); err != nil {
		return fmt.Errorf("write attempt log: %w", err)
	}

	if outcome.ProcessingOutcome() == models.OutcomeSuccess {
		return s.promoteFailures(ctx, event.GranuleID)
	}
	return nil
}

// promoteFailures moves every failure log for a granule into the success
// partition. A concurrent promotion may have removed a log already; a
// missing source is not an error.
func (s *Store) promoteFailures(ctx context.Context, granuleID string) error {
	keys, err := s.listKeys(ctx, granuleID, models.OutcomeFailure)
	if err != nil {
		return err
	}
	for _, key := range keys {
		event, _, err := s.eventFromKey(key)
		if err != nil {
			return err
		}
		dst, err := s.keyFor(event, models.OutcomeSuccess)
		if err != nil {
			return err
		}
		if err := s.blobs.Copy(ctx, key, dst); err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				continue
			}
			return fmt.Errorf("promote %s: %w", key, err)
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("promote %s: %w", key, err)
		}
	}
	return nil
}

// Get returns the logged record for a granule attempt, checking each
// outcome partition. Returns blobstore.ErrNotFound when the attempt was
// never logged.
func (s *Store) Get(ctx context.Context, event models.GranuleProcessingEvent) (Record, error) {
	for _, outcome := range models.Outcomes {
		key, err := s.keyFor(event, outcome)
		if err != nil {
			return Record{}, err
		}
		obj, err := s.blobs.Get(ctx, key)
		if errors.Is(err, blobstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		var record Record
		if err := json.Unmarshal(obj.Body, &record); err != nil {
			return Record{}, fmt.Errorf("parse attempt log %s: %w", key, err)
		}
		return record, nil
	}
	return Record{}, fmt.Errorf("attempt logs for %s attempt %d: %w", event.GranuleID, event.Attempt, blobstore.ErrNotFound)
}

// List returns the logged events for a granule grouped by outcome. With no
// outcomes given, both partitions are scanned.
func (s *Store) List(ctx context.Context, granuleID string, outcomes ...models.ProcessingOutcome) (map[models.ProcessingOutcome][]models.GranuleProcessingEvent, error) {
	if len(outcomes) == 0 {
		outcomes = models.Outcomes
	}
	events := make(map[models.ProcessingOutcome][]models.GranuleProcessingEvent)
	for _, outcome := range outcomes {
		keys, err := s.listKeys(ctx, granuleID, outcome)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			event, got, err := s.eventFromKey(key)
			if err != nil {
				return nil, err
			}
			events[got] = append(events[got], event)
		}
	}
	return events, nil
}

func (s *Store) listKeys(ctx context.Context, granuleID string, outcome models.ProcessingOutcome) ([]string, error) {
	id, err := models.ParseGranuleID(granuleID)
	if err != nil {
		return nil, err
	}
	keys, err := s.blobs.List(ctx, s.granulePrefix(id, outcome))
	if err != nil {
		return nil, fmt.Errorf("list %s logs for %s: %w", outcome, granuleID, err)
	}
	var matched []string
	for _, key := range keys {
		if attemptNameRegexp.MatchString(path.Base(key)) {
			matched = append(matched, key)
		}
	}
	return matched, nil
}
