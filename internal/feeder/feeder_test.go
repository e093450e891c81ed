package feeder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/parquet-go/parquet-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"granule-reprocessing/internal/blobstore"
	"granule-reprocessing/internal/catalog"
	"granule-reprocessing/internal/config"
	"granule-reprocessing/internal/ledger"
	"granule-reprocessing/internal/models"
)

type fakeBackend struct {
	capacity  bool
	checked   int
	submitted []models.GranuleProcessingEvent
	onSubmit  func(event models.GranuleProcessingEvent)
}

func (f *fakeBackend) HasCapacity(_ context.Context, _ int) (bool, error) {
	f.checked++
	return f.capacity, nil
}

func (f *fakeBackend) Submit(_ context.Context, event models.GranuleProcessingEvent) (string, error) {
	if f.onSubmit != nil {
		f.onSubmit(event)
	}
	f.submitted = append(f.submitted, event)
	return "job-" + event.GranuleID, nil
}

func newTestStore(t *testing.T) blobstore.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return blobstore.NewRedisStoreWithClient(client, "catalog-bucket")
}

func writeCatalog(t *testing.T, store blobstore.Store, key string, ids []string) {
	t.Helper()
	rows := make([]catalog.Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, catalog.Row{GranuleID: id, Status: catalog.StatusCompleted})
	}
	buf := new(bytes.Buffer)
	writer := parquet.NewGenericWriter[catalog.Row](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write parquet rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	if err := store.Put(context.Background(), key, buf.Bytes()); err != nil {
		t.Fatalf("store catalog %s: %v", key, err)
	}
}

func newTestFeeder(t *testing.T, store blobstore.Store, backend *fakeBackend) (*Feeder, *ledger.Service) {
	t.Helper()
	scanner, err := catalog.NewScanner(store, "inventory/", `.*granule.*\.parquet$`)
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	svc := ledger.NewService(store, scanner, "inventory", "progress.ndjson")
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := config.Config{
		MaxActiveJobs:      100,
		GranuleSubmitCount: 2,
		DebugBucket:        "debug-bucket",
	}
	return New(cfg, svc, backend, log), svc
}

func TestRunSkipsAtCapacity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	writeCatalog(t, store, "inventory/granule_report.parquet", []string{"A", "B"})

	backend := &fakeBackend{capacity: false}
	f, svc := newTestFeeder(t, store, backend)

	result, err := f.Run(ctx, RunRequest{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Skipped || result.Submitted != 0 {
		t.Fatalf("result: %+v", result)
	}
	if len(backend.submitted) != 0 {
		t.Fatalf("nothing should submit at capacity")
	}

	// Skipping happens before any ledger I/O; no ledger was created.
	if _, err := svc.Get(ctx); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("ledger should not exist after a skipped run, got %v", err)
	}
}

func TestRunCreatesLedgerAndCommits(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	writeCatalog(t, store, "inventory/granule_report.parquet", []string{"A", "B", "C"})

	backend := &fakeBackend{capacity: true}
	f, svc := newTestFeeder(t, store, backend)

	result, err := f.Run(ctx, RunRequest{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Submitted != 2 || result.Skipped || result.Complete {
		t.Fatalf("result: %+v", result)
	}
	if len(backend.submitted) != 2 || backend.submitted[0].GranuleID != "A" || backend.submitted[1].GranuleID != "B" {
		t.Fatalf("submitted: %+v", backend.submitted)
	}
	for _, event := range backend.submitted {
		if event.Attempt != 0 || event.DebugBucket != "" {
			t.Fatalf("fresh submission: %+v", event)
		}
	}

	tracking, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if got := tracking.Inventories[0].SubmittedCount; got != 2 {
		t.Fatalf("cursor: got %d want 2", got)
	}
}

func TestRunDrainsToCompletion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	writeCatalog(t, store, "inventory/granule_report.parquet", []string{"A", "B", "C"})

	backend := &fakeBackend{capacity: true}
	f, _ := newTestFeeder(t, store, backend)

	if _, err := f.Run(ctx, RunRequest{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	result, err := f.Run(ctx, RunRequest{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Submitted != 1 || !result.Complete {
		t.Fatalf("second run result: %+v", result)
	}

	result, err = f.Run(ctx, RunRequest{})
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if result.Submitted != 0 || !result.Complete {
		t.Fatalf("drained catalog must submit nothing, got %+v", result)
	}
	if len(backend.submitted) != 3 {
		t.Fatalf("total submissions: got %d want 3", len(backend.submitted))
	}
}

func TestDebugRunDoesNotAdvanceLedger(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	writeCatalog(t, store, "inventory/granule_report.parquet", []string{"A", "B"})

	backend := &fakeBackend{capacity: true}
	f, svc := newTestFeeder(t, store, backend)

	if _, err := f.Run(ctx, RunRequest{GranuleSubmitCount: 1, Debug: true}); err != nil {
		t.Fatalf("debug run: %v", err)
	}
	if len(backend.submitted) != 1 || backend.submitted[0].DebugBucket != "debug-bucket" {
		t.Fatalf("debug submission: %+v", backend.submitted)
	}

	tracking, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if got := tracking.Inventories[0].SubmittedCount; got != 0 {
		t.Fatalf("debug run must not advance the cursor, got %d", got)
	}

	// The next normal run draws the same granule again.
	if _, err := f.Run(ctx, RunRequest{GranuleSubmitCount: 1}); err != nil {
		t.Fatalf("normal run: %v", err)
	}
	if last := backend.submitted[len(backend.submitted)-1]; last.GranuleID != "A" || last.DebugBucket != "" {
		t.Fatalf("resubmission after debug: %+v", last)
	}
}

func TestRunAbortsOnLedgerConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	writeCatalog(t, store, "inventory/granule_report.parquet", []string{"A", "B"})

	backend := &fakeBackend{capacity: true}
	f, svc := newTestFeeder(t, store, backend)

	if _, err := svc.Create(ctx); err != nil {
		t.Fatalf("create ledger: %v", err)
	}

	// A concurrent writer commits between our read and our update.
	backend.onSubmit = func(models.GranuleProcessingEvent) {
		backend.onSubmit = nil
		other, err := svc.Get(ctx)
		if err != nil {
			t.Fatalf("concurrent get: %v", err)
		}
		if _, err := svc.NextGranuleIDs(ctx, other, 1); err != nil {
			t.Fatalf("concurrent draw: %v", err)
		}
		if err := svc.Update(ctx, other); err != nil {
			t.Fatalf("concurrent update: %v", err)
		}
	}

	_, err := f.Run(ctx, RunRequest{GranuleSubmitCount: 1})
	if !errors.Is(err, blobstore.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// The concurrent writer's commit stands.
	tracking, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if got := tracking.Inventories[0].SubmittedCount; got != 1 {
		t.Fatalf("cursor: got %d want 1 (concurrent commit only)", got)
	}
}

func TestRunCountOverride(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	writeCatalog(t, store, "inventory/granule_report.parquet", []string{"A", "B", "C"})

	backend := &fakeBackend{capacity: true}
	f, _ := newTestFeeder(t, store, backend)

	result, err := f.Run(ctx, RunRequest{GranuleSubmitCount: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Submitted != 3 || !result.Complete {
		t.Fatalf("result: %+v", result)
	}
}
