package ledger

import (
	"context"
	"fmt"
	"strings"

	"granule-reprocessing/internal/blobstore"
	"granule-reprocessing/internal/catalog"
)

// Service persists inventory tracking in the blob store under optimistic
// concurrency. Conflicts are surfaced to the caller, never retried here:
// the feeder decides whether to abort and let the next scheduled invocation
// pick up.
type Service struct {
	store      blobstore.Store
	scanner    *catalog.Scanner
	prefix     string
	objectName string
}

// NewService builds a ledger service. The ledger object lives at
// prefix/objectName alongside the catalog files.
func NewService(store blobstore.Store, scanner *catalog.Scanner, prefix, objectName string) *Service {
	if objectName == "" {
		objectName = "progress.ndjson"
	}
	return &Service{store: store, scanner: scanner, prefix: prefix, objectName: objectName}
}

func (s *Service) trackingKey() string {
	return strings.TrimSuffix(s.prefix, "/") + "/" + s.objectName
}

// Create enumerates the catalog and writes a fresh ledger with every cursor
// at zero. The write is conditional on the object not existing, so a
// concurrent initializer cannot be clobbered; the loser gets
// blobstore.ErrConflict.
func (s *Service) Create(ctx context.Context) (*InventoryTracking, error) {
	keys, err := s.scanner.Discover(ctx)
	if err != nil {
		return nil, err
	}

	tracking := &InventoryTracking{}
	for _, key := range keys {
		total, err := s.scanner.RowCount(ctx, key)
		if err != nil {
			return nil, err
		}
		tracking.Inventories = append(tracking.Inventories, &InventoryProgress{
			Inventory:      key,
			SubmittedCount: 0,
			TotalCount:     total,
		})
	}

	body, err := tracking.MarshalNDJSON()
	if err != nil {
		return nil, err
	}
	token, err := s.store.PutIfAbsent(ctx, s.trackingKey(), body)
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	tracking.Token = token
	return tracking, nil
}

// Get reads the current ledger. Returns blobstore.ErrNotFound when no
// ledger exists yet; callers create one first.
func (s *Service) Get(ctx context.Context) (*InventoryTracking, error) {
	obj, err := s.store.Get(ctx, s.trackingKey())
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	return ParseNDJSON(obj.Body, obj.Token)
}

// Update replaces the ledger, conditional on the token it was read with.
// On success the tracking carries the fresh token; on a lost race the error
// wraps blobstore.ErrConflict and the ledger object is untouched.
func (s *Service) Update(ctx context.Context, tracking *InventoryTracking) error {
	body, err := tracking.MarshalNDJSON()
	if err != nil {
		return err
	}
	token, err := s.store.PutIfMatch(ctx, s.trackingKey(), body, tracking.Token)
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	tracking.Token = token
	return nil
}

// NextGranuleIDs returns up to count granule IDs eligible for submission
// from the current incomplete inventory, advancing the in-memory cursor by
// the rows consumed. Rows without completed status are skipped but still
// consume cursor positions. The caller persists the advance via Update.
func (s *Service) NextGranuleIDs(ctx context.Context, tracking *InventoryTracking, count int64) ([]string, error) {
	inv := tracking.NextInventory()
	if inv == nil {
		return nil, nil
	}

	window := count
	if remaining := inv.TotalCount - inv.SubmittedCount; window > remaining {
		window = remaining
	}

	ids, consumed, err := s.scanner.ReadRows(ctx, inv.Inventory, inv.SubmittedCount, window)
	if err != nil {
		return nil, err
	}
	if consumed != window {
		return nil, fmt.Errorf("inventory %s: read %d rows at offset %d, want %d; catalog shorter than recorded total %d",
			inv.Identifier(), consumed, inv.SubmittedCount, window, inv.TotalCount)
	}

	if _, err := tracking.Increment(inv, consumed); err != nil {
		return nil, err
	}
	return ids, nil
}
