// Package ledger is the durable record of submission progress through the
// granule catalog. The ledger is one blob-store object, replaced whole under
// optimistic concurrency; it is never partially updated.
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
)

// InventoryProgress records progression through one catalog file.
type InventoryProgress struct {
	// Inventory is the blob key of the catalog file.
	Inventory string `json:"inventory"`
	// SubmittedCount is the cursor: how many rows have been consumed.
	SubmittedCount int64 `json:"submitted_count"`
	// TotalCount is the row count of the file.
	TotalCount int64 `json:"total_count"`
}

// Identifier names this inventory within the tracking set.
func (p *InventoryProgress) Identifier() string {
	return path.Base(p.Inventory)
}

// IsComplete reports whether every row has been consumed.
func (p *InventoryProgress) IsComplete() bool {
	return p.SubmittedCount == p.TotalCount
}

// InventoryTracking records progress through all catalog files, in discovery
// order, plus the concurrency token observed when it was read.
type InventoryTracking struct {
	Inventories []*InventoryProgress
	Token       string
}

// IsComplete reports whether every inventory has been fully consumed.
func (t *InventoryTracking) IsComplete() bool {
	for _, inv := range t.Inventories {
		if !inv.IsComplete() {
			return false
		}
	}
	return true
}

// NextInventory returns the first incomplete inventory in discovery order,
// or nil when the catalog has been fully submitted. The order is fixed at
// creation time, so traversal resumes deterministically across invocations.
func (t *InventoryTracking) NextInventory() *InventoryProgress {
	for _, inv := range t.Inventories {
		if !inv.IsComplete() {
			return inv
		}
	}
	return nil
}

// Increment advances an inventory's cursor by n consumed rows and returns
// the new count. The cursor never exceeds the total.
func (t *InventoryTracking) Increment(inv *InventoryProgress, n int64) (int64, error) {
	for _, candidate := range t.Inventories {
		if candidate.Identifier() != inv.Identifier() {
			continue
		}
		if next := candidate.SubmittedCount + n; n < 0 || next > candidate.TotalCount {
			return 0, fmt.Errorf("inventory %s: advancing cursor by %d from %d exceeds total %d",
				candidate.Identifier(), n, candidate.SubmittedCount, candidate.TotalCount)
		}
		candidate.SubmittedCount += n
		return candidate.SubmittedCount, nil
	}
	return 0, fmt.Errorf("inventory %s not tracked", inv.Identifier())
}

// MarshalNDJSON serializes the tracking as newline-delimited JSON, one
// record per inventory, in order.
func (t *InventoryTracking) MarshalNDJSON() ([]byte, error) {
	var buf bytes.Buffer
	for i, inv := range t.Inventories {
		if i > 0 {
			buf.WriteByte('\n')
		}
		line, err := json.Marshal(inv)
		if err != nil {
			return nil, fmt.Errorf("marshal inventory %s: %w", inv.Identifier(), err)
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

// ParseNDJSON loads tracking from its serialized form.
func ParseNDJSON(data []byte, token string) (*InventoryTracking, error) {
	tracking := &InventoryTracking{Token: token}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var inv InventoryProgress
		if err := json.Unmarshal(line, &inv); err != nil {
			return nil, fmt.Errorf("parse ledger line %q: %w", line, err)
		}
		tracking.Inventories = append(tracking.Inventories, &inv)
	}
	return tracking, nil
}
