// Package catalog reads the immutable granule catalog: column-oriented
// inventory files listing every granule to reprocess.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/parquet-go/parquet-go"

	"granule-reprocessing/internal/blobstore"
)

// StatusCompleted marks catalog rows published by the upstream producer.
// Only these rows are eligible for submission.
const StatusCompleted = "completed"

// Row is the subset of catalog columns this system reads. Files may carry
// more columns; they are ignored.
type Row struct {
	GranuleID string `parquet:"granule_id"`
	Status    string `parquet:"status"`
}

// Scanner discovers catalog files under a prefix and reads row windows out
// of them.
type Scanner struct {
	store   blobstore.Store
	prefix  string
	pattern *regexp.Regexp
}

// NewScanner builds a scanner over the given store and prefix. The pattern
// selects catalog files out of the listing; everything else under the prefix
// (including the progress ledger) is ignored.
func NewScanner(store blobstore.Store, prefix, pattern string) (*Scanner, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile catalog pattern %q: %w", pattern, err)
	}
	return &Scanner{store: store, prefix: prefix, pattern: re}, nil
}

// Discover lists catalog file keys in lexicographic order. The order is
// stable across processes so ledger traversal is deterministic.
func (s *Scanner) Discover(ctx context.Context) ([]string, error) {
	keys, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("discover catalog files: %w", err)
	}
	var matched []string
	for _, key := range keys {
		if s.pattern.MatchString(key) {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

// RowCount returns the total number of rows in a catalog file, eligible or
// not. This is the ledger's total-work denominator.
func (s *Scanner) RowCount(ctx context.Context, key string) (int64, error) {
	obj, err := s.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("row count %s: %w", key, err)
	}
	f, err := parquet.OpenFile(bytes.NewReader(obj.Body), int64(len(obj.Body)))
	if err != nil {
		return 0, fmt.Errorf("open catalog %s: %w", key, err)
	}
	return f.NumRows(), nil
}

// ReadRows reads the [offset, offset+count) row window of a catalog file and
// returns the granule IDs of rows with completed status. Rows with any other
// status are skipped but still counted: the returned consumed count is the
// number of physical rows read, which is what the ledger cursor advances by.
func (s *Scanner) ReadRows(ctx context.Context, key string, offset, count int64) (ids []string, consumed int64, err error) {
	obj, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("read rows %s: %w", key, err)
	}

	reader := parquet.NewGenericReader[Row](bytes.NewReader(obj.Body))
	defer reader.Close()

	if offset > 0 {
		if err := reader.SeekToRow(offset); err != nil {
			return nil, 0, fmt.Errorf("seek %s to row %d: %w", key, offset, err)
		}
	}

	buf := make([]Row, count)
	for consumed < count {
		n, err := reader.Read(buf[:count-consumed])
		for _, row := range buf[:n] {
			if row.Status == StatusCompleted {
				ids = append(ids, row.GranuleID)
			}
		}
		consumed += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("read %s: %w", key, err)
		}
		if n == 0 {
			break
		}
	}
	return ids, consumed, nil
}
