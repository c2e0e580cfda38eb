package batch

import (
	"context"
	"fmt"
)

// UploadStore is the slice of the persistence collaborator the duplicate
// detector consumes.
type UploadStore interface {
	BatchExists(ctx context.Context, batchID, submitterID string) (bool, error)
}

// DuplicateDetector finds batch identifiers that would violate global
// uniqueness before any ledger resources are committed.
type DuplicateDetector struct {
	store UploadStore
}

func NewDuplicateDetector(store UploadStore) *DuplicateDetector {
	return &DuplicateDetector{store: store}
}

// Check returns every conflicting batch identifier in the submission, both
// repeats within the file and identifiers already persisted for the same
// submitter. It never stops at the first hit; the caller aborts the whole
// submission when the returned list is non-empty.
func (d *DuplicateDetector) Check(ctx context.Context, submitterID string, rows []BatchRow) ([]string, error) {
	seen := make(map[string]struct{}, len(rows))
	flagged := make(map[string]struct{})
	var duplicates []string

	for _, row := range rows {
		id := row.BatchID
		if id == "" {
			continue
		}

		if _, ok := seen[id]; ok {
			if _, already := flagged[id]; !already {
				flagged[id] = struct{}{}
				duplicates = append(duplicates, id)
			}
			continue
		}
		seen[id] = struct{}{}

		exists, err := d.store.BatchExists(ctx, id, submitterID)
		if err != nil {
			return nil, fmt.Errorf("checking batch %q: %w", id, err)
		}
		if exists {
			flagged[id] = struct{}{}
			duplicates = append(duplicates, id)
		}
	}

	return duplicates, nil
}
