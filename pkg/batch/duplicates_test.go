package batch

import (
	"context"
	"testing"
)

type fakeUploadStore struct {
	existing map[string]bool
	lookups  []string
}

func (f *fakeUploadStore) BatchExists(_ context.Context, batchID, _ string) (bool, error) {
	f.lookups = append(f.lookups, batchID)
	return f.existing[batchID], nil
}

func rowsWithBatchIDs(ids ...string) []BatchRow {
	rows := make([]BatchRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, BatchRow{BatchID: id, Quantity: 10})
	}
	return rows
}

func TestDuplicateDetectorFlagsRepeatsWithinSubmission(t *testing.T) {
	store := &fakeUploadStore{existing: map[string]bool{}}
	detector := NewDuplicateDetector(store)

	duplicates, err := detector.Check(context.Background(), "mfg-1", rowsWithBatchIDs("A", "B", "A", "A"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(duplicates) != 1 || duplicates[0] != "A" {
		t.Fatalf("expected [A], got %v", duplicates)
	}

	// The repeated id must be flagged from the seen-set, not re-queried.
	if len(store.lookups) != 2 {
		t.Fatalf("expected 2 storage lookups, got %v", store.lookups)
	}
}

func TestDuplicateDetectorFlagsPersistedBatches(t *testing.T) {
	store := &fakeUploadStore{existing: map[string]bool{"CT2024001": true, "CT2024003": true}}
	detector := NewDuplicateDetector(store)

	duplicates, err := detector.Check(context.Background(), "mfg-1", rowsWithBatchIDs("CT2024001", "CT2024002", "CT2024003"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(duplicates) != 2 {
		t.Fatalf("expected every conflicting id reported, got %v", duplicates)
	}
	if duplicates[0] != "CT2024001" || duplicates[1] != "CT2024003" {
		t.Fatalf("unexpected duplicates: %v", duplicates)
	}
}

func TestDuplicateDetectorCleanSubmission(t *testing.T) {
	store := &fakeUploadStore{existing: map[string]bool{}}
	detector := NewDuplicateDetector(store)

	duplicates, err := detector.Check(context.Background(), "mfg-1", rowsWithBatchIDs("A", "B", "C"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(duplicates) != 0 {
		t.Fatalf("expected no duplicates, got %v", duplicates)
	}
}
