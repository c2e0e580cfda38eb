package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryTrackerCreatesWithDefaults(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	err := tracker.Update(ctx, "u1", Update{Message: StringPtr("starting")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := tracker.Read(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.UploadID != "u1" || state.Stage != StageValidation {
		t.Fatalf("unexpected defaults: %+v", state)
	}
	if state.Message != "starting" {
		t.Fatalf("expected merged message, got %q", state.Message)
	}
}

func TestMemoryTrackerMergesPartialUpdates(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	_ = tracker.Update(ctx, "u1", Update{
		Stage:         StagePtr(StageBlockchain),
		TotalQuantity: IntPtr(500),
		Message:       StringPtr("recording batch"),
	})
	_ = tracker.Update(ctx, "u1", Update{
		ProcessedQuantity: IntPtr(120),
		ProgressPercent:   IntPtr(24),
	})

	state, err := tracker.Read(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Stage != StageBlockchain {
		t.Fatalf("stage overwritten by partial update: %v", state.Stage)
	}
	if state.TotalQuantity != 500 || state.ProcessedQuantity != 120 || state.ProgressPercent != 24 {
		t.Fatalf("merge lost fields: %+v", state)
	}
	if state.Message != "recording batch" {
		t.Fatalf("untouched field changed: %q", state.Message)
	}
}

func TestMemoryTrackerReadUnknownKey(t *testing.T) {
	tracker := NewMemoryTracker()

	_, err := tracker.Read(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryTrackerClear(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	_ = tracker.Update(ctx, "u1", Update{Message: StringPtr("x")})
	if err := tracker.Clear(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tracker.Read(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cleared key to be gone, got %v", err)
	}

	// Clearing again is idempotent.
	if err := tracker.Clear(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error on second clear: %v", err)
	}
}

func TestMemoryTrackerConcurrentReadersSingleWriter(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i <= 100; i++ {
			_ = tracker.Update(ctx, "u1", Update{ProcessedQuantity: IntPtr(i)})
		}
		close(done)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					if state, err := tracker.Read(ctx, "u1"); err == nil {
						if state.ProcessedQuantity < 0 || state.ProcessedQuantity > 100 {
							t.Errorf("torn read: %+v", state)
							return
						}
					}
				}
			}
		}()
	}

	wg.Wait()

	state, err := tracker.Read(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.ProcessedQuantity != 100 {
		t.Fatalf("expected last write to win, got %d", state.ProcessedQuantity)
	}
}
