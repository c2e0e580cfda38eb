// Package progress holds the observable state of in-flight batch
// submissions, keyed by upload id. All writes for a given key originate from
// the single pipeline task processing that submission; reads come from
// independent polling requests.
package progress

import (
	"context"
	"errors"
	"sync"
)

type Stage string

const (
	StageValidation     Stage = "validation"
	StageBlockchain     Stage = "blockchain"
	StageCodeGeneration Stage = "code-generation"
	StagePersistence    Stage = "persistence"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

var ErrNotFound = errors.New("no progress recorded for this upload")

// State is the snapshot returned to polling clients. It is transient: a
// process restart loses all in-flight progress (the redis tracker hardens
// this with a per-key TTL).
type State struct {
	UploadID                  string `json:"upload_id"`
	Stage                     Stage  `json:"stage"`
	ProgressPercent           int    `json:"progress_percent"`
	Message                   string `json:"message"`
	TotalQuantity             int    `json:"total_quantity"`
	ProcessedQuantity         int    `json:"processed_quantity"`
	EstimatedSecondsRemaining int    `json:"estimated_seconds_remaining"`
	IsComplete                bool   `json:"is_complete"`
	Error                     string `json:"error,omitempty"`
}

// Update carries the fields to merge into the stored state. Nil fields are
// left untouched; set fields win unconditionally (last-write-wins). The
// tracker enforces no stage ordering — callers own monotonic progression.
type Update struct {
	Stage                     *Stage  `json:"stage,omitempty"`
	ProgressPercent           *int    `json:"progress_percent,omitempty"`
	Message                   *string `json:"message,omitempty"`
	TotalQuantity             *int    `json:"total_quantity,omitempty"`
	ProcessedQuantity         *int    `json:"processed_quantity,omitempty"`
	EstimatedSecondsRemaining *int    `json:"estimated_seconds_remaining,omitempty"`
	IsComplete                *bool   `json:"is_complete,omitempty"`
	Error                     *string `json:"error,omitempty"`
}

func (s *State) apply(u Update) {
	if u.Stage != nil {
		s.Stage = *u.Stage
	}
	if u.ProgressPercent != nil {
		s.ProgressPercent = *u.ProgressPercent
	}
	if u.Message != nil {
		s.Message = *u.Message
	}
	if u.TotalQuantity != nil {
		s.TotalQuantity = *u.TotalQuantity
	}
	if u.ProcessedQuantity != nil {
		s.ProcessedQuantity = *u.ProcessedQuantity
	}
	if u.EstimatedSecondsRemaining != nil {
		s.EstimatedSecondsRemaining = *u.EstimatedSecondsRemaining
	}
	if u.IsComplete != nil {
		s.IsComplete = *u.IsComplete
	}
	if u.Error != nil {
		s.Error = *u.Error
	}
}

// Tracker is the keyed progress store polled by clients.
type Tracker interface {
	Update(ctx context.Context, uploadID string, update Update) error
	Read(ctx context.Context, uploadID string) (*State, error)
	Clear(ctx context.Context, uploadID string) error
}

// MemoryTracker is the in-process default.
type MemoryTracker struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{states: make(map[string]State)}
}

func (t *MemoryTracker) Update(_ context.Context, uploadID string, update Update) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[uploadID]
	if !ok {
		state = State{UploadID: uploadID, Stage: StageValidation}
	}
	state.apply(update)
	t.states[uploadID] = state
	return nil
}

func (t *MemoryTracker) Read(_ context.Context, uploadID string) (*State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.states[uploadID]
	if !ok {
		return nil, ErrNotFound
	}
	return &state, nil
}

func (t *MemoryTracker) Clear(_ context.Context, uploadID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, uploadID)
	return nil
}

// Pointer helpers for building partial updates.

func StagePtr(s Stage) *Stage    { return &s }
func IntPtr(i int) *int          { return &i }
func StringPtr(s string) *string { return &s }
func BoolPtr(b bool) *bool       { return &b }
