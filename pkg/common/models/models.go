package models

import "time"

// Stable error categories surfaced on every fatal pipeline path.
const (
	CategoryStructural  = "structural_error"
	CategoryValidation  = "validation_error"
	CategoryDuplicate   = "duplicate_batch"
	CategoryLedger      = "ledger_error"
	CategoryPersistence = "persistence_error"
	CategoryInternal    = "internal_error"
)

// ErrorResponse is the structured payload returned on every fatal path. The
// upload id and timestamp allow correlation with server-side logs.
type ErrorResponse struct {
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	UploadID  string    `json:"upload_id,omitempty"`
	Details   []string  `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SubmitResponse summarizes a completed submission.
type SubmitResponse struct {
	UploadID       string    `json:"upload_id"`
	Status         string    `json:"status"`
	TotalRows      int       `json:"total_rows"`
	TotalQuantity  int       `json:"total_quantity"`
	CodesRequested int       `json:"codes_requested"`
	CodesGenerated int       `json:"codes_generated"`
	LedgerTxHash   string    `json:"ledger_tx_hash"`
	Warnings       []string  `json:"warnings,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
