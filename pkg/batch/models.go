package batch

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// BatchRow is one parsed input record. Immutable once parsed.
type BatchRow struct {
	DrugName          string    `json:"drug_name"`
	BatchID           string    `json:"batch_id"`
	Quantity          int       `json:"quantity"`
	Manufacturer      string    `json:"manufacturer"`
	Location          string    `json:"location"`
	ExpiryDate        time.Time `json:"expiry_date"`
	NAFDACNumber      string    `json:"nafdac_number"`
	ManufacturingDate time.Time `json:"manufacturing_date"`
	ActiveIngredient  string    `json:"active_ingredient"`
	DosageForm        string    `json:"dosage_form"`
	Strength          string    `json:"strength"`
	PackageSize       string    `json:"package_size"`
	StorageConditions string    `json:"storage_conditions"`
	Description       string    `json:"description,omitempty"`
}

// Issue is one row-level finding. Row is 1-based over data rows; row 0 marks
// a file-level finding.
type Issue struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Row == 0 {
		return fmt.Sprintf("file: %s", i.Message)
	}
	return fmt.Sprintf("row %d, %s: %s", i.Row, i.Field, i.Message)
}

// ValidationResult accumulates every finding across the file. It is created
// once per submission and never mutated afterwards.
type ValidationResult struct {
	IsValid     bool       `json:"is_valid"`
	Errors      []Issue    `json:"errors"`
	Warnings    []Issue    `json:"warnings"`
	TotalRows   int        `json:"total_rows"`
	ValidRows   int        `json:"valid_rows"`
	InvalidRows int        `json:"invalid_rows"`
	Rows        []BatchRow `json:"rows"`
}

func (r *ValidationResult) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		out = append(out, issue.String())
	}
	return out
}

func (r *ValidationResult) WarningStrings() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, issue := range r.Warnings {
		out = append(out, issue.String())
	}
	return out
}

// TotalQuantity sums the declared quantities across all parsed rows.
func (r *ValidationResult) TotalQuantity() int {
	total := 0
	for _, row := range r.Rows {
		total += row.Quantity
	}
	return total
}

// UploadRecord is the durable summary of a submission, persisted exactly once
// after the pipeline completes. BatchID carries the lead batch identifier of
// the file; the unique index on (batch_id, submitter_id) is the storage-level
// backstop behind the duplicate pre-check.
type UploadRecord struct {
	ID                string            `json:"id" gorm:"primaryKey;column:id"`
	SubmitterID       string            `json:"submitter_id" gorm:"column:submitter_id;uniqueIndex:idx_uploads_batch_submitter,priority:2"`
	BatchID           string            `json:"batch_id" gorm:"column:batch_id;uniqueIndex:idx_uploads_batch_submitter,priority:1"`
	FileName          string            `json:"file_name" gorm:"column:file_name"`
	Status            string            `json:"status" gorm:"column:status"`
	TotalRows         int               `json:"total_rows" gorm:"column:total_rows"`
	ValidRows         int               `json:"valid_rows" gorm:"column:valid_rows"`
	InvalidRows       int               `json:"invalid_rows" gorm:"column:invalid_rows"`
	TotalQuantity     int               `json:"total_quantity" gorm:"column:total_quantity"`
	QRCodesGenerated  int               `json:"qr_codes_generated" gorm:"column:qr_codes_generated"`
	LedgerTxHash      string            `json:"ledger_tx_hash" gorm:"column:ledger_tx_hash"`
	ContentHash       string            `json:"content_hash" gorm:"column:content_hash"`
	QualityScore      float64           `json:"quality_score" gorm:"column:quality_score"`
	ComplianceScore   float64           `json:"compliance_score" gorm:"column:compliance_score"`
	ValidationSummary datatypes.JSONMap `json:"validation_summary" gorm:"column:validation_summary"`
	ErrorMessage      string            `json:"error_message,omitempty" gorm:"column:error_message"`
	CreatedAt         time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (UploadRecord) TableName() string {
	return "batch_uploads"
}
