package codes

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusGenerated = "generated"
	StatusVerified  = "verified"
	StatusExpired   = "expired"
	StatusRecalled  = "recalled"
	StatusInvalid   = "invalid"
)

// VerificationCode is the durable record of one issued code. Codes are never
// deleted, only status-transitioned; the verification count is monotonically
// incremented on each successful verification.
type VerificationCode struct {
	CodeID            string            `json:"code_id" gorm:"primaryKey;column:code_id"`
	UploadID          string            `json:"upload_id" gorm:"column:upload_id;index"`
	DrugCode          string            `json:"drug_code" gorm:"column:drug_code"`
	SerialNumber      int               `json:"serial_number" gorm:"column:serial_number"`
	LedgerTxHash      string            `json:"ledger_tx_hash,omitempty" gorm:"column:ledger_tx_hash"`
	VerificationURL   string            `json:"verification_url" gorm:"column:verification_url"`
	Metadata          datatypes.JSONMap `json:"metadata" gorm:"column:metadata"`
	Status            string            `json:"status" gorm:"column:status"`
	DownloadCount     int               `json:"download_count" gorm:"column:download_count"`
	VerificationCount int               `json:"verification_count" gorm:"column:verification_count"`
	IsScanned         bool              `json:"is_scanned" gorm:"column:is_scanned"`
	ScannedAt         *time.Time        `json:"scanned_at,omitempty" gorm:"column:scanned_at"`
	ScannedBy         string            `json:"scanned_by,omitempty" gorm:"column:scanned_by"`
	CreatedAt         time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (VerificationCode) TableName() string {
	return "verification_codes"
}

// VerificationResult answers an authenticity query. A missing code yields
// Found=false; a ledger check failure is advisory and does not invalidate an
// otherwise-found code.
type VerificationResult struct {
	Found           bool              `json:"found"`
	Code            *VerificationCode `json:"code,omitempty"`
	LedgerConfirmed bool              `json:"ledger_confirmed"`
	CheckedAt       time.Time         `json:"checked_at"`
}
