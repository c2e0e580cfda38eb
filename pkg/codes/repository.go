package codes

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("verification code not found")

// Store is the slice of the persistence collaborator the provisioning
// service consumes; tests substitute an in-memory fake.
type Store interface {
	Exists(ctx context.Context, codeID string) (bool, error)
	Save(ctx context.Context, code *VerificationCode) error
	FindByID(ctx context.Context, codeID string) (*VerificationCode, error)
	IncrementVerificationCount(ctx context.Context, codeID, scannedBy string) (*VerificationCode, error)
	ListByUpload(ctx context.Context, uploadID string) ([]VerificationCode, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&VerificationCode{})
}

func (r *Repository) Exists(ctx context.Context, codeID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&VerificationCode{}).
		Where("code_id = ?", codeID).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) Save(ctx context.Context, code *VerificationCode) error {
	code.CreatedAt = time.Now().UTC()
	code.UpdatedAt = code.CreatedAt
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *Repository) FindByID(ctx context.Context, codeID string) (*VerificationCode, error) {
	var code VerificationCode
	result := r.db.WithContext(ctx).First(&code, "code_id = ?", codeID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &code, result.Error
}

// IncrementVerificationCount bumps the counter and stamps first-scan fields
// in one update, then returns the fresh row.
func (r *Repository) IncrementVerificationCount(ctx context.Context, codeID, scannedBy string) (*VerificationCode, error) {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"verification_count": gorm.Expr("verification_count + 1"),
		"is_scanned":         true,
		"status":             StatusVerified,
		"updated_at":         now,
	}

	result := r.db.WithContext(ctx).Model(&VerificationCode{}).
		Where("code_id = ?", codeID).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	// First-scan stamps are set once and never overwritten.
	r.db.WithContext(ctx).Model(&VerificationCode{}).
		Where("code_id = ? AND scanned_at IS NULL", codeID).
		Updates(map[string]interface{}{"scanned_at": now, "scanned_by": scannedBy})

	return r.FindByID(ctx, codeID)
}

func (r *Repository) ListByUpload(ctx context.Context, uploadID string) ([]VerificationCode, error) {
	var out []VerificationCode
	err := r.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("serial_number ASC").
		Find(&out).Error
	return out, err
}
