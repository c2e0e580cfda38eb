package batch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("upload record not found")

// DuplicateBatchError is raised when the storage-level uniqueness backstop
// fires on the final save, naming the offending identifier.
type DuplicateBatchError struct {
	BatchID string
}

func (e DuplicateBatchError) Error() string {
	return fmt.Sprintf("batch %q was already uploaded by this submitter", e.BatchID)
}

func IsDuplicateBatchError(err error) bool {
	var de DuplicateBatchError
	return errors.As(err, &de)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&UploadRecord{})
}

func (r *Repository) Create(ctx context.Context, rec *UploadRecord) error {
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	err := r.db.WithContext(ctx).Create(rec).Error
	if err != nil {
		if id, ok := duplicateKeyBatchID(err, rec.BatchID); ok {
			return DuplicateBatchError{BatchID: id}
		}
		return err
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*UploadRecord, error) {
	var rec UploadRecord
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, result.Error
}

func (r *Repository) BatchExists(ctx context.Context, batchID, submitterID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UploadRecord{}).
		Where("batch_id = ? AND submitter_id = ?", batchID, submitterID).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) ListBySubmitter(ctx context.Context, submitterID string, limit int) ([]UploadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []UploadRecord
	err := r.db.WithContext(ctx).
		Where("submitter_id = ?", submitterID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

var uniqueKeyPattern = regexp.MustCompile(`Key \([^)]*batch_id[^)]*\)=\(([^,)]+)`)

// duplicateKeyBatchID pattern-matches a postgres unique-violation message and
// extracts the conflicting batch identifier, falling back to the id from the
// record being saved.
func duplicateKeyBatchID(err error, fallback string) (string, bool) {
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "SQLSTATE 23505") {
		return "", false
	}
	if match := uniqueKeyPattern.FindStringSubmatch(msg); len(match) == 2 {
		return strings.TrimSpace(match[1]), true
	}
	return fallback, true
}
