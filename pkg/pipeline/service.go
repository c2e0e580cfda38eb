// Package pipeline drives a batch submission end to end: validation,
// duplicate detection, the ledger batch record, code provisioning and the
// final durable upload record, reporting progress throughout.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pharmatrust/platform/pkg/batch"
	"github.com/pharmatrust/platform/pkg/codes"
	"github.com/pharmatrust/platform/pkg/common/kafka"
	"github.com/pharmatrust/platform/pkg/common/logger"
	"github.com/pharmatrust/platform/pkg/common/models"
	"github.com/pharmatrust/platform/pkg/ledger"
	"github.com/pharmatrust/platform/pkg/observability/metrics"
	"github.com/pharmatrust/platform/pkg/progress"
	"gorm.io/datatypes"
)

// UploadStore is the slice of the persistence collaborator the pipeline
// consumes for upload records.
type UploadStore interface {
	BatchExists(ctx context.Context, batchID, submitterID string) (bool, error)
	Create(ctx context.Context, rec *batch.UploadRecord) error
	Get(ctx context.Context, id string) (*batch.UploadRecord, error)
	ListBySubmitter(ctx context.Context, submitterID string, limit int) ([]batch.UploadRecord, error)
}

// PipelineError is the structured failure surfaced to the submitting client.
type PipelineError struct {
	Category string
	Message  string
	UploadID string
	Details  []string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Submission is one batch file handed to the pipeline.
type Submission struct {
	SubmitterID string
	FileName    string
	Content     []byte
}

type Service struct {
	validator *batch.Validator
	detector  *batch.DuplicateDetector
	uploads   UploadStore
	ledger    *ledger.Service
	codes     *codes.Service
	tracker   progress.Tracker
	producer  *kafka.Producer
}

func NewService(
	validator *batch.Validator,
	detector *batch.DuplicateDetector,
	uploads UploadStore,
	ledgerSvc *ledger.Service,
	codesSvc *codes.Service,
	tracker progress.Tracker,
	producer *kafka.Producer,
) *Service {
	return &Service{
		validator: validator,
		detector:  detector,
		uploads:   uploads,
		ledger:    ledgerSvc,
		codes:     codesSvc,
		tracker:   tracker,
		producer:  producer,
	}
}

// Process runs one submission as a single sequential task. Every stage awaits
// the previous one; ledger calls are never fanned out. The progress tracker
// is readable by concurrent pollers throughout and is always moved to a
// terminal state before Process returns.
func (s *Service) Process(ctx context.Context, sub Submission) (*models.SubmitResponse, *PipelineError) {
	uploadID := uuid.New().String()
	metrics.IncUploadsAccepted()

	log := logger.WithUpload(uploadID)
	log.WithFields(map[string]interface{}{
		"submitter_id": sub.SubmitterID,
		"file_name":    sub.FileName,
		"bytes":        len(sub.Content),
	}).Info("Batch submission accepted")

	s.update(ctx, uploadID, progress.Update{
		Stage:           progress.StagePtr(progress.StageValidation),
		ProgressPercent: progress.IntPtr(5),
		Message:         progress.StringPtr("Validating batch file"),
	})

	result, err := s.validator.Validate(sub.Content)
	if err != nil {
		return nil, s.fail(ctx, uploadID, models.CategoryStructural, err.Error(), nil)
	}
	if !result.IsValid {
		msg := fmt.Sprintf("batch failed validation with %d error(s)", len(result.Errors))
		return nil, s.fail(ctx, uploadID, models.CategoryValidation, msg, result.ErrorStrings())
	}

	duplicates, err := s.detector.Check(ctx, sub.SubmitterID, result.Rows)
	if err != nil {
		return nil, s.fail(ctx, uploadID, models.CategoryInternal, "duplicate check failed: "+err.Error(), nil)
	}
	if len(duplicates) > 0 {
		msg := "duplicate batch identifiers: " + strings.Join(duplicates, ", ")
		return nil, s.fail(ctx, uploadID, models.CategoryDuplicate, msg, duplicates)
	}

	totalQuantity := result.TotalQuantity()
	contentHash := ledger.ContentHash(sub.Content)

	s.update(ctx, uploadID, progress.Update{
		Stage:           progress.StagePtr(progress.StageBlockchain),
		ProgressPercent: progress.IntPtr(20),
		Message:         progress.StringPtr("Recording batch on the ledger"),
		TotalQuantity:   progress.IntPtr(totalQuantity),
	})

	batchTx := s.ledger.RecordBatch(ctx, uploadID, result, contentHash)
	if batchTx.Status != ledger.StatusConfirmed {
		metrics.IncLedgerFailures()
		return nil, s.fail(ctx, uploadID, models.CategoryLedger, "batch ledger record failed: "+batchTx.ErrorMessage, nil)
	}

	summary, err := s.codes.Provision(ctx, uploadID, result.Rows)
	if err != nil {
		return nil, s.fail(ctx, uploadID, models.CategoryInternal, "code provisioning failed: "+err.Error(), nil)
	}
	metrics.AddCodesGenerated(summary.Generated)
	if summary.LedgerFailed > 0 {
		metrics.AddLedgerFailures(summary.LedgerFailed)
	}

	s.update(ctx, uploadID, progress.Update{
		Stage:           progress.StagePtr(progress.StagePersistence),
		ProgressPercent: progress.IntPtr(95),
		Message:         progress.StringPtr("Persisting upload record"),
	})

	record := s.buildRecord(uploadID, sub, result, summary, batchTx, contentHash)
	if err := s.uploads.Create(ctx, record); err != nil {
		if batch.IsDuplicateBatchError(err) {
			return nil, s.fail(ctx, uploadID, models.CategoryDuplicate, err.Error(), nil)
		}
		return nil, s.fail(ctx, uploadID, models.CategoryPersistence, "saving upload record: "+err.Error(), nil)
	}

	s.update(ctx, uploadID, progress.Update{
		Stage:                     progress.StagePtr(progress.StageCompleted),
		ProgressPercent:           progress.IntPtr(100),
		ProcessedQuantity:         progress.IntPtr(summary.ProcessedQuantity),
		EstimatedSecondsRemaining: progress.IntPtr(0),
		IsComplete:                progress.BoolPtr(true),
		Message:                   progress.StringPtr(fmt.Sprintf("Generated %d of %d codes", summary.Generated, summary.Requested)),
	})

	metrics.IncUploadsCompleted()
	s.publish(ctx, kafka.EventBatchCompleted, sub.SubmitterID, map[string]interface{}{
		"upload_id":       uploadID,
		"batch_id":        record.BatchID,
		"codes_requested": summary.Requested,
		"codes_generated": summary.Generated,
		"ledger_tx_hash":  batchTx.Hash,
	})

	log.WithFields(map[string]interface{}{
		"codes_generated": summary.Generated,
		"codes_requested": summary.Requested,
	}).Info("Batch submission completed")

	return &models.SubmitResponse{
		UploadID:       uploadID,
		Status:         batch.StatusCompleted,
		TotalRows:      result.TotalRows,
		TotalQuantity:  totalQuantity,
		CodesRequested: summary.Requested,
		CodesGenerated: summary.Generated,
		LedgerTxHash:   batchTx.Hash,
		Warnings:       result.WarningStrings(),
		Timestamp:      time.Now().UTC(),
	}, nil
}

func (s *Service) buildRecord(uploadID string, sub Submission, result *batch.ValidationResult, summary *codes.Summary, tx *ledger.Transaction, contentHash string) *batch.UploadRecord {
	leadBatchID := ""
	if len(result.Rows) > 0 {
		leadBatchID = result.Rows[0].BatchID
	}

	quality := 0.0
	if result.TotalRows > 0 {
		quality = float64(result.ValidRows) / float64(result.TotalRows) * 100
	}
	compliance := 100.0 - 2*float64(len(result.Warnings))
	if compliance < 50 {
		compliance = 50
	}

	return &batch.UploadRecord{
		ID:               uploadID,
		SubmitterID:      sub.SubmitterID,
		BatchID:          leadBatchID,
		FileName:         sub.FileName,
		Status:           batch.StatusCompleted,
		TotalRows:        result.TotalRows,
		ValidRows:        result.ValidRows,
		InvalidRows:      result.InvalidRows,
		TotalQuantity:    result.TotalQuantity(),
		QRCodesGenerated: summary.Generated,
		LedgerTxHash:     tx.Hash,
		ContentHash:      contentHash,
		QualityScore:     quality,
		ComplianceScore:  compliance,
		ValidationSummary: datatypes.JSONMap{
			"errors":            result.ErrorStrings(),
			"warnings":          result.WarningStrings(),
			"valid_rows":        result.ValidRows,
			"invalid_rows":      result.InvalidRows,
			"codes_requested":   summary.Requested,
			"codes_generated":   summary.Generated,
			"ledger_failed":     summary.LedgerFailed,
			"storage_failed":    summary.StorageFailed,
			"batch_granularity": summary.BatchGranularity,
		},
	}
}

// fail moves the tracker to its terminal failed state before the error is
// returned, so no fatal path leaves a poller watching a non-terminal stage.
func (s *Service) fail(ctx context.Context, uploadID, category, message string, details []string) *PipelineError {
	logger.WithUpload(uploadID).WithField("category", category).Error(message)

	s.update(ctx, uploadID, progress.Update{
		Stage:      progress.StagePtr(progress.StageFailed),
		Message:    progress.StringPtr(message),
		Error:      progress.StringPtr(message),
		IsComplete: progress.BoolPtr(true),
	})

	metrics.IncUploadsFailed()
	s.publish(ctx, kafka.EventBatchFailed, category, map[string]interface{}{
		"upload_id": uploadID,
		"category":  category,
		"message":   message,
	})

	return &PipelineError{
		Category: category,
		Message:  message,
		UploadID: uploadID,
		Details:  details,
	}
}

func (s *Service) update(ctx context.Context, uploadID string, u progress.Update) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.Update(ctx, uploadID, u); err != nil {
		logger.WithUpload(uploadID).WithError(err).Warn("Failed to update progress")
	}
}

func (s *Service) publish(ctx context.Context, eventType, source string, data map[string]interface{}) {
	if err := s.producer.PublishEvent(ctx, eventType, source, data); err != nil {
		logger.Log.WithError(err).Warn("Failed to publish pipeline event")
	}
}

// GetUpload returns the persisted summary of a completed submission.
func (s *Service) GetUpload(ctx context.Context, id string) (*batch.UploadRecord, error) {
	return s.uploads.Get(ctx, id)
}

// ListUploads returns a submitter's most recent upload records.
func (s *Service) ListUploads(ctx context.Context, submitterID string, limit int) ([]batch.UploadRecord, error) {
	return s.uploads.ListBySubmitter(ctx, submitterID, limit)
}
