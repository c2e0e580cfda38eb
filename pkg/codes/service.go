// Package codes turns a validated batch into a set of uniquely identifiable,
// ledger-anchored verification codes.
package codes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pharmatrust/platform/pkg/batch"
	"github.com/pharmatrust/platform/pkg/common/logger"
	"github.com/pharmatrust/platform/pkg/ledger"
	"github.com/pharmatrust/platform/pkg/progress"
)

// Outcome classifies one code attempt so the aggregate count is provably
// correct rather than inferred from swallowed errors.
type Outcome string

const (
	OutcomeSucceeded     Outcome = "succeeded"
	OutcomeLedgerFailed  Outcome = "ledger_failed"
	OutcomeStorageFailed Outcome = "storage_failed"
	OutcomeExhausted     Outcome = "id_exhausted"
)

// ErrIDExhausted is returned when the bounded regeneration loop cannot find
// a free identifier.
var ErrIDExhausted = errors.New("exhausted code id generation attempts")

type CodeResult struct {
	CodeID   string  `json:"code_id,omitempty"`
	Serial   int     `json:"serial"`
	Quantity int     `json:"quantity"`
	Outcome  Outcome `json:"outcome"`
	Error    string  `json:"error,omitempty"`
}

// Summary aggregates the per-code outcomes of one provisioning run. A code
// whose ledger record confirmed but whose storage save failed still counts
// as generated: the ledger is the authoritative side effect and the storage
// copy is best-effort caching.
type Summary struct {
	Requested         int          `json:"requested"`
	Generated         int          `json:"generated"`
	LedgerFailed      int          `json:"ledger_failed"`
	StorageFailed     int          `json:"storage_failed"`
	Exhausted         int          `json:"exhausted"`
	ProcessedQuantity int          `json:"processed_quantity"`
	BatchGranularity  bool         `json:"batch_granularity"`
	Results           []CodeResult `json:"results,omitempty"`
}

const (
	progressCadence = 10
	latencyWindow   = 20
)

type Service struct {
	store       Store
	ledger      *ledger.Service
	tracker     progress.Tracker
	gen         *Generator
	threshold   int
	maxAttempts int
	baseURL     string

	mu        sync.Mutex
	recent    map[string]struct{}
	latencies []time.Duration
}

func NewService(store Store, ledgerSvc *ledger.Service, tracker progress.Tracker, gen *Generator, threshold, maxAttempts int, baseURL string) *Service {
	if threshold <= 0 {
		threshold = 1000
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Service{
		store:       store,
		ledger:      ledgerSvc,
		tracker:     tracker,
		gen:         gen,
		threshold:   threshold,
		maxAttempts: maxAttempts,
		baseURL:     baseURL,
		recent:      make(map[string]struct{}),
	}
}

// Provision issues codes for every row of a validated batch. Above the
// granularity threshold one code represents a whole drug-type row; below it
// every physical unit gets its own serial. Ledger calls are serialized: the
// signing account's transaction ordering does not allow a parallel fan-out.
func (s *Service) Provision(ctx context.Context, uploadID string, rows []batch.BatchRow) (*Summary, error) {
	total := 0
	for _, row := range rows {
		total += row.Quantity
	}

	summary := &Summary{BatchGranularity: total > s.threshold}
	if summary.BatchGranularity {
		summary.Requested = len(rows)
	} else {
		summary.Requested = total
	}

	s.updateProgress(ctx, uploadID, progress.Update{
		Stage:             progress.StagePtr(progress.StageCodeGeneration),
		Message:           progress.StringPtr(fmt.Sprintf("Generating %d verification codes", summary.Requested)),
		TotalQuantity:     progress.IntPtr(total),
		ProcessedQuantity: progress.IntPtr(0),
	})

	issued := 0
	for i, row := range rows {
		if summary.BatchGranularity {
			result := s.issueOne(ctx, uploadID, row, i+1, row.Quantity)
			issued++
			s.tally(summary, result)
			s.reportProgress(ctx, uploadID, summary, total, issued, summary.Requested)
			continue
		}

		for serial := 1; serial <= row.Quantity; serial++ {
			result := s.issueOne(ctx, uploadID, row, serial, 1)
			issued++
			s.tally(summary, result)
			s.reportProgress(ctx, uploadID, summary, total, issued, summary.Requested)
		}
	}

	logger.WithUpload(uploadID).WithFields(map[string]interface{}{
		"requested":      summary.Requested,
		"generated":      summary.Generated,
		"ledger_failed":  summary.LedgerFailed,
		"storage_failed": summary.StorageFailed,
	}).Info("Code provisioning finished")

	return summary, nil
}

func (s *Service) issueOne(ctx context.Context, uploadID string, row batch.BatchRow, serial, quantity int) CodeResult {
	key := row.NAFDACNumber
	if key == "" {
		key = row.BatchID
	}

	codeID, err := s.uniqueID(ctx, uploadID, key, serial)
	if err != nil {
		logger.WithUpload(uploadID).WithError(err).WithField("serial", serial).Error("Code id generation exhausted")
		return CodeResult{Serial: serial, Quantity: quantity, Outcome: OutcomeExhausted, Error: err.Error()}
	}

	started := time.Now()
	tx := s.ledger.RecordCode(ctx, codeID, uploadID, serial)
	s.observeLatency(time.Since(started))

	if tx.Status != ledger.StatusConfirmed {
		logger.WithUpload(uploadID).WithFields(map[string]interface{}{
			"code_id": codeID,
			"serial":  serial,
			"error":   tx.ErrorMessage,
		}).Warn("Ledger record failed for code, continuing")
		return CodeResult{CodeID: codeID, Serial: serial, Quantity: quantity, Outcome: OutcomeLedgerFailed, Error: tx.ErrorMessage}
	}

	code := &VerificationCode{
		CodeID:          codeID,
		UploadID:        uploadID,
		DrugCode:        key,
		SerialNumber:    serial,
		LedgerTxHash:    tx.Hash,
		VerificationURL: s.baseURL + "/" + codeID,
		Status:          StatusGenerated,
		Metadata: map[string]interface{}{
			"drug_name":    row.DrugName,
			"batch_id":     row.BatchID,
			"manufacturer": row.Manufacturer,
			"expiry_date":  row.ExpiryDate.Format("2006-01-02"),
			"quantity":     quantity,
		},
	}

	if err := s.store.Save(ctx, code); err != nil {
		// The ledger record stands; the storage copy is best-effort.
		logger.WithUpload(uploadID).WithError(err).WithField("code_id", codeID).Warn("Failed to persist verification code")
		return CodeResult{CodeID: codeID, Serial: serial, Quantity: quantity, Outcome: OutcomeStorageFailed, Error: err.Error()}
	}

	return CodeResult{CodeID: codeID, Serial: serial, Quantity: quantity, Outcome: OutcomeSucceeded}
}

// uniqueID regenerates on collision, bounded by maxAttempts. The in-process
// recent set is a fast pre-check; storage is always the final arbiter.
func (s *Service) uniqueID(ctx context.Context, uploadID, key string, serial int) (string, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		candidate := s.gen.Candidate(uploadID, key, serial)
		if !ValidFormat(candidate) {
			continue
		}

		s.mu.Lock()
		_, seen := s.recent[candidate]
		s.mu.Unlock()
		if seen {
			continue
		}

		exists, err := s.store.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("checking code id: %w", err)
		}
		if exists {
			continue
		}

		s.mu.Lock()
		s.recent[candidate] = struct{}{}
		s.mu.Unlock()
		return candidate, nil
	}

	return "", fmt.Errorf("%w after %d attempts", ErrIDExhausted, s.maxAttempts)
}

func (s *Service) tally(summary *Summary, result CodeResult) {
	summary.Results = append(summary.Results, result)
	switch result.Outcome {
	case OutcomeSucceeded:
		summary.Generated++
		summary.ProcessedQuantity += result.Quantity
	case OutcomeStorageFailed:
		summary.Generated++
		summary.ProcessedQuantity += result.Quantity
		summary.StorageFailed++
	case OutcomeLedgerFailed:
		summary.LedgerFailed++
	case OutcomeExhausted:
		summary.Exhausted++
	}
}

// reportProgress pushes an update every ten codes or on the last one, keeping
// polling-visible churn bounded without starving responsiveness.
func (s *Service) reportProgress(ctx context.Context, uploadID string, summary *Summary, total, issued, requested int) {
	if issued%progressCadence != 0 && issued != requested {
		return
	}

	percent := 0
	if total > 0 {
		percent = summary.ProcessedQuantity * 100 / total
	}

	remaining := requested - issued
	eta := int(s.averageLatency().Seconds() * float64(remaining))

	s.updateProgress(ctx, uploadID, progress.Update{
		ProgressPercent:           progress.IntPtr(percent),
		ProcessedQuantity:         progress.IntPtr(summary.ProcessedQuantity),
		EstimatedSecondsRemaining: progress.IntPtr(eta),
		Message:                   progress.StringPtr(fmt.Sprintf("Generated %d of %d codes", issued, requested)),
	})
}

func (s *Service) observeLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[len(s.latencies)-latencyWindow:]
	}
}

// averageLatency is the moving average over the most recent per-code ledger
// round trips, used to re-estimate remaining time.
func (s *Service) averageLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.latencies {
		sum += d
	}
	return sum / time.Duration(len(s.latencies))
}

func (s *Service) updateProgress(ctx context.Context, uploadID string, update progress.Update) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.Update(ctx, uploadID, update); err != nil {
		logger.WithUpload(uploadID).WithError(err).Warn("Failed to update progress")
	}
}

// CodesForUpload returns every persisted code issued for one upload, in
// serial order.
func (s *Service) CodesForUpload(ctx context.Context, uploadID string) ([]VerificationCode, error) {
	return s.store.ListByUpload(ctx, uploadID)
}

// Verify answers an authenticity query for one code id. A found code has its
// verification counter incremented by exactly one per scan regardless of
// granularity: a scan is one authenticity check, not a stock movement. The
// ledger re-check is advisory.
func (s *Service) Verify(ctx context.Context, codeID, scannedBy string) (*VerificationResult, error) {
	result := &VerificationResult{CheckedAt: time.Now().UTC()}

	code, err := s.store.FindByID(ctx, codeID)
	if errors.Is(err, ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up code: %w", err)
	}

	updated, err := s.store.IncrementVerificationCount(ctx, codeID, scannedBy)
	if err != nil {
		logger.Log.WithError(err).WithField("code_id", codeID).Warn("Failed to record verification")
		updated = code
	}

	result.Found = true
	result.Code = updated

	if updated.LedgerTxHash != "" {
		confirmation := s.ledger.VerifyTransaction(ctx, updated.LedgerTxHash)
		result.LedgerConfirmed = confirmation.Confirmed
	}

	return result, nil
}
