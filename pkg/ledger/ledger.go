// Package ledger records batches and verification codes on the distributed
// ledger and answers confirmation queries. Failures never escape this
// boundary: every operation returns a Transaction whose Status the caller
// branches on.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/pharmatrust/platform/pkg/batch"
	"github.com/pharmatrust/platform/pkg/common/config"
	"github.com/pharmatrust/platform/pkg/common/logger"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Transaction is the stable descriptor returned from every ledger call,
// whether the underlying transaction is real or a synthetic fallback.
type Transaction struct {
	Hash         string    `json:"hash"`
	Status       Status    `json:"status"`
	GasUsed      uint64    `json:"gas_used"`
	GasPrice     uint64    `json:"gas_price"`
	BlockNumber  uint64    `json:"block_number,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Confirmation is the read-only answer to a verification query. An absent
// receipt yields Confirmed=false, not an error.
type Confirmation struct {
	Confirmed   bool   `json:"confirmed"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
}

var errConfirmTimeout = errors.New("transaction confirmation timed out")

type Service struct {
	client         ContractClient
	retry          RetryPolicy
	confirmTimeout time.Duration
	pollInterval   time.Duration
	synthetic      bool
}

// NewService wires the production client when a signing credential is
// configured and falls back to the synthetic client otherwise.
func NewService(cfg *config.Config) *Service {
	retry := RetryPolicy{
		MaxAttempts: cfg.LedgerRetryAttempts,
		BaseDelay:   cfg.LedgerRetryBaseDelay,
		MaxDelay:    2 * time.Second,
	}

	if cfg.LedgerRPCURL == "" || cfg.LedgerPrivateKey == "" {
		logger.Log.Warn("No ledger credentials configured, using synthetic transactions")
		return &Service{
			client:         newMockClient(),
			retry:          retry,
			confirmTimeout: cfg.LedgerConfirmTimeout,
			pollInterval:   2 * time.Second,
			synthetic:      true,
		}
	}

	return &Service{
		client:         newRPCClient(cfg.LedgerRPCURL, cfg.LedgerContractAddress, cfg.LedgerPrivateKey, 30*time.Second),
		retry:          retry,
		confirmTimeout: cfg.LedgerConfirmTimeout,
		pollInterval:   2 * time.Second,
	}
}

// NewServiceWithClient injects an explicit client, used by tests and by any
// composition root that owns its own ledger connection.
func NewServiceWithClient(client ContractClient, retry RetryPolicy, confirmTimeout time.Duration) *Service {
	if confirmTimeout <= 0 {
		confirmTimeout = 60 * time.Second
	}
	return &Service{
		client:         client,
		retry:          retry,
		confirmTimeout: confirmTimeout,
		pollInterval:   10 * time.Millisecond,
	}
}

// Synthetic reports whether the service is running on the fallback client.
func (s *Service) Synthetic() bool {
	return s.synthetic
}

// RecordBatch submits the batch-level registry write and waits for
// confirmation. The lead row supplies the drug name, batch id, manufacturer
// and expiry; quantity is the aggregate across all rows.
func (s *Service) RecordBatch(ctx context.Context, uploadID string, result *batch.ValidationResult, contentHash string) *Transaction {
	rec := BatchRecord{
		UploadID:    uploadID,
		Quantity:    result.TotalQuantity(),
		ContentHash: contentHash,
	}
	if len(result.Rows) > 0 {
		lead := result.Rows[0]
		rec.DrugName = lead.DrugName
		rec.BatchID = lead.BatchID
		rec.Manufacturer = lead.Manufacturer
		if !lead.ExpiryDate.IsZero() {
			rec.ExpiryEpoch = lead.ExpiryDate.Unix()
		}
	}

	return s.submit(ctx, func(ctx context.Context) (string, error) {
		return s.client.SubmitBatchRecord(ctx, rec)
	})
}

// RecordCode submits the per-code registry write and waits for confirmation.
func (s *Service) RecordCode(ctx context.Context, codeID, uploadID string, serialNumber int) *Transaction {
	rec := CodeRecord{CodeID: codeID, UploadID: uploadID, SerialNumber: serialNumber}
	return s.submit(ctx, func(ctx context.Context) (string, error) {
		return s.client.SubmitCodeRecord(ctx, rec)
	})
}

// VerifyTransaction checks whether a previously submitted transaction is
// confirmed on the ledger.
func (s *Service) VerifyTransaction(ctx context.Context, hash string) Confirmation {
	receipt, err := s.client.TransactionReceipt(ctx, hash)
	if err != nil || receipt == nil {
		return Confirmation{Confirmed: false}
	}
	return Confirmation{
		Confirmed:   true,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
	}
}

func (s *Service) submit(ctx context.Context, op func(ctx context.Context) (string, error)) *Transaction {
	var hash string
	err := s.retry.Do(ctx, func() error {
		var opErr error
		hash, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		logger.Log.WithError(err).Error("Ledger submission failed")
		return failedTransaction(hash, err)
	}

	receipt, err := s.awaitReceipt(ctx, hash)
	if err != nil {
		logger.Log.WithError(err).WithField("tx_hash", hash).Error("Ledger confirmation failed")
		return failedTransaction(hash, err)
	}

	return &Transaction{
		Hash:        receipt.TxHash,
		Status:      StatusConfirmed,
		GasUsed:     receipt.GasUsed,
		GasPrice:    receipt.GasPrice,
		BlockNumber: receipt.BlockNumber,
		Timestamp:   time.Now().UTC(),
	}
}

func (s *Service) awaitReceipt(ctx context.Context, hash string) (*Receipt, error) {
	deadline := time.Now().Add(s.confirmTimeout)
	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil {
			logger.Log.WithError(err).WithField("tx_hash", hash).Debug("receipt poll failed")
		}
		if time.Now().After(deadline) {
			return nil, errConfirmTimeout
		}

		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func failedTransaction(hash string, err error) *Transaction {
	return &Transaction{
		Hash:         hash,
		Status:       StatusFailed,
		Timestamp:    time.Now().UTC(),
		ErrorMessage: err.Error(),
	}
}

// ContentHash computes the integrity anchor for the submitted file content.
// It is deterministic for identical input.
func ContentHash(content []byte) string {
	digest := sha256.Sum256(content)
	return hex.EncodeToString(digest[:])
}
