package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pharmatrust/platform/pkg/batch"
	"github.com/pharmatrust/platform/pkg/common/config"
	"github.com/pharmatrust/platform/pkg/common/logger"
)

func init() {
	logger.Init()
}

type fakeClient struct {
	submitErr    error
	receiptDelay int // polls before the receipt appears
	batchCalls   []BatchRecord
	codeCalls    []CodeRecord
	polls        int
}

func (f *fakeClient) SubmitBatchRecord(_ context.Context, rec BatchRecord) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.batchCalls = append(f.batchCalls, rec)
	return fmt.Sprintf("0xbatch%d", len(f.batchCalls)), nil
}

func (f *fakeClient) SubmitCodeRecord(_ context.Context, rec CodeRecord) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.codeCalls = append(f.codeCalls, rec)
	return fmt.Sprintf("0xcode%d", len(f.codeCalls)), nil
}

func (f *fakeClient) TransactionReceipt(_ context.Context, hash string) (*Receipt, error) {
	f.polls++
	if f.polls <= f.receiptDelay {
		return nil, nil
	}
	return &Receipt{TxHash: hash, BlockNumber: 42, GasUsed: 30000, GasPrice: 15000000000}, nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func sampleResult() *batch.ValidationResult {
	return &batch.ValidationResult{
		IsValid:   true,
		TotalRows: 1,
		ValidRows: 1,
		Rows: []batch.BatchRow{{
			DrugName:     "Paracetamol",
			BatchID:      "CT2024001",
			Quantity:     200,
			Manufacturer: "Emzor Pharma",
			ExpiryDate:   time.Date(2030, 6, 30, 0, 0, 0, 0, time.UTC),
		}},
	}
}

func TestRecordBatchConfirmed(t *testing.T) {
	client := &fakeClient{receiptDelay: 2}
	svc := NewServiceWithClient(client, fastRetry(), time.Second)

	tx := svc.RecordBatch(context.Background(), "upload-1", sampleResult(), "abc123")
	if tx.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s (%s)", tx.Status, tx.ErrorMessage)
	}
	if tx.Hash == "" || tx.BlockNumber != 42 || tx.GasUsed == 0 {
		t.Fatalf("incomplete transaction descriptor: %+v", tx)
	}

	rec := client.batchCalls[0]
	if rec.Quantity != 200 || rec.BatchID != "CT2024001" || rec.ContentHash != "abc123" {
		t.Fatalf("call arguments not assembled from the batch: %+v", rec)
	}
	if rec.ExpiryEpoch == 0 {
		t.Fatal("expected expiry epoch to be set")
	}
}

func TestRecordCodeFailureIsSoft(t *testing.T) {
	client := &fakeClient{submitErr: errors.New("nonce too low")}
	svc := NewServiceWithClient(client, fastRetry(), time.Second)

	tx := svc.RecordCode(context.Background(), "PTC-ABCDEF12", "upload-1", 7)
	if tx.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", tx.Status)
	}
	if tx.ErrorMessage == "" {
		t.Fatal("expected the failure reason on the descriptor")
	}
}

func TestVerifyTransactionAbsentReceipt(t *testing.T) {
	client := &fakeClient{receiptDelay: 1000}
	svc := NewServiceWithClient(client, fastRetry(), time.Second)

	conf := svc.VerifyTransaction(context.Background(), "0xdeadbeef")
	if conf.Confirmed {
		t.Fatal("expected unconfirmed for absent receipt")
	}
}

func TestVerifyTransactionConfirmed(t *testing.T) {
	client := &fakeClient{}
	svc := NewServiceWithClient(client, fastRetry(), time.Second)

	conf := svc.VerifyTransaction(context.Background(), "0xabc")
	if !conf.Confirmed || conf.BlockNumber != 42 {
		t.Fatalf("unexpected confirmation: %+v", conf)
	}
}

func TestSyntheticFallbackParity(t *testing.T) {
	cfg := &config.Config{
		LedgerRetryAttempts:  2,
		LedgerRetryBaseDelay: time.Millisecond,
		LedgerConfirmTimeout: time.Second,
	}
	svc := NewService(cfg)
	if !svc.Synthetic() {
		t.Fatal("expected synthetic service without credentials")
	}

	batchTx := svc.RecordBatch(context.Background(), "upload-1", sampleResult(), "abc123")
	if batchTx.Status != StatusConfirmed {
		t.Fatalf("expected synthetic batch tx confirmed, got %s", batchTx.Status)
	}
	codeTx := svc.RecordCode(context.Background(), "PTC-ABCDEF12", "upload-1", 1)
	if codeTx.Status != StatusConfirmed {
		t.Fatalf("expected synthetic code tx confirmed, got %s", codeTx.Status)
	}

	// Same descriptor shape as the credentialed path.
	for _, tx := range []*Transaction{batchTx, codeTx} {
		if tx.Hash == "" || tx.GasUsed == 0 || tx.GasPrice == 0 || tx.BlockNumber == 0 {
			t.Fatalf("synthetic transaction missing fields: %+v", tx)
		}
	}
	if batchTx.Hash == codeTx.Hash {
		t.Fatal("synthetic hashes must be distinct")
	}

	conf := svc.VerifyTransaction(context.Background(), batchTx.Hash)
	if !conf.Confirmed {
		t.Fatal("expected synthetic transaction to verify as confirmed")
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash([]byte("drug_name,batch_id\nParacetamol,CT1"))
	b := ContentHash([]byte("drug_name,batch_id\nParacetamol,CT1"))
	c := ContentHash([]byte("drug_name,batch_id\nParacetamol,CT2"))

	if a != b {
		t.Fatal("expected identical input to hash identically")
	}
	if a == c {
		t.Fatal("expected different input to hash differently")
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex digest, got length %d", len(a))
	}
}
