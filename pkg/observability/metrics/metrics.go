package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	uploadsAccepted  atomic.Int64
	uploadsCompleted atomic.Int64
	uploadsFailed    atomic.Int64
	codesGenerated   atomic.Int64
	ledgerFailures   atomic.Int64
	verifications    atomic.Int64
)

func IncUploadsAccepted()  { uploadsAccepted.Add(1) }
func IncUploadsCompleted() { uploadsCompleted.Add(1) }
func IncUploadsFailed()    { uploadsFailed.Add(1) }
func IncLedgerFailures()   { ledgerFailures.Add(1) }
func IncVerifications()    { verifications.Add(1) }

func AddCodesGenerated(n int) { codesGenerated.Add(int64(n)) }
func AddLedgerFailures(n int) { ledgerFailures.Add(int64(n)) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP pharmatrust_uploads_accepted_total Number of batch submissions accepted.\n")
	fmt.Fprintf(w, "# TYPE pharmatrust_uploads_accepted_total counter\n")
	fmt.Fprintf(w, "pharmatrust_uploads_accepted_total %d\n", uploadsAccepted.Load())

	fmt.Fprintf(w, "# HELP pharmatrust_uploads_completed_total Number of batch submissions completed.\n")
	fmt.Fprintf(w, "# TYPE pharmatrust_uploads_completed_total counter\n")
	fmt.Fprintf(w, "pharmatrust_uploads_completed_total %d\n", uploadsCompleted.Load())

	fmt.Fprintf(w, "# HELP pharmatrust_uploads_failed_total Number of batch submissions that failed.\n")
	fmt.Fprintf(w, "# TYPE pharmatrust_uploads_failed_total counter\n")
	fmt.Fprintf(w, "pharmatrust_uploads_failed_total %d\n", uploadsFailed.Load())

	fmt.Fprintf(w, "# HELP pharmatrust_codes_generated_total Number of verification codes generated.\n")
	fmt.Fprintf(w, "# TYPE pharmatrust_codes_generated_total counter\n")
	fmt.Fprintf(w, "pharmatrust_codes_generated_total %d\n", codesGenerated.Load())

	fmt.Fprintf(w, "# HELP pharmatrust_ledger_failures_total Number of failed ledger submissions.\n")
	fmt.Fprintf(w, "# TYPE pharmatrust_ledger_failures_total counter\n")
	fmt.Fprintf(w, "pharmatrust_ledger_failures_total %d\n", ledgerFailures.Load())

	fmt.Fprintf(w, "# HELP pharmatrust_verifications_total Number of code verification lookups served.\n")
	fmt.Fprintf(w, "# TYPE pharmatrust_verifications_total counter\n")
	fmt.Fprintf(w, "pharmatrust_verifications_total %d\n", verifications.Load())
}
