package pipeline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pharmatrust/platform/pkg/progress"
)

func newTestRouter(t *testing.T) (*mux.Router, *pipelineFixture) {
	t.Helper()
	f := newFixture(t, &fakeContract{})
	handler := NewHTTPHandler(f.service, f.codesSvc, f.tracker, nil, 1<<20)

	router := mux.NewRouter()
	handler.Register(router)
	return router, f
}

func TestProgressPollingContract(t *testing.T) {
	router, _ := newTestRouter(t)

	// Unknown upload id.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches/progress/u1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}

	// Merge-update creates the entry.
	body := strings.NewReader(`{"stage":"blockchain","progress_percent":20,"message":"recording"}`)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/batches/progress/u1", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d", rec.Code)
	}

	var state progress.State
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches/progress/u1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after update, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if state.Stage != progress.StageBlockchain || state.ProgressPercent != 20 {
		t.Fatalf("merge not applied: %+v", state)
	}

	// Partial update keeps earlier fields.
	body = strings.NewReader(`{"processed_quantity":40}`)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/batches/progress/u1", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if state.Stage != progress.StageBlockchain || state.ProcessedQuantity != 40 {
		t.Fatalf("partial merge lost fields: %+v", state)
	}

	// Clear, then reads are 404 again.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/batches/progress/u1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on clear, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches/progress/u1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after clear, got %d", rec.Code)
	}
}

func TestSubmitEndpointRawBody(t *testing.T) {
	router, f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(string(testCSV(testRow("CT2024001", 5)))))
	req.Header.Set("X-Submitter-ID", "mfg-1")
	req.Header.Set("X-File-Name", "batch.csv")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		UploadID       string `json:"upload_id"`
		CodesGenerated int    `json:"codes_generated"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.CodesGenerated != 5 {
		t.Fatalf("expected 5 codes, got %d", resp.CodesGenerated)
	}
	if len(f.codeStore.codes) != 5 {
		t.Fatalf("expected 5 persisted codes, got %d", len(f.codeStore.codes))
	}
}

func TestListUploadsForSubmitter(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(string(testCSV(testRow("CT2024001", 5)))))
	req.Header.Set("X-Submitter-ID", "mfg-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches?submitter_id=mfg-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var recs []map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&recs); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(recs))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without submitter id, got %d", rec.Code)
	}
}

func TestSubmitEndpointRequiresSubmitter(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without submitter id, got %d", rec.Code)
	}
}

func TestSubmitEndpointDuplicateConflict(t *testing.T) {
	router, f := newTestRouter(t)
	f.uploads.existing["CT2024001"] = true

	req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(string(testCSV(testRow("CT2024001", 5)))))
	req.Header.Set("X-Submitter-ID", "mfg-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate batch, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "CT2024001") {
		t.Fatalf("expected the conflicting id in the payload: %s", rec.Body.String())
	}
}
