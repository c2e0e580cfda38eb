package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pharmatrust/platform/pkg/batch"
	"github.com/pharmatrust/platform/pkg/codes"
	"github.com/pharmatrust/platform/pkg/common/kafka"
	"github.com/pharmatrust/platform/pkg/common/logger"
	"github.com/pharmatrust/platform/pkg/common/models"
	"github.com/pharmatrust/platform/pkg/observability/metrics"
	"github.com/pharmatrust/platform/pkg/progress"
)

type HTTPHandler struct {
	service  *Service
	codes    *codes.Service
	tracker  progress.Tracker
	producer *kafka.Producer
	maxBody  int64
}

func NewHTTPHandler(service *Service, codesSvc *codes.Service, tracker progress.Tracker, producer *kafka.Producer, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, codes: codesSvc, tracker: tracker, producer: producer, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/batches/progress/{id}", h.handleProgressGet).Methods(http.MethodGet)
	router.HandleFunc("/batches/progress/{id}", h.handleProgressUpdate).Methods(http.MethodPost)
	router.HandleFunc("/batches/progress/{id}", h.handleProgressClear).Methods(http.MethodDelete)
	router.HandleFunc("/batches", h.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/batches", h.handleListUploads).Methods(http.MethodGet)
	router.HandleFunc("/batches/{id}/codes", h.handleListCodes).Methods(http.MethodGet)
	router.HandleFunc("/batches/{id}", h.handleGetUpload).Methods(http.MethodGet)
	router.HandleFunc("/verify/{codeId}", h.handleVerify).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	sub, err := h.readSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, &models.ErrorResponse{
			Category:  models.CategoryStructural,
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return
	}

	// Once started, the pipeline runs to completion even if the submitting
	// client goes away; pollers still see the terminal state.
	ctx := context.WithoutCancel(r.Context())

	resp, perr := h.service.Process(ctx, sub)
	if perr != nil {
		writeError(w, statusForCategory(perr.Category), &models.ErrorResponse{
			Category:  perr.Category,
			Message:   perr.Message,
			UploadID:  perr.UploadID,
			Details:   perr.Details,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *HTTPHandler) readSubmission(r *http.Request) (Submission, error) {
	submitterID := r.Header.Get("X-Submitter-ID")

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(h.maxBody); err != nil {
			return Submission{}, errors.New("invalid multipart payload")
		}
		if v := r.FormValue("submitter_id"); v != "" {
			submitterID = v
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			return Submission{}, errors.New("missing file field")
		}
		defer func(f multipart.File) { _ = f.Close() }(file)

		content, err := io.ReadAll(file)
		if err != nil {
			return Submission{}, errors.New("reading uploaded file")
		}
		if submitterID == "" {
			return Submission{}, errors.New("submitter id is required")
		}
		return Submission{SubmitterID: submitterID, FileName: header.Filename, Content: content}, nil
	}

	content, err := io.ReadAll(r.Body)
	if err != nil {
		return Submission{}, errors.New("reading request body")
	}
	if submitterID == "" {
		return Submission{}, errors.New("submitter id is required")
	}
	return Submission{SubmitterID: submitterID, FileName: r.Header.Get("X-File-Name"), Content: content}, nil
}

func (h *HTTPHandler) handleProgressGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	state, err := h.tracker.Read(r.Context(), id)
	if errors.Is(err, progress.ErrNotFound) {
		http.Error(w, "no progress for this upload", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to read progress")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (h *HTTPHandler) handleProgressUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update progress.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid progress payload", http.StatusBadRequest)
		return
	}

	if err := h.tracker.Update(r.Context(), id, update); err != nil {
		logger.Log.WithError(err).Error("failed to update progress")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	state, err := h.tracker.Read(r.Context(), id)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *HTTPHandler) handleProgressClear(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.tracker.Clear(r.Context(), id); err != nil {
		logger.Log.WithError(err).Error("failed to clear progress")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.service.GetUpload(r.Context(), id)
	if errors.Is(err, batch.ErrNotFound) {
		http.Error(w, "upload not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to fetch upload")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) handleListCodes(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	recs, err := h.codes.CodesForUpload(r.Context(), id)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list codes")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *HTTPHandler) handleListUploads(w http.ResponseWriter, r *http.Request) {
	submitterID := r.URL.Query().Get("submitter_id")
	if submitterID == "" {
		submitterID = r.Header.Get("X-Submitter-ID")
	}
	if submitterID == "" {
		http.Error(w, "submitter id is required", http.StatusBadRequest)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := h.service.ListUploads(r.Context(), submitterID, limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list uploads")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *HTTPHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	codeID := mux.Vars(r)["codeId"]
	scannedBy := r.URL.Query().Get("scanned_by")

	result, err := h.codes.Verify(r.Context(), codeID, scannedBy)
	if err != nil {
		logger.Log.WithError(err).Error("verification lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	metrics.IncVerifications()
	if !result.Found {
		writeJSON(w, http.StatusNotFound, result)
		return
	}

	if err := h.producer.PublishEvent(r.Context(), kafka.EventCodeScanned, scannedBy, map[string]interface{}{
		"code_id":            result.Code.CodeID,
		"upload_id":          result.Code.UploadID,
		"verification_count": result.Code.VerificationCount,
		"ledger_confirmed":   result.LedgerConfirmed,
	}); err != nil {
		logger.Log.WithError(err).Warn("Failed to publish scan event")
	}

	writeJSON(w, http.StatusOK, result)
}

func statusForCategory(category string) int {
	switch category {
	case models.CategoryStructural, models.CategoryValidation:
		return http.StatusBadRequest
	case models.CategoryDuplicate:
		return http.StatusConflict
	case models.CategoryLedger, models.CategoryPersistence:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, body *models.ErrorResponse) {
	writeJSON(w, status, body)
}
