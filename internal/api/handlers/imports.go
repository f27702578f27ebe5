package handlers

import (
	"encoding/base64"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/gcsuploader"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/statement"
	"github.com/rs/zerolog"
)

// ImportsHandler handles statement import endpoints.
type ImportsHandler struct {
	service   *pipeline.ImportService
	storage   gcsuploader.StorageService
	bucket    string
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewImportsHandler creates a new imports handler. storage and publisher
// are only needed by UploadStatement.
func NewImportsHandler(service *pipeline.ImportService, storage gcsuploader.StorageService, bucket string, publisher jobs.Publisher, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{
		service:   service,
		storage:   storage,
		bucket:    bucket,
		publisher: publisher,
		log:       log,
	}
}

// importRequest is the body shared by detect, preview and execute.
// Spreadsheets are sent base64 encoded in ContentBase64.
type importRequest struct {
	AccountID     string                   `json:"accountId"`
	Content       string                   `json:"content"`
	ContentBase64 string                   `json:"contentBase64"`
	Filename      string                   `json:"filename"`
	Mapping       *statement.ImportMapping `json:"mapping"`
}

// text returns the statement as delimited text.
func (req importRequest) text() (string, error) {
	if req.ContentBase64 == "" {
		return req.Content, nil
	}
	data, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		return "", domain.Invalid("contentBase64 is not valid base64")
	}
	if statement.IsSpreadsheet(req.Filename) {
		return statement.FromSpreadsheet(data)
	}
	return string(data), nil
}

// utf8 reports whether text() already yields UTF-8: JSON strings always
// do, and so does spreadsheet conversion. Only raw base64 bytes carry the
// encoding the mapping declares.
func (req importRequest) utf8() bool {
	return req.ContentBase64 == "" || statement.IsSpreadsheet(req.Filename)
}

// mapping returns the request mapping or the detected one.
func (req importRequest) mapping(content string) (statement.ImportMapping, error) {
	if req.Mapping != nil {
		m := *req.Mapping
		if req.utf8() {
			m.Encoding = "utf-8"
		}
		return m, nil
	}
	detected, err := pipeline.DetectColumns(content)
	if err != nil {
		return statement.ImportMapping{}, err
	}
	if detected.SuggestedMapping == nil {
		return statement.ImportMapping{}, domain.Invalid("mapping is required: no date column could be detected")
	}
	return *detected.SuggestedMapping, nil
}

// DetectColumns handles POST /api/imports/detect
func (h *ImportsHandler) DetectColumns(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	content, err := req.text()
	if err != nil {
		fail(w, r, err)
		return
	}
	res, err := pipeline.DetectColumns(content)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// PreviewImport handles POST /api/imports/preview
func (h *ImportsHandler) PreviewImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	content, err := req.text()
	if err != nil {
		fail(w, r, err)
		return
	}
	m, err := req.mapping(content)
	if err != nil {
		fail(w, r, err)
		return
	}
	res, err := h.service.Importer().PreviewImport(r.Context(), owner(r), req.AccountID, content, m)
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// ExecuteImport handles POST /api/imports. A failed batch is reported
// with its id so the client can look it up.
func (h *ImportsHandler) ExecuteImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	content, err := req.text()
	if err != nil {
		fail(w, r, err)
		return
	}
	m, err := req.mapping(content)
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.service.Execute(r.Context(), pipeline.ImportRequest{
		OwnerID:   owner(r),
		AccountID: req.AccountID,
		Content:   content,
		Mapping:   m,
		Filename:  filepath.Base(req.Filename),
		Source:    "api",
	})
	if bf, ok := pipeline.IsBatchFailure(err); ok {
		status := middleware.StatusFor(bf.Err)
		msg := bf.Err.Error()
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("batch_id", bf.BatchID).Msg("Import failed")
			msg = "Import failed"
		}
		middleware.WriteJSON(w, status, map[string]string{
			"error":   msg,
			"batchId": bf.BatchID,
		})
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
}

// ImportHistory handles GET /api/imports?limit=20
func (h *ImportsHandler) ImportHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, err)
		return
	}
	batches, err := h.service.Importer().ImportHistory(r.Context(), owner(r), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	if batches == nil {
		batches = []*domain.ImportBatch{}
	}
	middleware.WriteJSON(w, http.StatusOK, batches)
}

// GetBatch handles GET /api/imports/{id}
func (h *ImportsHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Importer().GetBatch(r.Context(), owner(r), pathID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, b)
}

// UploadStatement handles POST /api/imports/upload?accountId=...&filename=...
// The raw body is stored in the statements bucket and, when a queue is
// configured, an import job is enqueued for it.
func (h *ImportsHandler) UploadStatement(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil || h.bucket == "" {
		unavailable(w, "Statement storage")
		return
	}
	ctx := r.Context()
	q := r.URL.Query()
	accountID := q.Get("accountId")
	filename := q.Get("filename")
	if accountID == "" || filename == "" {
		middleware.WriteError(w, http.StatusBadRequest, "accountId and filename are required")
		return
	}
	// Clean filename - remove any path or query parameters
	if idx := strings.Index(filename, "?"); idx > 0 {
		filename = filename[:idx]
	}
	filename = filepath.Base(filename)

	object := gcsuploader.ObjectName(owner(r), accountID, filename, time.Now())
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	uri, err := h.storage.Upload(ctx, h.bucket, object, r.Body)
	if err != nil {
		h.log.Error().Err(err).Str("object", object).Msg("Failed to upload statement")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}
	h.log.Info().Str("gcs_uri", uri).Str("account_id", accountID).Msg("Statement uploaded")

	if h.publisher == nil {
		middleware.WriteJSON(w, http.StatusCreated, map[string]string{"gcs_uri": uri})
		return
	}

	job := &jobs.Job{
		Type:      jobs.JobTypeImportStatement,
		OwnerID:   owner(r),
		AccountID: accountID,
		GCSURI:    uri,
	}
	if err := h.publisher.Publish(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import job")
		return
	}
	h.log.Info().Str("job_id", job.JobID).Str("gcs_uri", uri).Msg("Import job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  job.JobID,
		"gcs_uri": uri,
		"status":  string(job.Status),
	})
}
