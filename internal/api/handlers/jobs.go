package handlers

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/statement"
	"github.com/rs/zerolog"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// GetJob handles GET /api/jobs/{id}. Other owners' jobs read as missing.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		unavailable(w, "Job queue")
		return
	}
	jobID := pathID(r)
	job, err := h.store.GetJob(r.Context(), jobID)
	if err == nil && job.OwnerID != owner(r) {
		err = domain.NotFound("job", jobID)
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		unavailable(w, "Job queue")
		return
	}

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		OwnerID:   owner(r),
		AccountID: query.Get("accountId"),
		Type:      jobs.JobType(query.Get("type")),
		Status:    jobs.JobStatus(query.Get("status")),
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		fail(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		fail(w, r, err)
		return
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// EnqueueJob handles POST /api/jobs for recalculation, snapshot and
// already uploaded statement imports.
func (h *JobsHandler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		unavailable(w, "Job queue")
		return
	}
	var req struct {
		Type      jobs.JobType             `json:"type"`
		AccountID string                   `json:"account_id"`
		GCSURI    string                   `json:"gcs_uri"`
		Mapping   *statement.ImportMapping `json:"mapping"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	job := &jobs.Job{
		Type:      req.Type,
		OwnerID:   owner(r),
		AccountID: req.AccountID,
		GCSURI:    req.GCSURI,
		Mapping:   req.Mapping,
	}
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		fail(w, r, err)
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("type", string(job.Type)).Msg("Job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"type":   string(job.Type),
		"status": string(job.Status),
	})
}
