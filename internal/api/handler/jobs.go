// Package handler implements the HTTP handlers for the job API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/lisperz/frazo/internal/api/middleware"
	"github.com/lisperz/frazo/internal/api/response"
	"github.com/lisperz/frazo/internal/billing"
	"github.com/lisperz/frazo/internal/cache"
	"github.com/lisperz/frazo/internal/store"
	"github.com/lisperz/frazo/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	statusCacheTTL   = 30 * time.Minute
)

// Enqueuer hands a freshly created job to the orchestration workers.
type Enqueuer interface {
	Enqueue(jobID uuid.UUID) bool
}

type createJobRequest struct {
	InputPath    string               `json:"input_path"`
	Language     string               `json:"language"`
	LipSync      *models.LipSyncStage `json:"lipsync"`
	Inpaint      *models.InpaintStage `json:"inpaint"`
	VendorParams map[string]string    `json:"vendor_params"`
}

// NewCreateJobHandler returns the handler for POST /api/v1/jobs. The job is
// accepted (202) once persisted; processing continues asynchronously.
func NewCreateJobHandler(s store.Store, c cache.Cache, enq Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.InputPath == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "input_path is required", nil)
			return
		}

		desc := models.Descriptor{
			Language:     req.Language,
			LipSync:      req.LipSync,
			Inpaint:      req.Inpaint,
			VendorParams: req.VendorParams,
		}
		if desc.LipSync == nil && !desc.NeedsInpaint() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"at least one processing stage (lipsync or inpaint) is required", nil)
			return
		}
		if desc.LipSync != nil && desc.LipSync.AudioURL == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"lipsync.audio_url is required", nil)
			return
		}
		for _, region := range regions(desc) {
			if region.Width <= 0 || region.Height <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"inpaint regions must have positive width and height", nil)
				return
			}
		}

		estimate := billing.Estimate(desc)
		user, err := s.GetUser(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load account", nil)
			return
		}
		if user.Credits < estimate {
			response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
				"Not enough credits for this job",
				map[string]int{"required": estimate, "available": user.Credits})
			return
		}

		now := time.Now().UTC()
		job := &models.Job{
			ID:               uuid.New(),
			UserID:           userID,
			Status:           models.JobStatusQueued,
			Descriptor:       desc,
			InputPath:        req.InputPath,
			EstimatedCredits: estimate,
			MaxRetries:       3,
			QueuedAt:         now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.CreateJob(r.Context(), job); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create job", nil)
			return
		}

		c.SetJobStatus(r.Context(), job.UserID, job.ID, job.Status, statusCacheTTL)

		// A full queue is not an error: the reconciler re-enqueues on its
		// next sweep.
		enq.Enqueue(job.ID)

		response.Accepted(w, job)
	}
}

func regions(d models.Descriptor) []models.Region {
	if d.Inpaint == nil {
		return nil
	}
	return d.Inpaint.Regions
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadOwnedJob(w, r, s)
		if !ok {
			return
		}
		response.JSON(w, job)
	}
}

// NewJobStatusHandler returns the handler for GET /api/v1/jobs/{jobID}/status,
// a lightweight poll endpoint served from the Redis status mirror when warm.
func NewJobStatusHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		// The mirror key is scoped to the caller, so a hit cannot leak
		// another user's job.
		if status, hit, err := c.GetJobStatus(r.Context(), userID, jobID); err == nil && hit {
			response.JSON(w, map[string]string{"id": jobID.String(), "status": status})
			return
		}

		job, err := s.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && job.UserID != userID) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		c.SetJobStatus(r.Context(), job.UserID, job.ID, job.Status, statusCacheTTL)
		response.JSON(w, map[string]string{"id": job.ID.String(), "status": job.Status})
	}
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs.
func NewListJobsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		page := queryInt(r, "page", 1)
		if page < 1 {
			page = 1
		}
		limit := queryInt(r, "limit", defaultPageLimit)
		if limit < 1 {
			limit = defaultPageLimit
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		jobs, total, err := s.ListJobsByUser(r.Context(), store.JobFilter{
			UserID: userID,
			Status: r.URL.Query().Get("status"),
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list jobs", nil)
			return
		}

		response.Collection(w, jobs, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
// Cancellation wins any race with in-flight orchestration: once the status
// flips, every subsequent orchestration write is refused.
func NewCancelJobHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadOwnedJob(w, r, s)
		if !ok {
			return
		}

		canceled, err := s.CancelJob(r.Context(), job.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel job", nil)
			return
		}
		if !canceled {
			response.Error(w, http.StatusConflict, "ALREADY_TERMINAL",
				"Job already reached a terminal status", map[string]string{"status": job.Status})
			return
		}

		c.SetJobStatus(r.Context(), job.UserID, job.ID, models.JobStatusCanceled, statusCacheTTL)
		response.JSON(w, map[string]string{"id": job.ID.String(), "status": models.JobStatusCanceled})
	}
}

// loadOwnedJob fetches the job in the URL and enforces ownership. Jobs owned
// by other users are reported as not found, never as forbidden.
func loadOwnedJob(w http.ResponseWriter, r *http.Request, s store.Store) (*models.Job, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return nil, false
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
		return nil, false
	}

	job, err := s.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && job.UserID != userID) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return nil, false
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
		return nil, false
	}
	return job, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
