package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// IdempotencyHeader carries the caller's idempotency key when the body
// does not.
const IdempotencyHeader = "Idempotency-Key"

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	OwnerID        string      `json:"owner_id"`
	ProfileID      string      `json:"profile_id"`
	Kind           job.Kind    `json:"kind"`
	Payload        job.Payload `json:"payload"`
	Priority       int         `json:"priority"`
	ScheduledFor   *time.Time  `json:"scheduled_for"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// SubmitJobResponse is returned by POST /v1/jobs.
type SubmitJobResponse struct {
	JobID  id.JobID   `json:"job_id"`
	Status job.Status `json:"status"`
}

// ListJobsRequest holds the query of GET /v1/jobs.
type ListJobsRequest struct {
	Status    string `form:"status"`
	ProfileID string `form:"profile_id"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

// CancelJobResponse is returned by POST /v1/jobs/:jobId/cancel.
type CancelJobResponse struct {
	Cancelled bool       `json:"cancelled"`
	Status    job.Status `json:"status"`
}

// JobCountsResponse holds job counts per status.
type JobCountsResponse map[job.Status]int64

var allStatuses = []job.Status{
	job.StatusQueued,
	job.StatusDeduplicated,
	job.StatusRateChecked,
	job.StatusPosting,
	job.StatusRateLimited,
	job.StatusCompleted,
	job.StatusFailed,
	job.StatusCancelled,
}

func (a *API) submitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(IdempotencyHeader)
	}

	sr := engine.SubmitRequest{
		OwnerID:        req.OwnerID,
		ProfileID:      req.ProfileID,
		Kind:           req.Kind,
		Payload:        req.Payload,
		Priority:       req.Priority,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.ScheduledFor != nil {
		sr.ScheduledFor = *req.ScheduledFor
	}

	jobID, err := a.eng.Submit(c.Request.Context(), sr)
	if err != nil {
		a.writeError(c, err)
		return
	}
	st, err := a.eng.Status(c.Request.Context(), jobID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SubmitJobResponse{JobID: jobID, Status: st.Status})
}

func (a *API) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		badRequest(c, "invalid job ID: "+err.Error())
		return
	}
	st, err := a.eng.Status(c.Request.Context(), jobID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (a *API) cancelJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		badRequest(c, "invalid job ID: "+err.Error())
		return
	}
	ok, err := a.eng.Cancel(c.Request.Context(), jobID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	st, err := a.eng.Status(c.Request.Context(), jobID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CancelJobResponse{Cancelled: ok, Status: st.Status})
}

func (a *API) listJobs(c *gin.Context) {
	var req ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return
	}
	status := job.Status(req.Status)
	if status == "" {
		status = job.StatusQueued
	}
	if !validStatus(status) {
		badRequest(c, "unknown status "+req.Status)
		return
	}

	jobs, err := a.eng.JobStore().ListJobsByStatus(c.Request.Context(), status, job.ListOpts{
		Limit:     defaultLimit(req.Limit),
		Offset:    req.Offset,
		ProfileID: req.ProfileID,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (a *API) jobCounts(c *gin.Context) {
	profileID := c.Query("profile_id")
	counts := make(JobCountsResponse, len(allStatuses))
	for _, s := range allStatuses {
		n, err := a.eng.JobStore().CountJobs(c.Request.Context(), job.CountOpts{ProfileID: profileID, Status: s})
		if err != nil {
			a.writeError(c, err)
			return
		}
		counts[s] = n
	}
	c.JSON(http.StatusOK, counts)
}

func validStatus(s job.Status) bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}
