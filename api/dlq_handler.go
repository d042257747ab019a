package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
)

// ListDLQRequest holds the query of GET /v1/dlq.
type ListDLQRequest struct {
	ProfileID string `form:"profile_id"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

// ReplayDLQResponse is returned by POST /v1/dlq/:entryId/replay.
type ReplayDLQResponse struct {
	JobID    id.JobID `json:"job_id"`
	ReplayOf id.JobID `json:"replay_of"`
}

// DLQCountResponse is returned by GET /v1/dlq/count.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

func (a *API) listDLQ(c *gin.Context) {
	var req ListDLQRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return
	}
	entries, err := a.eng.DLQService().Store().ListDLQ(c.Request.Context(), dlq.ListOpts{
		Limit:     defaultLimit(req.Limit),
		Offset:    req.Offset,
		ProfileID: req.ProfileID,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) getDLQ(c *gin.Context) {
	entryID, err := id.ParseDLQID(c.Param("entryId"))
	if err != nil {
		badRequest(c, "invalid DLQ entry ID: "+err.Error())
		return
	}
	entry, err := a.eng.DLQService().Store().GetDLQ(c.Request.Context(), entryID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) replayDLQ(c *gin.Context) {
	entryID, err := id.ParseDLQID(c.Param("entryId"))
	if err != nil {
		badRequest(c, "invalid DLQ entry ID: "+err.Error())
		return
	}
	j, err := a.eng.Replay(c.Request.Context(), entryID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ReplayDLQResponse{JobID: j.ID, ReplayOf: j.ReplayOf})
}

func (a *API) dlqCount(c *gin.Context) {
	count, err := a.eng.DLQService().Store().CountDLQ(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DLQCountResponse{Count: count})
}
