package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/courier/governor"
)

// UsageResponse is returned by GET /v1/usage/:profile.
type UsageResponse struct {
	ProfileID string          `json:"profile_id"`
	Usage     governor.Usage  `json:"usage"`
	Quotas    governor.Quotas `json:"quotas"`
	DayResets time.Time       `json:"day_resets_at"`
	HourReset time.Time       `json:"hour_resets_at"`
}

func (a *API) usage(c *gin.Context) {
	profileID := c.Param("profile")
	u, err := a.eng.Usage(c.Request.Context(), profileID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	now := a.eng.Courier().Now()
	c.JSON(http.StatusOK, UsageResponse{
		ProfileID: profileID,
		Usage:     u,
		Quotas:    a.eng.Governor().Quotas(),
		DayResets: governor.NextDay(now),
		HourReset: governor.NextHour(now),
	})
}
