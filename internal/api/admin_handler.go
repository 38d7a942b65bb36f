package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// UsageHandler - GET /admin/usage?date=YYYY-MM-DD (default today)
func (h *Handler) UsageHandler(c *gin.Context) {
	date := c.DefaultQuery("date", time.Now().Format("2006-01-02"))

	daily, err := h.stats.Daily(c.Request.Context(), date)
	if err != nil {
		if _, perr := time.Parse("2006-01-02", date); perr != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, daily)
}
