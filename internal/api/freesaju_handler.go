package api

import (
	"errors"
	"net/http"
	"strconv"

	"cheonkimoon/internal/freesaju"

	"github.com/gin-gonic/gin"
)

// CreateFreeSajuHandler - POST /api/v1/free-saju/create
func (h *Handler) CreateFreeSajuHandler(c *gin.Context) {
	var req freesaju.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	res, err := h.freeSaju.Create(c.Request.Context(), req)
	switch {
	case errors.Is(err, freesaju.ErrInvalid):
		abortWithError(c, http.StatusBadRequest, err)
		return
	case errors.Is(err, freesaju.ErrShuttingDown):
		abortWithError(c, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetFreeSajuHandler - GET /api/v1/free-saju/:id
func (h *Handler) GetFreeSajuHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, errors.New("id must be a positive integer"))
		return
	}

	view, err := h.freeSaju.Get(c.Request.Context(), id)
	if errors.Is(err, freesaju.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
