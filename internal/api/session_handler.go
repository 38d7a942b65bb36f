package api

import (
	"errors"
	"net/http"

	"cheonkimoon/internal/reading"
	"cheonkimoon/internal/session"

	"github.com/gin-gonic/gin"
)

// CreateSessionHandler stores a reading request so that an EventSource,
// which can only GET, can stream it afterwards.
func (h *Handler) CreateSessionHandler(c *gin.Context) {
	var req reading.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if _, ok := reading.ParseVariant(string(req.Variant)); !ok {
		abortWithError(c, http.StatusBadRequest, errors.New("variant must be one of full-reading, first-impression, step, section"))
		return
	}
	if err := requireTarget(req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	// surface unknown steps/sections now rather than inside the stream
	if _, err := h.reading.Prepare(req); err != nil {
		abortWithError(c, reading.StatusOf(err), err)
		return
	}

	id := h.sessions.Put(req)
	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"stream_url": "/sessions/" + id + "/stream",
		"expires_in": int(h.cfg.Server.SessionTTL.Seconds()),
	})
}

// SessionStreamHandler consumes a stored session and streams it.
func (h *Handler) SessionStreamHandler(c *gin.Context) {
	req, err := h.sessions.Take(c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	h.streamReading(c, req)
}
