package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"beaconattend/internal/apperr"
	"beaconattend/internal/session"
)

// The /v1 routes predate the action endpoint and are kept for the
// instructor tooling that still calls them.

func (h *Handler) startSession(c *gin.Context) {
	var in session.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, apperr.Validation("invalid JSON body"))
		return
	}
	s, err := h.sessions.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": s})
}

func (h *Handler) endSession(c *gin.Context) {
	s, err := h.sessions.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

func (h *Handler) sessionStatus(c *gin.Context) {
	s, err := h.sessions.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

func (h *Handler) listAttendance(c *gin.Context) {
	ctx := c.Request.Context()
	records, err := h.attendance.BySession(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	views, err := h.views(ctx, records)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": views})
}

func (h *Handler) exportCSV(c *gin.Context) {
	f, err := h.exports.AttendanceCSV(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Name))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", f.Data)
}

func (h *Handler) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Validation("invalid JSON body"))
		return
	}
	status, resp, err := h.recordCheckIn(c, req.input())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, resp)
}
