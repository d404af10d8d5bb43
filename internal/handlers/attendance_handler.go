package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fieldpulse/internal/middleware"
	"fieldpulse/internal/repos"
	"fieldpulse/internal/services"
)

type AttendanceHandler struct {
	svc *services.AttendanceService
}

func NewAttendanceHandler(svc *services.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{svc: svc}
}

type pulseBody struct {
	Lat      *float64 `json:"lat" binding:"required"`
	Lng      *float64 `json:"lng" binding:"required"`
	Accuracy *float64 `json:"accuracy"`
}

func (h *AttendanceHandler) PostPulse(c *gin.Context) {
	workerID := middleware.WorkerIDFromContext(c)
	var body pulseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	in := services.PulseInput{Lat: *body.Lat, Lng: *body.Lng}
	if body.Accuracy != nil {
		in.Accuracy = *body.Accuracy
	}
	res, err := h.svc.IngestPulse(c.Request.Context(), workerID, in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AttendanceHandler) GetStatus(c *gin.Context) {
	workerID := middleware.WorkerIDFromContext(c)
	res, err := h.svc.Status(c.Request.Context(), workerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type clockBody struct {
	Action string `json:"action" binding:"required"`
}

func (h *AttendanceHandler) PostClock(c *gin.Context) {
	workerID := middleware.WorkerIDFromContext(c)
	var body clockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	action := services.ClockAction(strings.ToUpper(strings.TrimSpace(body.Action)))
	sess, err := h.svc.Clock(c.Request.Context(), workerID, action)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *AttendanceHandler) ListAudit(c *gin.Context) {
	workerID := middleware.WorkerIDFromContext(c)
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			limit = i
		}
	}
	entries, err := h.svc.AuditTrail(c.Request.Context(), workerID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *AttendanceHandler) writeError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repos.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		// Anything else is storage trouble; the pulse is safe to retry.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	}
}
