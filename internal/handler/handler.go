// Package handler exposes the attendance engine over HTTP: the action
// endpoint used by the dashboard and student app, the older REST routes,
// and health checks.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"beaconattend/internal/apperr"
	"beaconattend/internal/attendance"
	"beaconattend/internal/auth"
	"beaconattend/internal/export"
	"beaconattend/internal/metrics"
	"beaconattend/internal/session"
	"beaconattend/internal/users"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Sessions     *session.Manager
	Attendance   *attendance.Service
	Exports      *export.Service
	Users        *users.Service
	Issuer       auth.Issuer
	AuthRequired bool
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

type Handler struct {
	sessions     *session.Manager
	attendance   *attendance.Service
	exports      *export.Service
	users        *users.Service
	issuer       auth.Issuer
	authRequired bool
	logger       *zap.Logger
	metrics      *metrics.Metrics
	actions      map[string]action
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &Handler{
		sessions:     d.Sessions,
		attendance:   d.Attendance,
		exports:      d.Exports,
		users:        d.Users,
		issuer:       d.Issuer,
		authRequired: d.AuthRequired,
		logger:       d.Logger,
		metrics:      d.Metrics,
	}
	h.actions = h.actionTable()
	return h
}

// Register mounts the action endpoint and the REST routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/api", h.dispatch)

	v1 := r.Group("/v1")
	staff := v1.Group("")
	if h.authRequired {
		staff.Use(auth.RequireRole(auth.RoleInstructor))
	}
	staff.POST("/session/start", h.startSession)
	staff.PUT("/session/end/:id", h.endSession)
	staff.GET("/attendance/list/:id", h.listAttendance)
	staff.GET("/attendance/export/:id", h.exportCSV)

	v1.GET("/session/status/:id", h.sessionStatus)
	v1.POST("/attendance/checkin", h.checkIn)
}

// errorStatus maps an engine error to an HTTP status and client code.
func errorStatus(err error) (int, string) {
	if e, ok := apperr.As(err); ok {
		switch e.Kind {
		case apperr.KindValidation:
			return http.StatusBadRequest, e.Code()
		case apperr.KindUnauthorized:
			return http.StatusUnauthorized, e.Code()
		case apperr.KindForbidden, apperr.KindProximity, apperr.KindSessionClosed:
			return http.StatusForbidden, e.Code()
		case apperr.KindNotFound:
			return http.StatusNotFound, e.Code()
		case apperr.KindConflict:
			return http.StatusConflict, e.Code()
		}
	}
	if errors.Is(err, export.ErrUnavailable) {
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// fail writes the error body. Unexpected errors are logged and their
// message is not sent to the client.
func (h *Handler) fail(c *gin.Context, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		msg = "internal server error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

func (h *Handler) observe(action string, status int, start time.Time) {
	h.metrics.ObserveAction(action, http.StatusText(status), time.Since(start))
}
