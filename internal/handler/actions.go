package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"beaconattend/internal/apperr"
	"beaconattend/internal/attendance"
	"beaconattend/internal/auth"
	"beaconattend/internal/export"
	"beaconattend/internal/session"
	"beaconattend/internal/users"
)

const maxBodyBytes = 1 << 20

type actionFunc func(c *gin.Context, body []byte) (int, any, error)

type action struct {
	run   actionFunc
	staff bool
}

func (h *Handler) actionTable() map[string]action {
	return map[string]action{
		"createSession":          {run: h.createSession, staff: true},
		"closeSession":           {run: h.closeSession, staff: true},
		"getSessionStatus":       {run: h.getSessionStatus},
		"getSessionByUUID":       {run: h.getSessionByUUID},
		"getActiveSession":       {run: h.getActiveSession},
		"getAllSessions":         {run: h.getAllSessions, staff: true},
		"markAttendance":         {run: h.markAttendance},
		"getAttendanceBySession": {run: h.getAttendanceBySession, staff: true},
		"getAttendanceByStudent": {run: h.getAttendanceByStudent},
		"getAllAttendance":       {run: h.getAllAttendance, staff: true},
		"exportAttendance":       {run: h.exportAttendance, staff: true},
		"exportToS3":             {run: h.exportToS3, staff: true},
		"createUser":             {run: h.createUser},
		"getUser":                {run: h.getUser},
		"loginUser":              {run: h.loginUser},
		"refreshToken":           {run: h.refreshToken},
	}
}

// dispatch serves POST /api. The body names an action and carries its
// parameters at the top level.
func (h *Handler) dispatch(c *gin.Context) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		h.fail(c, apperr.Validation("read body: %v", err))
		return
	}
	if len(body) > maxBodyBytes {
		h.fail(c, apperr.Validation("request body too large"))
		return
	}
	var env struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		h.fail(c, apperr.Validation("invalid JSON body"))
		return
	}
	if env.Action == "" {
		h.fail(c, apperr.Validation("missing action"))
		return
	}
	a, ok := h.actions[env.Action]
	if !ok {
		h.fail(c, apperr.Validation("unknown action %q", env.Action))
		return
	}
	c.Set("action", env.Action)

	var (
		status int
		resp   any
	)
	if a.staff {
		err = h.requireInstructor(c)
	}
	if err == nil {
		status, resp, err = a.run(c, body)
	}
	if err != nil {
		h.fail(c, err)
		h.observe(env.Action, c.Writer.Status(), start)
		return
	}
	c.JSON(status, resp)
	h.observe(env.Action, status, start)
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return apperr.Validation("invalid value for %s", typeErr.Field)
		}
		return apperr.Validation("invalid JSON body")
	}
	return nil
}

type sessionRef struct {
	SessionID string `json:"session_id"`
}

func (r sessionRef) require() error {
	if r.SessionID == "" {
		return apperr.Validation("missing session_id")
	}
	return nil
}

type studentRef struct {
	StudentID string `json:"student_id"`
}

func (r studentRef) require() error {
	if r.StudentID == "" {
		return apperr.Validation("missing student_id")
	}
	return nil
}

func (h *Handler) createSession(c *gin.Context, body []byte) (int, any, error) {
	var in session.CreateInput
	if err := decode(body, &in); err != nil {
		return 0, nil, err
	}
	s, err := h.sessions.Create(c.Request.Context(), in)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, gin.H{"session": s}, nil
}

func (h *Handler) closeSession(c *gin.Context, body []byte) (int, any, error) {
	var ref sessionRef
	if err := decode(body, &ref); err != nil {
		return 0, nil, err
	}
	if err := ref.require(); err != nil {
		return 0, nil, err
	}
	s, err := h.sessions.Close(c.Request.Context(), ref.SessionID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, gin.H{"session": s}, nil
}

func (h *Handler) getSessionStatus(c *gin.Context, body []byte) (int, any, error) {
	var ref sessionRef
	if err := decode(body, &ref); err != nil {
		return 0, nil, err
	}
	if err := ref.require(); err != nil {
		return 0, nil, err
	}
	s, err := h.sessions.Status(c.Request.Context(), ref.SessionID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, gin.H{"session": s}, nil
}

// getSessionByUUID looks a session up by id, or by the beacon a student
// app detected. For a beacon, session is the newest one in any status and
// sessions holds the one still accepting check-ins, if any.
func (h *Handler) getSessionByUUID(c *gin.Context, body []byte) (int, any, error) {
	var in struct {
		SessionID  string `json:"session_id"`
		BeaconUUID string `json:"beacon_uuid"`
	}
	if err := decode(body, &in); err != nil {
		return 0, nil, err
	}
	ctx := c.Request.Context()
	switch {
	case in.SessionID != "":
		s, err := h.sessions.Status(ctx, in.SessionID)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, gin.H{"session": s}, nil
	case in.BeaconUUID != "":
		latest, err := h.sessions.LatestByBeacon(ctx, in.BeaconUUID)
		if err != nil {
			return 0, nil, err
		}
		open, err := h.sessions.ByBeacon(ctx, in.BeaconUUID)
		if err != nil {
			return 0, nil, err
		}
		active := []session.Session{}
		if open != nil {
			active = append(active, *open)
		}
		return http.StatusOK, gin.H{"session": latest, "sessions": active, "valid": len(active) > 0}, nil
	}
	return 0, nil, apperr.Validation("missing session_id or beacon_uuid")
}

func (h *Handler) getActiveSession(c *gin.Context, body []byte) (int, any, error) {
	var f session.Filter
	if err := decode(body, &f); err != nil {
		return 0, nil, err
	}
	s, err := h.sessions.Active(c.Request.Context(), f)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, gin.H{"session": s}, nil
}

func (h *Handler) getAllSessions(c *gin.Context, _ []byte) (int, any, error) {
	all, err := h.sessions.List(c.Request.Context())
	if err != nil {
		return 0, nil, err
	}
	if all == nil {
		all = []session.Session{}
	}
	return http.StatusOK, gin.H{"sessions": all}, nil
}

// checkInRequest also accepts detected_uuid, which older student app
// builds send in place of beacon_uuid.
type checkInRequest struct {
	attendance.CheckInInput
	DetectedUUID string `json:"detected_uuid"`
}

func (r checkInRequest) input() attendance.CheckInInput {
	in := r.CheckInInput
	if in.BeaconUUID == "" {
		in.BeaconUUID = r.DetectedUUID
	}
	return in
}

func (h *Handler) markAttendance(c *gin.Context, body []byte) (int, any, error) {
	var req checkInRequest
	if err := decode(body, &req); err != nil {
		return 0, nil, err
	}
	status, resp, err := h.recordCheckIn(c, req.input())
	if err != nil {
		return 0, nil, err
	}
	return status, resp, nil
}

func (h *Handler) recordCheckIn(c *gin.Context, in attendance.CheckInInput) (int, gin.H, error) {
	if err := h.allowStudent(c, in.StudentID); err != nil {
		return 0, nil, err
	}
	ctx := c.Request.Context()
	res, err := h.attendance.CheckIn(ctx, in)
	if err != nil {
		return 0, nil, err
	}
	views, err := h.views(ctx, []attendance.Record{res.Record})
	if err != nil {
		return 0, nil, err
	}
	status, msg := http.StatusCreated, "attendance recorded"
	if res.Duplicate {
		status, msg = http.StatusOK, "already checked in"
	}
	return status, gin.H{
		"attendance": views[0],
		"duplicate":  res.Duplicate,
		"message":    msg,
	}, nil
}

func (h *Handler) getAttendanceBySession(c *gin.Context, body []byte) (int, any, error) {
	var ref sessionRef
	if err := decode(body, &ref); err != nil {
		return 0, nil, err
	}
	if err := ref.require(); err != nil {
		return 0, nil, err
	}
	ctx := c.Request.Context()
	records, err := h.attendance.BySession(ctx, ref.SessionID)
	if err != nil {
		return 0, nil, err
	}
	return h.recordsResponse(ctx, records)
}

func (h *Handler) getAttendanceByStudent(c *gin.Context, body []byte) (int, any, error) {
	var ref studentRef
	if err := decode(body, &ref); err != nil {
		return 0, nil, err
	}
	if err := ref.require(); err != nil {
		return 0, nil, err
	}
	if err := h.allowStudent(c, ref.StudentID); err != nil {
		return 0, nil, err
	}
	ctx := c.Request.Context()
	records, err := h.attendance.ByStudent(ctx, ref.StudentID)
	if err != nil {
		return 0, nil, err
	}
	return h.recordsResponse(ctx, records)
}

func (h *Handler) getAllAttendance(c *gin.Context, _ []byte) (int, any, error) {
	ctx := c.Request.Context()
	records, err := h.attendance.All(ctx)
	if err != nil {
		return 0, nil, err
	}
	return h.recordsResponse(ctx, records)
}

func (h *Handler) recordsResponse(ctx context.Context, records []attendance.Record) (int, any, error) {
	views, err := h.views(ctx, records)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, gin.H{"records": views}, nil
}

func (h *Handler) exportAttendance(c *gin.Context, body []byte) (int, any, error) {
	var ref sessionRef
	if err := decode(body, &ref); err != nil {
		return 0, nil, err
	}
	if err := ref.require(); err != nil {
		return 0, nil, err
	}
	rep, err := h.exports.Session(c.Request.Context(), ref.SessionID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, gin.H{
		"session":  rep.Session,
		"stats":    rep.Stats,
		"records":  viewsWithNames(rep.Records, rep.Names),
		"csv":      string(rep.File.Data),
		"filename": rep.File.Name,
	}, nil
}

func (h *Handler) exportToS3(c *gin.Context, body []byte) (int, any, error) {
	var req export.Request
	if err := decode(body, &req); err != nil {
		return 0, nil, err
	}
	if claims, ok := auth.ClaimsFrom(c); ok && req.RequestedBy == "" {
		req.RequestedBy = claims.Subject
	}
	job, err := h.exports.Enqueue(c.Request.Context(), req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusAccepted, gin.H{"export": job}, nil
}

func (h *Handler) createUser(c *gin.Context, body []byte) (int, any, error) {
	var in users.CreateInput
	if err := decode(body, &in); err != nil {
		return 0, nil, err
	}
	if in.Role == users.RoleInstructor {
		if err := h.requireInstructor(c); err != nil {
			return 0, nil, err
		}
	}
	u, err := h.users.Create(c.Request.Context(), in)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, gin.H{"user": u}, nil
}

func (h *Handler) getUser(c *gin.Context, body []byte) (int, any, error) {
	var ref studentRef
	if err := decode(body, &ref); err != nil {
		return 0, nil, err
	}
	if err := ref.require(); err != nil {
		return 0, nil, err
	}
	if err := h.allowStudent(c, ref.StudentID); err != nil {
		return 0, nil, err
	}
	u, err := h.users.Get(c.Request.Context(), ref.StudentID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, gin.H{"user": u}, nil
}

func (h *Handler) loginUser(c *gin.Context, body []byte) (int, any, error) {
	var in users.LoginInput
	if err := decode(body, &in); err != nil {
		return 0, nil, err
	}
	u, err := h.users.Login(c.Request.Context(), in)
	if err != nil {
		return 0, nil, err
	}
	tokens, err := h.issuer.Issue(u.StudentID, string(u.Role))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, gin.H{"user": u, "tokens": tokens}, nil
}

func (h *Handler) refreshToken(_ *gin.Context, body []byte) (int, any, error) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decode(body, &in); err != nil {
		return 0, nil, err
	}
	if in.RefreshToken == "" {
		return 0, nil, apperr.Validation("missing refresh_token")
	}
	tokens, err := h.issuer.Refresh(in.RefreshToken)
	if err != nil {
		return 0, nil, apperr.Unauthorized("invalid refresh token")
	}
	return http.StatusOK, gin.H{"tokens": tokens}, nil
}

// requireInstructor is a no-op unless auth is enforced.
func (h *Handler) requireInstructor(c *gin.Context) error {
	if !h.authRequired {
		return nil
	}
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		return apperr.Unauthorized("missing bearer token")
	}
	if !auth.HasRole(claims, auth.RoleInstructor) {
		return apperr.Forbidden("instructor role required")
	}
	return nil
}

// allowStudent lets a student act on their own records. Instructors may
// act on anyone's.
func (h *Handler) allowStudent(c *gin.Context, studentID string) error {
	if !h.authRequired {
		return nil
	}
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		return apperr.Unauthorized("missing bearer token")
	}
	if auth.HasRole(claims, auth.RoleInstructor) || claims.Subject == studentID {
		return nil
	}
	return apperr.Forbidden("token does not belong to student " + studentID)
}
