package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"beaconattend/internal/apperr"
	"beaconattend/internal/attendance"
	"beaconattend/internal/clock"
	"beaconattend/internal/metrics"
	"beaconattend/internal/queue"
	"beaconattend/internal/session"
)

// MessageType tags export jobs on the queue.
const MessageType = "export"

const (
	TypeAttendance = "attendance"
	TypeSessions   = "sessions"
)

// ErrUnavailable is returned when no uploader or queue is configured.
var ErrUnavailable = errors.New("export storage is not configured")

// NameResolver maps a student id to a display name; "" means unknown.
type NameResolver interface {
	ResolveName(ctx context.Context, studentID string) (string, error)
}

// Options configures a Service. Roster, Names, Uploader and Queue are
// optional; without an uploader or queue exportToS3 is unavailable.
type Options struct {
	Roster   RosterProvider
	Names    NameResolver
	Uploader Uploader
	Queue    queue.Queue
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Service builds statistics and CSV exports.
type Service struct {
	sessions   *session.Manager
	attendance *attendance.Service
	roster     RosterProvider
	names      NameResolver
	uploader   Uploader
	queue      queue.Queue
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewService(sessions *session.Manager, att *attendance.Service, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		sessions:   sessions,
		attendance: att,
		roster:     opts.Roster,
		names:      opts.Names,
		uploader:   opts.Uploader,
		queue:      opts.Queue,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// File is a rendered export.
type File struct {
	Name string `json:"filename"`
	Data []byte `json:"-"`
	Rows int    `json:"rows"`
}

// Report is the synchronous export of one session.
type Report struct {
	Session session.Session     `json:"session"`
	Stats   Stats               `json:"stats"`
	Records []attendance.Record `json:"-"`
	Names   map[string]string   `json:"-"`
	File    File                `json:"file"`
}

// Stats aggregates a session's records against its class roster.
func (s *Service) Stats(ctx context.Context, sessionID string) (Stats, error) {
	sess, err := s.sessions.Status(ctx, sessionID)
	if err != nil {
		return Stats{}, err
	}
	records, err := s.attendance.BySession(ctx, sessionID)
	if err != nil {
		return Stats{}, err
	}
	return s.stats(ctx, sess, records)
}

func (s *Service) stats(ctx context.Context, sess session.Session, records []attendance.Record) (Stats, error) {
	var roster []string
	if s.roster != nil {
		students, ok, err := s.roster.Roster(ctx, sess.ClassID)
		if err != nil {
			return Stats{}, fmt.Errorf("load roster for %s: %w", sess.ClassID, err)
		}
		if ok {
			roster = students
			if roster == nil {
				roster = []string{}
			}
		}
	}
	return ComputeStats(records, roster), nil
}

// Names resolves display names for the students in records. Unknown
// students are absent from the map.
func (s *Service) Names(ctx context.Context, records []attendance.Record) (map[string]string, error) {
	names := make(map[string]string)
	if s.names == nil {
		return names, nil
	}
	for _, r := range records {
		if _, done := names[r.StudentID]; done {
			continue
		}
		name, err := s.names.ResolveName(ctx, r.StudentID)
		if err != nil {
			return nil, fmt.Errorf("resolve name for %s: %w", r.StudentID, err)
		}
		names[r.StudentID] = name
	}
	for id, name := range names {
		if name == "" {
			delete(names, id)
		}
	}
	return names, nil
}

// Session renders the attendance export of one session with its stats.
func (s *Service) Session(ctx context.Context, sessionID string) (Report, error) {
	if sessionID == "" {
		return Report{}, apperr.Validation("missing session_id")
	}
	sess, err := s.sessions.Status(ctx, sessionID)
	if err != nil {
		return Report{}, err
	}
	records, err := s.attendance.BySession(ctx, sessionID)
	if err != nil {
		return Report{}, err
	}
	st, err := s.stats(ctx, sess, records)
	if err != nil {
		return Report{}, err
	}
	names, err := s.Names(ctx, records)
	if err != nil {
		return Report{}, err
	}
	file, err := s.render(fmt.Sprintf("attendance_%s_%s.csv", sessionID, s.clock.Now().Format("20060102")), records, names)
	if err != nil {
		return Report{}, err
	}
	return Report{Session: sess, Stats: st, Records: records, Names: names, File: file}, nil
}

// AttendanceCSV renders one session's records, or the whole ledger when
// sessionID is empty.
func (s *Service) AttendanceCSV(ctx context.Context, sessionID string) (File, error) {
	if sessionID != "" {
		r, err := s.Session(ctx, sessionID)
		return r.File, err
	}
	records, err := s.attendance.All(ctx)
	if err != nil {
		return File{}, err
	}
	names, err := s.Names(ctx, records)
	if err != nil {
		return File{}, err
	}
	return s.render(fmt.Sprintf("attendance_all_%s.csv", s.clock.Now().Format("20060102")), records, names)
}

// SessionsCSV renders every session with its projected status.
func (s *Service) SessionsCSV(ctx context.Context) (File, error) {
	all, err := s.sessions.List(ctx)
	if err != nil {
		return File{}, err
	}
	var buf bytes.Buffer
	if err := WriteSessionsCSV(&buf, all); err != nil {
		return File{}, fmt.Errorf("render sessions csv: %w", err)
	}
	return File{Name: fmt.Sprintf("sessions_%s.csv", s.clock.Now().Format("20060102")), Data: buf.Bytes(), Rows: len(all)}, nil
}

func (s *Service) render(name string, records []attendance.Record, names map[string]string) (File, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records, names); err != nil {
		return File{}, fmt.Errorf("render attendance csv: %w", err)
	}
	return File{Name: name, Data: buf.Bytes(), Rows: len(records)}, nil
}

// Request asks for an asynchronous export.
type Request struct {
	Type        string `json:"export_type"`
	SessionID   string `json:"session_id"`
	RequestedBy string `json:"requested_by"`
}

// Job is an export queued for the worker.
type Job struct {
	ID          string    `json:"export_id"`
	Type        string    `json:"export_type"`
	SessionID   string    `json:"session_id,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	Status      string    `json:"status"`
}

// Result describes an uploaded export.
type Result struct {
	Job      Job    `json:"job"`
	Filename string `json:"filename"`
	Rows     int    `json:"rows"`
	URL      string `json:"url"`
}

// Enqueue validates req and publishes an export job.
func (s *Service) Enqueue(ctx context.Context, req Request) (Job, error) {
	if s.queue == nil || s.uploader == nil {
		return Job{}, ErrUnavailable
	}
	typ := strings.ToLower(strings.TrimSpace(req.Type))
	if typ == "" {
		typ = TypeAttendance
	}
	if typ != TypeAttendance && typ != TypeSessions {
		return Job{}, apperr.Validation("export_type must be one of [attendance sessions]")
	}
	if req.SessionID != "" {
		if _, err := s.sessions.Status(ctx, req.SessionID); err != nil {
			return Job{}, err
		}
	}
	job := Job{
		ID:          uuid.NewString(),
		Type:        typ,
		SessionID:   req.SessionID,
		RequestedBy: req.RequestedBy,
		RequestedAt: s.clock.Now(),
		Status:      "queued",
	}
	msg, err := queue.NewMessage(MessageType, job)
	if err != nil {
		return Job{}, fmt.Errorf("encode export job: %w", err)
	}
	if err := s.queue.Publish(ctx, msg); err != nil {
		return Job{}, fmt.Errorf("enqueue export: %w", err)
	}
	s.logger.Info("export queued",
		zap.String("export_id", job.ID),
		zap.String("type", job.Type),
		zap.String("session_id", job.SessionID))
	return job, nil
}

// Run renders and uploads a job.
func (s *Service) Run(ctx context.Context, job Job) (Result, error) {
	if s.uploader == nil {
		return Result{}, ErrUnavailable
	}
	var (
		file File
		err  error
	)
	switch job.Type {
	case TypeSessions:
		file, err = s.SessionsCSV(ctx)
	default:
		file, err = s.AttendanceCSV(ctx, job.SessionID)
	}
	if err != nil {
		s.metrics.Export("failed")
		return Result{}, err
	}

	name := strings.TrimSuffix(file.Name, ".csv") + "_" + shortID(job.ID) + ".csv"
	url, err := s.uploader.Upload(ctx, name, file.Data)
	if err != nil {
		s.metrics.Export("failed")
		return Result{}, fmt.Errorf("upload %s: %w", name, err)
	}
	job.Status = "done"
	s.metrics.Export("done")
	s.logger.Info("export uploaded",
		zap.String("export_id", job.ID),
		zap.String("file", name),
		zap.Int("rows", file.Rows),
		zap.String("url", url))
	return Result{Job: job, Filename: name, Rows: file.Rows, URL: url}, nil
}

// Handle decodes a queued message and runs it. Messages of other types are
// ignored.
func (s *Service) Handle(ctx context.Context, msg queue.Message) (*Result, error) {
	if msg.Type != MessageType {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return nil, fmt.Errorf("decode export job: %w", err)
	}
	res, err := s.Run(ctx, job)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
