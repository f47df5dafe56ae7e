package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"beaconattend/internal/attendance"
	"beaconattend/internal/session"
)

// NA marks a missing value in exported files.
const NA = "N/A"

var (
	attendanceHeader = []string{"Student ID", "Name", "Check-in Time", "Status", "Method", "Distance (m)"}
	sessionsHeader   = []string{"Session ID", "Class ID", "Class Name", "Room ID", "Teacher ID", "Beacon UUID", "Start Time", "End Time", "Status"}
)

// WriteCSV writes one row per record. Student ids and timestamps are
// written exactly as stored and returned by the API.
func WriteCSV(w io.Writer, records []attendance.Record, names map[string]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(attendanceHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			orNA(r.StudentID),
			orNA(names[r.StudentID]),
			formatTime(r.Timestamp),
			orNA(string(r.Status)),
			orNA(string(r.CheckInMethod)),
			formatDistance(r.BeaconDistance),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSessionsCSV writes one row per session.
func WriteSessionsCSV(w io.Writer, sessions []session.Session) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sessionsHeader); err != nil {
		return err
	}
	for _, s := range sessions {
		row := []string{
			s.SessionID,
			s.ClassID,
			orNA(s.ClassName),
			s.RoomID,
			s.TeacherID,
			s.BeaconUUID,
			formatTime(s.StartTime),
			formatTime(s.EndTime),
			string(s.Status),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func orNA(s string) string {
	if s == "" {
		return NA
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return NA
	}
	return t.Format(time.RFC3339Nano)
}

func formatDistance(d *float64) string {
	if d == nil {
		return NA
	}
	return strconv.FormatFloat(*d, 'f', -1, 64)
}
