package attendance

import (
	"time"

	"beaconattend/internal/proximity"
)

// Status classifies a student's attendance for a session. Absent is only
// derived during aggregation; check-ins produce present or late.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Record is one immutable check-in.
type Record struct {
	AttendanceID   string           `json:"attendance_id"`
	SessionID      string           `json:"session_id"`
	StudentID      string           `json:"student_id"`
	Timestamp      time.Time        `json:"timestamp"`
	Status         Status           `json:"status"`
	CheckInMethod  proximity.Method `json:"check_in_method"`
	BeaconDistance *float64         `json:"beacon_distance"`
	RSSI           *int             `json:"rssi,omitempty"`
}
