// Package export aggregates attendance and renders it as CSV, either on
// demand or as queued jobs uploaded to object storage.
package export

import (
	"sort"

	"beaconattend/internal/attendance"
)

// Stats summarizes a session's attendance. Absent is only known with a
// roster; without one it is zero and Total is present + late.
type Stats struct {
	Present        int      `json:"present"`
	Late           int      `json:"late"`
	Absent         int      `json:"absent"`
	Total          int      `json:"total"`
	RosterKnown    bool     `json:"roster_known"`
	AbsentStudents []string `json:"absent_students,omitempty"`
}

// ComputeStats counts records by status. A nil roster means none is known.
func ComputeStats(records []attendance.Record, roster []string) Stats {
	var st Stats
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		seen[r.StudentID] = true
		switch r.Status {
		case attendance.StatusPresent:
			st.Present++
		case attendance.StatusLate:
			st.Late++
		}
	}
	if roster != nil {
		st.RosterKnown = true
		listed := make(map[string]bool, len(roster))
		for _, id := range roster {
			if listed[id] {
				continue
			}
			listed[id] = true
			if !seen[id] {
				st.AbsentStudents = append(st.AbsentStudents, id)
			}
		}
		sort.Strings(st.AbsentStudents)
		st.Absent = len(st.AbsentStudents)
	}
	st.Total = st.Present + st.Late + st.Absent
	return st
}
