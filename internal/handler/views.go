package handler

import (
	"context"

	"beaconattend/internal/attendance"
)

// recordView is a Record as the dashboard reads it, with the student's
// display name when one is known.
type recordView struct {
	attendance.Record
	StudentName string `json:"student_name,omitempty"`
}

func (h *Handler) views(ctx context.Context, records []attendance.Record) ([]recordView, error) {
	names, err := h.exports.Names(ctx, records)
	if err != nil {
		return nil, err
	}
	return viewsWithNames(records, names), nil
}

func viewsWithNames(records []attendance.Record, names map[string]string) []recordView {
	out := make([]recordView, 0, len(records))
	for _, r := range records {
		out = append(out, recordView{Record: r, StudentName: names[r.StudentID]})
	}
	return out
}
