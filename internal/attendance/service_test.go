package attendance

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconattend/internal/apperr"
	"beaconattend/internal/clock"
	"beaconattend/internal/proximity"
	"beaconattend/internal/session"
)

const (
	beacon      = "D001A2B6-AA1F-4860-9E43-FC83C418FC58"
	otherBeacon = "B234C5D7-BB2F-4961-8F54-AD94D529AD69"
	student     = "6522781713"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clk      *clock.FakeClock
	sessions *session.Manager
	ledger   *MemoryLedger
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.Fake(t0)
	sessions := session.NewManager(session.NewMemoryStore(), session.Options{Clock: clk})
	ledger := NewMemoryLedger()
	return &fixture{
		clk:      clk,
		sessions: sessions,
		ledger:   ledger,
		svc:      NewService(sessions, ledger, Options{}),
	}
}

func (f *fixture) open(t *testing.T, window int) session.Session {
	t.Helper()
	s, err := f.sessions.Create(context.Background(), session.CreateInput{
		ClassID:       "DES424",
		RoomID:        "BKD3507",
		TeacherID:     "T001",
		BeaconUUID:    beacon,
		WindowMinutes: window,
	})
	require.NoError(t, err)
	return s
}

func ptr[T any](v T) *T { return &v }

func TestScenarioDES424(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, 5)
	assert.Equal(t, s.StartTime.Add(5*time.Minute), s.EndTime)

	f.clk.Advance(30 * time.Second)
	first, err := f.svc.CheckIn(ctx, CheckInInput{
		SessionID:  s.SessionID,
		StudentID:  student,
		BeaconUUID: beacon,
		Distance:   ptr(1.2),
	})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, StatusPresent, first.Record.Status)
	assert.Equal(t, proximity.MethodBeaconScan, first.Record.CheckInMethod)
	require.NotNil(t, first.Record.BeaconDistance)
	assert.Equal(t, 1.2, *first.Record.BeaconDistance)

	f.clk.Advance(30 * time.Second)
	again, err := f.svc.CheckIn(ctx, CheckInInput{
		SessionID:  s.SessionID,
		StudentID:  student,
		BeaconUUID: beacon,
		Distance:   ptr(0.8),
	})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Record, again.Record)

	records, err := f.svc.BySession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	f.clk.Set(s.EndTime.Add(time.Second))
	_, err = f.svc.CheckIn(ctx, CheckInInput{
		SessionID:  s.SessionID,
		StudentID:  "6522781714",
		BeaconUUID: beacon,
		Distance:   ptr(1.0),
	})
	assert.True(t, apperr.Is(err, apperr.KindSessionClosed), "got %v", err)

	records, err = f.svc.BySession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// roundingLedger stores timestamps at microsecond precision the way a
// Postgres TIMESTAMPTZ column does.
type roundingLedger struct {
	*MemoryLedger
}

func (l roundingLedger) Append(ctx context.Context, r Record) error {
	r.Timestamp = r.Timestamp.Round(time.Microsecond)
	return l.MemoryLedger.Append(ctx, r)
}

func TestCheckInResultMatchesStoredRecord(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(t0.Add(1500 * time.Nanosecond))
	sessions := session.NewManager(session.NewMemoryStore(), session.Options{Clock: clk})
	ledger := roundingLedger{NewMemoryLedger()}
	svc := NewService(sessions, ledger, Options{})

	s, err := sessions.Create(ctx, session.CreateInput{ClassID: "DES424", RoomID: "BKD3507", TeacherID: "T001", BeaconUUID: beacon})
	require.NoError(t, err)
	assert.Zero(t, s.StartTime.Nanosecond()%1000)

	clk.Advance(42*time.Second + 700*time.Nanosecond)
	first, err := svc.CheckIn(ctx, CheckInInput{SessionID: s.SessionID, StudentID: student, BeaconUUID: beacon, Distance: ptr(1.2)})
	require.NoError(t, err)

	stored, err := ledger.Get(ctx, s.SessionID, student)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, *stored, first.Record)

	again, err := svc.CheckIn(ctx, CheckInInput{SessionID: s.SessionID, StudentID: student, BeaconUUID: beacon, Distance: ptr(1.2)})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Record, again.Record)
}

func TestCheckInRejectsProximity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, 5)

	tests := []struct {
		name   string
		in     CheckInInput
		reason string
	}{
		{"other beacon", CheckInInput{SessionID: s.SessionID, StudentID: student, BeaconUUID: otherBeacon, Distance: ptr(1.0)}, "uuid_mismatch"},
		{"too far", CheckInInput{SessionID: s.SessionID, StudentID: student, BeaconUUID: beacon, Distance: ptr(6.0)}, "too_far"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CheckIn(ctx, tc.in)
			e, ok := apperr.As(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, apperr.KindProximity, e.Kind)
			assert.Equal(t, tc.reason, e.Code())
		})
	}

	all, err := f.svc.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCheckInCaseInsensitiveBeacon(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 5)
	res, err := f.svc.CheckIn(context.Background(), CheckInInput{
		SessionID:  s.SessionID,
		StudentID:  student,
		BeaconUUID: "d001a2b6-aa1f-4860-9e43-fc83c418fc58",
		Distance:   ptr(2.0),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, res.Record.Status)
}

func TestCheckInManualEntry(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 5)
	res, err := f.svc.CheckIn(context.Background(), CheckInInput{
		SessionID:  s.SessionID,
		StudentID:  student,
		BeaconUUID: beacon,
	})
	require.NoError(t, err)
	assert.Equal(t, proximity.MethodManualEntry, res.Record.CheckInMethod)
	assert.Nil(t, res.Record.BeaconDistance)
}

func TestCheckInGraceCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, 10)

	f.clk.Set(s.StartTime.Add(5*time.Minute - time.Nanosecond))
	early, err := f.svc.CheckIn(ctx, CheckInInput{SessionID: s.SessionID, StudentID: "A", BeaconUUID: beacon, Distance: ptr(1.0)})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, early.Record.Status)

	f.clk.Set(s.StartTime.Add(5 * time.Minute))
	cutoff, err := f.svc.CheckIn(ctx, CheckInInput{SessionID: s.SessionID, StudentID: "B", BeaconUUID: beacon, Distance: ptr(1.0)})
	require.NoError(t, err)
	assert.Equal(t, StatusLate, cutoff.Record.Status)

	f.clk.Set(s.EndTime)
	last, err := f.svc.CheckIn(ctx, CheckInInput{SessionID: s.SessionID, StudentID: "C", BeaconUUID: beacon, Distance: ptr(1.0)})
	require.NoError(t, err)
	assert.Equal(t, StatusLate, last.Record.Status)
}

func TestCheckInCustomGrace(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.sessions, f.ledger, Options{GraceFraction: 0.2})
	s := f.open(t, 10)

	f.clk.Advance(3 * time.Minute)
	res, err := f.svc.CheckIn(context.Background(), CheckInInput{SessionID: s.SessionID, StudentID: student, BeaconUUID: beacon})
	require.NoError(t, err)
	assert.Equal(t, StatusLate, res.Record.Status)
}

func TestCheckInAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, 5)

	_, err := f.sessions.Close(ctx, s.SessionID)
	require.NoError(t, err)

	_, err = f.svc.CheckIn(ctx, CheckInInput{SessionID: s.SessionID, StudentID: student, BeaconUUID: beacon})
	assert.True(t, apperr.Is(err, apperr.KindSessionClosed))
}

func TestCheckInResolvesSessionFromBeacon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, 5)

	res, err := f.svc.CheckIn(ctx, CheckInInput{StudentID: student, BeaconUUID: beacon, Distance: ptr(1.0)})
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, res.Record.SessionID)

	_, err = f.svc.CheckIn(ctx, CheckInInput{StudentID: student, BeaconUUID: otherBeacon})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	f.clk.Advance(6 * time.Minute)
	_, err = f.svc.CheckIn(ctx, CheckInInput{StudentID: "other", BeaconUUID: beacon})
	assert.True(t, apperr.Is(err, apperr.KindSessionClosed))
}

func TestCheckInValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, 5)

	tests := []struct {
		name string
		in   CheckInInput
		kind apperr.Kind
	}{
		{"missing student", CheckInInput{SessionID: s.SessionID, BeaconUUID: beacon}, apperr.KindValidation},
		{"missing beacon", CheckInInput{SessionID: s.SessionID, StudentID: student}, apperr.KindValidation},
		{"negative distance", CheckInInput{SessionID: s.SessionID, StudentID: student, BeaconUUID: beacon, Distance: ptr(-1.0)}, apperr.KindValidation},
		{"nan distance", CheckInInput{SessionID: s.SessionID, StudentID: student, BeaconUUID: beacon, Distance: ptr(math.NaN())}, apperr.KindValidation},
		{"unknown session", CheckInInput{SessionID: "nope", StudentID: student, BeaconUUID: beacon}, apperr.KindNotFound},
		{"malformed beacon without session", CheckInInput{StudentID: student, BeaconUUID: "xyz"}, apperr.KindValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CheckIn(ctx, tc.in)
			assert.True(t, apperr.Is(err, tc.kind), "got %v", err)
		})
	}
}

func TestConcurrentCheckInsStoreOneRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, 5)

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.CheckIn(ctx, CheckInInput{SessionID: s.SessionID, StudentID: student, BeaconUUID: beacon, Distance: ptr(1.0)})
			if err == nil {
				ids[i] = res.Record.AttendanceID
			}
		}(i)
	}
	wg.Wait()

	records, err := f.svc.BySession(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	for _, id := range ids {
		assert.Equal(t, records[0].AttendanceID, id)
	}
}

func TestCloseRacesCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, 5)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CheckIn(ctx, CheckInInput{
				SessionID:  s.SessionID,
				StudentID:  string(rune('A' + i)),
				BeaconUUID: beacon,
			})
			if err != nil {
				assert.True(t, apperr.Is(err, apperr.KindSessionClosed), "got %v", err)
			}
		}(i)
	}
	closed, err := f.sessions.Close(ctx, s.SessionID)
	require.NoError(t, err)
	wg.Wait()

	records, err := f.svc.BySession(ctx, s.SessionID)
	require.NoError(t, err)
	for _, r := range records {
		assert.False(t, r.Timestamp.After(*closed.ClosedAt))
	}
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, 5)

	for _, id := range []string{"S1", "S2"} {
		_, err := f.svc.CheckIn(ctx, CheckInInput{SessionID: s.SessionID, StudentID: id, BeaconUUID: beacon})
		require.NoError(t, err)
	}

	byStudent, err := f.svc.ByStudent(ctx, "S2")
	require.NoError(t, err)
	require.Len(t, byStudent, 1)
	assert.Equal(t, "S2", byStudent[0].StudentID)

	all, err := f.svc.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "S1", all[0].StudentID)
	assert.Equal(t, "S2", all[1].StudentID)

	_, err = f.svc.BySession(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.ByStudent(ctx, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
