package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconattend/internal/apperr"
	"beaconattend/internal/clock"
	"beaconattend/internal/metrics"
)

const (
	beaconA = "D001A2B6-AA1F-4860-9E43-FC83C418FC58"
	beaconB = "B234C5D7-BB2F-4961-8F54-AD94D529AD69"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newManager(t *testing.T, policy ConflictPolicy) (*Manager, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(t0)
	m := NewManager(NewMemoryStore(), Options{
		DefaultWindowMinutes: 5,
		Policy:               policy,
		Clock:                clk,
		Metrics:              metrics.New(prometheus.NewRegistry()),
	})
	return m, clk
}

func des424(beacon string) CreateInput {
	return CreateInput{
		ClassID:    "DES424",
		ClassName:  "Cloud-based Application Development",
		RoomID:     "BKD3507",
		TeacherID:  "T001",
		BeaconUUID: beacon,
	}
}

func TestCreateSession(t *testing.T) {
	m, _ := newManager(t, PolicyReject)
	ctx := context.Background()

	in := des424(strings.ToLower(beaconA))
	in.WindowMinutes = 10
	s, err := m.Create(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, "DES424-2026-03-02T09-00-00", s.SessionID)
	assert.Equal(t, StatusOpen, s.Status)
	assert.Equal(t, beaconA, s.BeaconUUID)
	assert.Equal(t, t0, s.StartTime)
	assert.Equal(t, t0.Add(10*time.Minute), s.EndTime)
	assert.Equal(t, 10*time.Minute, s.Window())
}

func TestCreateSessionDefaultWindow(t *testing.T) {
	m, _ := newManager(t, PolicyReject)
	s, err := m.Create(context.Background(), des424(beaconA))
	require.NoError(t, err)
	assert.Equal(t, 5, s.WindowMinutes)
	assert.Equal(t, t0.Add(5*time.Minute), s.EndTime)
}

func TestCreateSessionValidation(t *testing.T) {
	m, _ := newManager(t, PolicyReject)
	ctx := context.Background()

	tests := []struct {
		name string
		edit func(*CreateInput)
	}{
		{"missing class", func(in *CreateInput) { in.ClassID = "" }},
		{"missing room", func(in *CreateInput) { in.RoomID = "" }},
		{"missing teacher", func(in *CreateInput) { in.TeacherID = "" }},
		{"missing beacon", func(in *CreateInput) { in.BeaconUUID = "" }},
		{"malformed beacon", func(in *CreateInput) { in.BeaconUUID = "not-a-uuid" }},
		{"window too long", func(in *CreateInput) { in.WindowMinutes = 61 }},
		{"negative window", func(in *CreateInput) { in.WindowMinutes = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := des424(beaconA)
			tc.edit(&in)
			_, err := m.Create(ctx, in)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateRejectsOpenRoom(t *testing.T) {
	m, _ := newManager(t, PolicyReject)
	ctx := context.Background()

	first, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	_, err = m.Create(ctx, des424(beaconB))
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

	got, err := m.Status(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestCreateRejectsBeaconInUse(t *testing.T) {
	m, _ := newManager(t, PolicyReject)
	ctx := context.Background()

	_, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	other := des424(beaconA)
	other.ClassID = "DES321"
	other.RoomID = "BKD3508"
	_, err = m.Create(ctx, other)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
}

func TestCreateReplacesOpenRoom(t *testing.T) {
	m, clk := newManager(t, PolicyReplace)
	ctx := context.Background()

	first, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	second, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	old, err := m.Status(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, old.Status)
	require.NotNil(t, old.ClosedAt)

	active, err := m.Active(ctx, Filter{ClassID: "DES424", RoomID: "BKD3507"})
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.SessionID, active.SessionID)
}

func TestCreateAfterExpirySucceeds(t *testing.T) {
	m, clk := newManager(t, PolicyReject)
	ctx := context.Background()

	first, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	clk.Advance(6 * time.Minute)
	second, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	old, err := m.Status(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, old.Status)
	assert.Equal(t, StatusOpen, second.Status)
}

func TestCreateSameSecondGetsDistinctID(t *testing.T) {
	m, _ := newManager(t, PolicyReject)
	ctx := context.Background()

	a, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)
	_, err = m.Close(ctx, a.SessionID)
	require.NoError(t, err)

	b, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.True(t, strings.HasPrefix(b.SessionID, a.SessionID+"-"))
}

func TestStatusExpiresLazily(t *testing.T) {
	m, clk := newManager(t, PolicyReject)
	ctx := context.Background()

	s, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	got, err := m.Status(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status, "end time is inclusive")

	clk.Advance(time.Second)
	got, err = m.Status(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	active, err := m.Active(ctx, Filter{})
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStatusUnknownSession(t *testing.T) {
	m, _ := newManager(t, PolicyReject)
	_, err := m.Status(context.Background(), "NOPE-2026-01-01T00-00-00")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestClose(t *testing.T) {
	m, clk := newManager(t, PolicyReject)
	ctx := context.Background()

	s, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	closed, err := m.Close(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, t0.Add(2*time.Minute), *closed.ClosedAt)

	clk.Advance(time.Minute)
	again, err := m.Close(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, *closed.ClosedAt, *again.ClosedAt, "second close is a no-op")

	_, err = m.Close(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCloseExpiredSessionReportsExpired(t *testing.T) {
	m, clk := newManager(t, PolicyReject)
	ctx := context.Background()

	s, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	clk.Advance(6 * time.Minute)
	got, err := m.Close(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Nil(t, got.ClosedAt)
}

func TestActiveFilter(t *testing.T) {
	m, clk := newManager(t, PolicyReject)
	ctx := context.Background()

	_, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	clk.Advance(time.Second)
	other := des424(beaconB)
	other.ClassID = "DES321"
	other.RoomID = "BKD3508"
	other.TeacherID = "T002"
	second, err := m.Create(ctx, other)
	require.NoError(t, err)

	latest, err := m.Active(ctx, Filter{})
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.SessionID, latest.SessionID)

	byTeacher, err := m.Active(ctx, Filter{TeacherID: "T001"})
	require.NoError(t, err)
	require.NotNil(t, byTeacher)
	assert.Equal(t, "DES424", byTeacher.ClassID)

	none, err := m.Active(ctx, Filter{RoomID: "NOWHERE"})
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := m.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestByBeacon(t *testing.T) {
	m, clk := newManager(t, PolicyReject)
	ctx := context.Background()

	s, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	got, err := m.ByBeacon(ctx, strings.ToLower(beaconA))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.SessionID, got.SessionID)

	clk.Advance(10 * time.Minute)
	got, err = m.ByBeacon(ctx, beaconA)
	require.NoError(t, err)
	assert.Nil(t, got)

	latest, err := m.LatestByBeacon(ctx, beaconA)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, StatusExpired, latest.Status)

	_, err = m.ByBeacon(ctx, "garbage")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	none, err := m.ByBeacon(ctx, beaconB)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSweepExpired(t *testing.T) {
	m, clk := newManager(t, PolicyReject)
	ctx := context.Background()

	s, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(6 * time.Minute)
	n, err = m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := m.store.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)
	assert.Nil(t, stored.ClosedAt)

	n, err = m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentCreateKeepsOneOpenPerRoom(t *testing.T) {
	m, _ := newManager(t, PolicyReject)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Create(ctx, des424(beaconA)); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	open, err := m.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestLockSerializesOneSession(t *testing.T) {
	m, _ := newManager(t, PolicyReject)
	id := "DES424-2026-03-02T09-00-00"

	unlock := m.Lock(id)
	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		m.Lock(id)()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock not acquired after unlock")
	}
}

func TestLockStripesAreBounded(t *testing.T) {
	m, _ := newManager(t, PolicyReject)
	for i := 0; i < 10000; i++ {
		id := fmt.Sprintf("DES424-%d", i)
		require.Less(t, stripe(id), uint32(lockStripes))
		m.Lock(id)()
	}
	assert.Equal(t, stripe("DES424-7"), stripe("DES424-7"))
}
