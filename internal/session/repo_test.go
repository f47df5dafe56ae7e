package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconattend/internal/apperr"
	"beaconattend/internal/clock"
	"beaconattend/internal/store/storetest"
)

func testSession(id, classID, roomID, beacon string, start time.Time) Session {
	return Session{
		SessionID:     id,
		ClassID:       classID,
		RoomID:        roomID,
		TeacherID:     "T001",
		BeaconUUID:    beacon,
		WindowMinutes: 5,
		StartTime:     start,
		EndTime:       start.Add(5 * time.Minute),
		Status:        StatusOpen,
		CreatedAt:     start,
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := NewRepository(storetest.SQLite(t))
	ctx := context.Background()

	s := testSession("DES424-2026-03-02T09-00-00", "DES424", "BKD3507", beaconA, t0)
	s.ClassName = "Cloud-based Application Development"
	require.NoError(t, repo.Insert(ctx, s))

	got, err := repo.Get(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.ClassName, got.ClassName)
	assert.True(t, s.StartTime.Equal(got.StartTime))
	assert.True(t, s.EndTime.Equal(got.EndTime))
	assert.Equal(t, StatusOpen, got.Status)
	assert.Nil(t, got.ClosedAt)

	missing, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryDuplicates(t *testing.T) {
	repo := NewRepository(storetest.SQLite(t))
	ctx := context.Background()

	s := testSession("DES424-a", "DES424", "BKD3507", beaconA, t0)
	require.NoError(t, repo.Insert(ctx, s))
	assert.ErrorIs(t, repo.Insert(ctx, s), ErrDuplicate)

	sameRoom := testSession("DES424-b", "DES424", "BKD3507", beaconB, t0)
	assert.ErrorIs(t, repo.Insert(ctx, sameRoom), ErrDuplicate)

	closedAt := t0.Add(time.Minute)
	require.NoError(t, repo.SetStatus(ctx, s.SessionID, StatusClosed, &closedAt))
	require.NoError(t, repo.Insert(ctx, sameRoom))
}

func TestRepositorySetStatusKeepsClosedAt(t *testing.T) {
	repo := NewRepository(storetest.SQLite(t))
	ctx := context.Background()

	s := testSession("DES424-a", "DES424", "BKD3507", beaconA, t0)
	require.NoError(t, repo.Insert(ctx, s))

	closedAt := t0.Add(2 * time.Minute)
	require.NoError(t, repo.SetStatus(ctx, s.SessionID, StatusClosed, &closedAt))
	require.NoError(t, repo.SetStatus(ctx, s.SessionID, StatusClosed, nil))

	got, err := repo.Get(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, closedAt.Equal(*got.ClosedAt))
}

func TestRepositoryQueries(t *testing.T) {
	repo := NewRepository(storetest.SQLite(t))
	ctx := context.Background()

	a := testSession("DES424-a", "DES424", "BKD3507", beaconA, t0)
	b := testSession("DES321-b", "DES321", "BKD3508", beaconB, t0.Add(time.Minute))
	c := testSession("DES424-c", "DES424", "BKD3509", "d001a2b6-aa1f-4860-9e43-fc83c418fc58", t0.Add(2*time.Minute))
	for _, s := range []Session{a, b, c} {
		require.NoError(t, repo.Insert(ctx, s))
	}
	require.NoError(t, repo.SetStatus(ctx, b.SessionID, StatusExpired, nil))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"DES424-a", "DES321-b", "DES424-c"}, ids(all))

	open, err := repo.ListOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"DES424-a", "DES424-c"}, ids(open))

	room, err := repo.OpenByRoom(ctx, "DES424", "BKD3509")
	require.NoError(t, err)
	assert.Equal(t, []string{"DES424-c"}, ids(room))

	latest, err := repo.LatestByBeacon(ctx, beaconA)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "DES424-c", latest.SessionID)
	assert.Equal(t, beaconA, latest.BeaconUUID)

	none, err := repo.LatestByBeacon(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestManagerOverRepository(t *testing.T) {
	clk := clock.Fake(t0)
	m := NewManager(NewRepository(storetest.SQLite(t)), Options{Clock: clk})
	ctx := context.Background()

	s, err := m.Create(ctx, des424(beaconA))
	require.NoError(t, err)

	_, err = m.Create(ctx, des424(beaconA))
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	clk.Advance(10 * time.Minute)
	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := m.Status(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func ids(ss []Session) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.SessionID)
	}
	return out
}
