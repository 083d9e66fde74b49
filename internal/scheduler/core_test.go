package scheduler

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"recruitflow/internal/domain"
	"recruitflow/internal/store"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))
	return NewCore(store.NewSQLiteStore(db))
}

func TestCreateValidation(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	due := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	var validation *domain.ValidationError

	_, err := core.Create(ctx, domain.ScheduledTask{ScheduledFor: due})
	require.ErrorAs(t, err, &validation)

	_, err = core.Create(ctx, domain.ScheduledTask{TaskType: domain.TypeJobExpiry})
	require.ErrorAs(t, err, &validation)

	_, err = core.Create(ctx, domain.ScheduledTask{TaskType: "mystery", ScheduledFor: due})
	require.ErrorAs(t, err, &validation)

	_, err = core.Create(ctx, domain.ScheduledTask{
		TaskType: domain.TypeJobExpiry, ScheduledFor: due,
		IntervalType: domain.IntervalFixed, IntervalValue: 0,
	})
	require.ErrorAs(t, err, &validation)

	_, err = core.Create(ctx, domain.ScheduledTask{
		TaskType: domain.TypeJobExpiry, ScheduledFor: due,
		IntervalType: domain.IntervalCustom, CustomSchedule: "not a cron",
	})
	require.ErrorAs(t, err, &validation)

	_, err = core.Create(ctx, domain.ScheduledTask{
		TaskType: domain.TypeJobExpiry, ScheduledFor: due,
		Config: []byte(`{"days_threshold":"five"}`),
	})
	require.ErrorAs(t, err, &validation)
}

func TestCreateStartsPending(t *testing.T) {
	core := newTestCore(t)
	due := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	created, err := core.Create(context.Background(), domain.ScheduledTask{
		TaskType:     domain.TypeCandidateContact,
		ScheduledFor: due,
		// caller-supplied status is ignored
		Status: domain.ScheduleRunning,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SchedulePending, created.Status)
	assert.Equal(t, due, created.ScheduledFor)
}

func TestDueTasksOrdering(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for _, tc := range []struct {
		id  string
		due time.Time
	}{
		{"sct_second", now.Add(-time.Hour)},
		{"sct_first", now.Add(-2 * time.Hour)},
		{"sct_future", now.Add(time.Hour)},
	} {
		_, err := core.Create(ctx, domain.ScheduledTask{
			ID: tc.id, TaskType: domain.TypeManual, ScheduledFor: tc.due,
		})
		require.NoError(t, err)
	}

	due, err := core.DueTasks(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "sct_first", due[0].ID)
	assert.Equal(t, "sct_second", due[1].ID)
}

func TestStateMachineTransitions(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	due := time.Now().UTC().Truncate(time.Second)

	created, err := core.Create(ctx, domain.ScheduledTask{TaskType: domain.TypeManual, ScheduledFor: due})
	require.NoError(t, err)

	var conflict *domain.ConflictError

	// only running tasks may complete or fail
	_, err = core.Complete(ctx, created.ID)
	require.ErrorAs(t, err, &conflict)
	_, err = core.Fail(ctx, created.ID)
	require.ErrorAs(t, err, &conflict)

	started, err := core.Start(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleRunning, started.Status)

	// a running task cannot start again
	_, err = core.Start(ctx, created.ID)
	require.ErrorAs(t, err, &conflict)

	done, err := core.Complete(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleCompleted, done.Status)

	// terminal
	_, err = core.Start(ctx, created.ID)
	require.ErrorAs(t, err, &conflict)
}

func TestFailedStaysFailed(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	created, err := core.Create(ctx, domain.ScheduledTask{
		TaskType: domain.TypeManual, ScheduledFor: time.Now().UTC().Truncate(time.Second),
	})
	require.NoError(t, err)
	_, err = core.Start(ctx, created.ID)
	require.NoError(t, err)

	failed, err := core.Fail(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleFailed, failed.Status)

	// no auto-retry here: the task stays failed
	got, err := core.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleFailed, got.Status)
}

func TestCancel(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	due := time.Now().UTC().Truncate(time.Second)

	pending, err := core.Create(ctx, domain.ScheduledTask{TaskType: domain.TypeManual, ScheduledFor: due})
	require.NoError(t, err)
	cancelled, err := core.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleCancelled, cancelled.Status)

	running, err := core.Create(ctx, domain.ScheduledTask{TaskType: domain.TypeManual, ScheduledFor: due})
	require.NoError(t, err)
	_, err = core.Start(ctx, running.ID)
	require.NoError(t, err)

	var conflict *domain.ConflictError
	_, err = core.Cancel(ctx, running.ID)
	require.ErrorAs(t, err, &conflict)

	// state unchanged after the rejected cancel
	got, err := core.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleRunning, got.Status)
}

// staleReadStore replays a snapshot taken before the task started, so
// the cancel path can pass its status check against a row that has
// already moved on.
type staleReadStore struct {
	store.Store
	snapshot domain.ScheduledTask
}

func (s *staleReadStore) GetScheduledTask(ctx context.Context, id string) (domain.ScheduledTask, error) {
	return s.snapshot, nil
}

func TestCancelRacingStartCannotOverwriteRunning(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))
	st := store.NewSQLiteStore(db)

	ctx := context.Background()
	core := NewCore(st)
	created, err := core.Create(ctx, domain.ScheduledTask{
		TaskType:     domain.TypeManual,
		ScheduledFor: time.Now().UTC().Truncate(time.Second),
	})
	require.NoError(t, err)

	// the cancel request reads the task while it is still pending,
	// then a dispatcher pass starts it before the cancel writes
	_, err = core.Start(ctx, created.ID)
	require.NoError(t, err)

	var conflict *domain.ConflictError
	_, err = NewCore(&staleReadStore{Store: st, snapshot: created}).Cancel(ctx, created.ID)
	require.ErrorAs(t, err, &conflict)

	got, err := core.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleRunning, got.Status)
}

func TestRecurrenceAdvancesFromPreviousDueTime(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	// due well in the past so "previous + interval" and "now + interval"
	// diverge visibly
	prev := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Second)

	created, err := core.Create(ctx, domain.ScheduledTask{
		TaskType:      domain.TypeCandidateContact,
		ScheduledFor:  prev,
		IntervalType:  domain.IntervalFixed,
		IntervalValue: 1,
		IntervalUnit:  domain.UnitDay,
	})
	require.NoError(t, err)

	_, err = core.Start(ctx, created.ID)
	require.NoError(t, err)
	next, err := core.Complete(ctx, created.ID)
	require.NoError(t, err)

	// back to pending on the same row, advanced exactly one day
	assert.Equal(t, domain.SchedulePending, next.Status)
	assert.Equal(t, prev.AddDate(0, 0, 1), next.ScheduledFor)
	assert.Equal(t, created.ID, next.ID)

	all, err := core.List(ctx, store.ScheduleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "recurrence must not create a second row")
}

func TestRecurrenceCustomCron(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	prev := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	created, err := core.Create(ctx, domain.ScheduledTask{
		TaskType:       domain.TypeReminderDispatch,
		ScheduledFor:   prev,
		IntervalType:   domain.IntervalCustom,
		CustomSchedule: "0 9 * * *",
	})
	require.NoError(t, err)

	_, err = core.Start(ctx, created.ID)
	require.NoError(t, err)
	next, err := core.Complete(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.SchedulePending, next.Status)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), next.ScheduledFor)
}

func TestNextOccurrenceUnits(t *testing.T) {
	from := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		unit  domain.IntervalUnit
		value int
		want  time.Time
	}{
		{domain.UnitMinute, 30, from.Add(30 * time.Minute)},
		{domain.UnitHour, 6, from.Add(6 * time.Hour)},
		{domain.UnitDay, 1, time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)},
		{domain.UnitWeek, 2, from.AddDate(0, 0, 14)},
		{domain.UnitMonth, 1, from.AddDate(0, 1, 0)},
	} {
		got, err := NextOccurrence(domain.ScheduledTask{
			ScheduledFor:  from,
			IntervalType:  domain.IntervalFixed,
			IntervalValue: tc.value,
			IntervalUnit:  tc.unit,
		})
		require.NoError(t, err, string(tc.unit))
		assert.Equal(t, tc.want, got, string(tc.unit))
	}
}
